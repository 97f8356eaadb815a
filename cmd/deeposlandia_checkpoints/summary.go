// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"github.com/oslandia/deeposlandia/pkg/models"
	"github.com/oslandia/deeposlandia/ui/commandline"
)

// inScope returns whether varScope is scope or one of its sub-scopes.
func inScope(scope, varScope string) bool {
	if scope == "" || scope == context.RootScope {
		return true
	}
	return varScope == scope || strings.HasPrefix(varScope, scope+context.ScopeSeparator)
}

// checkpointStats summarizes the variables of a checkpoint.
type checkpointStats struct {
	numVars, numParams int
	memory             uintptr

	hasGlobalStep bool
	globalStep    int64
}

// statsOf the variables (indexed by parameter name) under scope.
func statsOf(values map[string]*tensors.Tensor, scope string) (stats checkpointStats) {
	// The optimizers keep the global step either at the root scope or under their own scope.
	for _, globalStepScope := range []string{context.RootScope, context.RootScope + optimizers.Scope} {
		globalStepName := context.VariableParameterNameFromScopeAndName(globalStepScope, optimizers.GlobalStepVariableName)
		if globalStep, found := values[globalStepName]; found {
			stats.hasGlobalStep = true
			stats.globalStep = tensors.ToScalar[int64](globalStep)
			break
		}
	}
	for name, value := range values {
		varScope, _ := context.VariableScopeAndNameFromParameterName(name)
		if !inScope(scope, varScope) {
			continue
		}
		stats.numVars++
		stats.numParams += value.Shape().Size()
		stats.memory += value.Shape().Memory()
	}
	return
}

// Summary prints a table with one column per checkpoint: its epoch, the global step and the sizes
// of the variables under scope.
func Summary(outputDir string, names []string, scope string) {
	fmt.Println(commandline.TitleStyle.Render("Summary"))
	table := commandline.NewTable(lipgloss.Right, lipgloss.Left)
	table.Row(append([]string{"checkpoint"}, names...)...)
	epochRow := []string{"epoch"}
	globalStepRow := []string{"global_step"}
	variablesRow := []string{"# variables"}
	parametersRow := []string{"# parameters"}
	memoryRow := []string{"# bytes"}
	for _, name := range names {
		epoch := must.M1(checkpoints.ParseEpoch(name))
		stats := statsOf(must.M1(models.ReadVariables(filepath.Join(outputDir, name))), scope)
		epochRow = append(epochRow, strconv.Itoa(epoch))
		if stats.hasGlobalStep {
			globalStepRow = append(globalStepRow, humanize.Comma(stats.globalStep))
		} else {
			globalStepRow = append(globalStepRow, "")
		}
		variablesRow = append(variablesRow, humanize.Comma(int64(stats.numVars)))
		parametersRow = append(parametersRow, humanize.Comma(int64(stats.numParams)))
		memoryRow = append(memoryRow, humanize.Bytes(uint64(stats.memory)))
	}
	table.Row("scope", scope)
	table.Row(epochRow...)
	table.Row(globalStepRow...)
	table.Row(variablesRow...)
	table.Row(parametersRow...)
	table.Row(memoryRow...)
	fmt.Println(table.Render())
}
