// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/oslandia/deeposlandia/pkg/models"
	"github.com/oslandia/deeposlandia/ui/commandline"
)

// ListVariables lists the variables under scope of the checkpoint at path, with their shape,
// MAV (mean absolute value), RMS (root-mean-square) and MaxAV (max absolute value).
func ListVariables(path, scope string) {
	values := must.M1(models.ReadVariables(path))
	fmt.Println(commandline.TitleStyle.Render(fmt.Sprintf("Variables in scope %q of %s", scope, path)))
	statsExec := MustNewExec(backends.MustNew(), func(x *Node) (mav, rms, maxAV *Node) {
		x = ConvertDType(x, dtypes.Float64)
		mav = ReduceAllMean(Abs(x))
		rms = Sqrt(ReduceAllMean(Square(x)))
		maxAV = ReduceAllMax(Abs(x))
		return
	})
	table := commandline.NewTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "Scalar/MAV", "RMS", "MaxAV")
	for _, paramName := range slices.Sorted(maps.Keys(values)) {
		varScope, name := context.VariableScopeAndNameFromParameterName(paramName)
		if !inScope(scope, varScope) {
			continue
		}
		value := values[paramName]
		shape := value.Shape()
		var mav, rms, maxAV string
		if shape.Size() == 1 {
			mav = fmt.Sprintf("%8v", value.Value())
		} else if shape.DType.IsFloat() {
			mavT, rmsT, maxAVT := must.M3(statsExec.Exec3(value))
			mav = fmt.Sprintf("%.3g", shapes.ConvertTo[float64](mavT.Value()))
			rms = fmt.Sprintf("%.3g", shapes.ConvertTo[float64](rmsT.Value()))
			maxAV = fmt.Sprintf("%.3g", shapes.ConvertTo[float64](maxAVT.Value()))
		}
		table.Row(varScope, name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			mav, rms, maxAV)
	}
	fmt.Println(table.Render())
}

// DeleteVars deletes from the checkpoint at path the variables under the given scopes, and returns
// the number of variables deleted. The checkpoint is only rewritten if something was deleted.
func DeleteVars(path string, scopes ...string) (int, error) {
	values, err := models.ReadVariables(path)
	if err != nil {
		return 0, err
	}
	var numDeleted int
	for paramName := range values {
		varScope, _ := context.VariableScopeAndNameFromParameterName(paramName)
		for _, scope := range scopes {
			if scope == "" || !inScope(scope, varScope) {
				continue
			}
			delete(values, paramName)
			numDeleted++
			break
		}
	}
	if numDeleted == 0 {
		return 0, nil
	}
	return numDeleted, models.WriteVariables(path, values)
}
