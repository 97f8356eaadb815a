// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/must"
	"github.com/oslandia/deeposlandia/pkg/runinfo"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/oslandia/deeposlandia/pkg/training/callbacks"
	"github.com/oslandia/deeposlandia/ui/commandline"
	"github.com/oslandia/deeposlandia/ui/plots"
	"k8s.io/klog/v2"
)

// Manifest prints the manifest of the last training invocation in outputDir.
func Manifest(outputDir string) {
	m := must.M1(runinfo.Load(outputDir))
	fmt.Println(commandline.TitleStyle.Render("Run manifest"))
	table := commandline.NewTable(lipgloss.Right, lipgloss.Left)
	table.Row("session", m.SessionID)
	table.Row("run", m.RunIdentity)
	table.Row("dataset", m.Config.Dataset)
	table.Row("model", m.Config.Model)
	table.Row("status", m.Status)
	table.Row("started", m.StartTime.Format(time.DateTime))
	if m.EndTime != nil {
		table.Row("duration", commandline.FormatDuration(m.EndTime.Sub(m.StartTime)))
	}
	if m.Checkpoint != "" {
		table.Row("resumed from", m.Checkpoint)
	}
	table.Row("initial epoch", fmt.Sprint(m.InitialEpoch))
	table.Row("epochs run", fmt.Sprint(m.EpochsRun))
	if len(m.LastLogs) > 0 {
		table.Row("last metrics", m.LastLogs.String())
	}
	if m.Error != "" {
		table.Row("error", m.Error)
	}
	fmt.Println(table.Render())
}

// filterHistory returns a copy of history with only the given metrics. If names is empty, history
// is returned as is.
func filterHistory(history *training.History, names []string) *training.History {
	if len(names) == 0 {
		return history
	}
	filtered := &training.History{Params: history.Params}
	for ii, epoch := range history.Epochs {
		logs := make(training.Logs)
		for _, name := range names {
			if value, found := history.Logs[ii].Get(name); found {
				logs[name] = value
			}
		}
		filtered.Append(epoch, logs)
	}
	return filtered
}

func readHistory(outputDir string) *training.History {
	path := filepath.Join(outputDir, callbacks.MetricsFileName)
	history := must.M1(callbacks.ReadHistory(path, ','))
	if history.Len() == 0 {
		klog.Errorf("No metrics found in %q", path)
	}
	return history
}

// Metrics prints a table of the metrics logged at each epoch. metricsNames is an optional
// comma-separated list of the metrics to include.
func Metrics(outputDir, metricsNames string) {
	history := readHistory(outputDir)
	var names []string
	if metricsNames != "" {
		names = strings.Split(metricsNames, ",")
	}
	fmt.Println(commandline.TitleStyle.Render("Metrics"))
	must.M(commandline.PrintHistory(os.Stdout, filterHistory(history, names)))
}

// Plot the metrics logged at each epoch into a PNG file.
func Plot(outputDir, pngPath string) {
	must.M(plots.SavePNG(readHistory(outputDir), pngPath))
	fmt.Printf("Metrics plotted in %s\n", pngPath)
}
