// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/oslandia/deeposlandia/pkg/training/callbacks"
)

var (
	// TitleStyle is used for the titles printed above tables.
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	tableBorderColor = "#705090"
)

// NewTable creates a table with alternating row styles. Columns are aligned according to
// alignments, the last one being used for any extra column. Default is right-aligned.
func NewTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			style := oddRowStyle
			if row%2 == 1 {
				style = evenRowStyle
			}
			alignment := lipgloss.Right
			if len(alignments) > 0 {
				alignment = alignments[min(col, len(alignments)-1)]
			}
			return style.Align(alignment)
		})
}

// PrintHistory prints a table with the metrics of each epoch of the history: one row per epoch,
// one column per metric. Metrics missing in an epoch are printed as "NA".
func PrintHistory(w io.Writer, history *training.History) error {
	if history == nil || history.Len() == 0 {
		_, err := fmt.Fprintln(w, "Training history: no epochs run.")
		return err
	}
	keys := history.Keys()
	t := NewTable().Headers(append([]string{callbacks.EpochColumn}, keys...)...)
	for ii, epoch := range history.Epochs {
		row := make([]string, 0, len(keys)+1)
		row = append(row, strconv.Itoa(epoch))
		for _, key := range keys {
			value, found := history.Logs[ii].Get(key)
			if !found {
				row = append(row, callbacks.MissingValue)
				continue
			}
			row = append(row, FormatValue(value))
		}
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// ReportEval evaluates the model on each of the datasets and prints the results.
// Each dataset is reset after its evaluation. It returns the logs of each evaluation.
func ReportEval(w io.Writer, model training.Model, datasets ...train.Dataset) ([]training.Logs, error) {
	results := make([]training.Logs, 0, len(datasets))
	for _, ds := range datasets {
		logs, err := model.Evaluate(ds)
		if err != nil {
			return nil, err
		}
		ds.Reset()
		if _, err = fmt.Fprintf(w, "Results on %s:\n", ds.Name()); err != nil {
			return nil, err
		}
		for _, key := range logs.Keys() {
			if _, err = fmt.Fprintf(w, "\t%s: %s\n", key, FormatValue(logs[key])); err != nil {
				return nil, err
			}
		}
		results = append(results, logs)
	}
	return results, nil
}
