// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/schollz/progressbar/v3"
)

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "deeposlandia.ui.commandline.progressBar"

// RefreshPeriod is the minimum time between updates of the metrics displayed along the bar.
var RefreshPeriod = time.Millisecond * 200

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBar displays, for each epoch, a progress bar of the training batches followed by the
// batch metrics, and at the end of the epoch a line with the epoch (and validation) metrics.
type ProgressBar struct {
	out        io.Writer
	bar        *progressbar.ProgressBar
	suffix     string
	lastUpdate time.Time
	totalSteps int
}

// Write implements io.Writer, and appends the current suffix with metrics to each
// line. It is meant to be used as the writer of the enclosed progressbar.ProgressBar,
// so the bar and its suffix are written in the same write operation.
func (pBar *ProgressBar) Write(data []byte) (n int, err error) {
	n, err = pBar.out.Write(data)
	if err != nil {
		return n, err
	}
	_, err = io.WriteString(pBar.out, pBar.suffix)
	if err != nil {
		return 0, err
	}
	return
}

// TotalSteps returns the number of training steps displayed so far.
func (pBar *ProgressBar) TotalSteps() int { return pBar.totalSteps }

func (pBar *ProgressBar) onEpochBegin(loop *training.Loop, epoch int) error {
	_, err := fmt.Fprintf(pBar.out, "Epoch %d/%d\n", epoch+1, loop.Epochs)
	if err != nil {
		return err
	}
	pBar.suffix = ""
	pBar.lastUpdate = time.Time{}
	pBar.bar = progressbar.NewOptions(loop.StepsPerEpoch,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	return nil
}

func (pBar *ProgressBar) onBatchEnd(_ *training.Loop, _ int, logs training.Logs) error {
	pBar.totalSteps++
	if pBar.bar == nil || pBar.bar.IsFinished() {
		return nil
	}
	if now := time.Now(); now.Sub(pBar.lastUpdate) >= RefreshPeriod {
		// "\033[J" erases spurious characters from previous prints.
		pBar.suffix = " " + formatLogs(logs) + "\033[J"
		pBar.lastUpdate = now
	}
	return pBar.bar.Add(1)
}

func (pBar *ProgressBar) onEpochEnd(loop *training.Loop, _ int, logs training.Logs) error {
	if pBar.bar != nil && !pBar.bar.IsFinished() {
		if err := pBar.bar.Finish(); err != nil {
			return err
		}
	}
	pBar.bar = nil
	pBar.suffix = ""
	_, err := fmt.Fprintf(pBar.out, "\n      %s steps - %s/step - %s\n",
		humanize.Comma(int64(loop.StepsPerEpoch)), FormatDuration(loop.MedianTrainStepDuration()), formatLogs(logs))
	return err
}

// formatLogs formats the metrics of logs sorted by name, as "name: value" separated by " - ".
func formatLogs(logs training.Logs) string {
	keys := logs.Keys()
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, FormatValue(logs[key])))
	}
	return strings.Join(parts, " - ")
}

// AttachProgressBar creates a command-line progress bar writing to out and attaches it to the loop,
// so that every epoch run displays its progression and metrics.
func AttachProgressBar(loop *training.Loop, out io.Writer) *ProgressBar {
	pBar := &ProgressBar{out: out}
	loop.OnEpochBegin(ProgressBarName, 0, pBar.onEpochBegin)
	loop.OnBatchEnd(ProgressBarName, 0, pBar.onBatchEnd)
	loop.OnEpochEnd(ProgressBarName, 0, pBar.onEpochEnd)
	return pBar
}
