// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package callbacks

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// EpochColumn is the first column of the metrics CSV file, with the 0-based epoch.
	EpochColumn = "epoch"

	// MissingValue is written for metrics not reported in an epoch.
	MissingValue = "NA"

	// MetricsFileName is the name of the metrics CSV file within the output folder of a run.
	MetricsFileName = "training_metrics.csv"
)

// CSVLogger writes the metrics of each epoch as a row of a CSV file.
//
// The first column is EpochColumn, followed by the metrics sorted by name. When resuming training
// (InitialEpoch > 0), the rows of previously trained epochs are kept, and the rows of epochs that
// are going to be trained again are dropped.
type CSVLogger struct {
	path      string
	separator rune

	header []string
	file   *os.File
	writer *csv.Writer

	// RowsKept is the number of rows of a previous run kept when training started.
	RowsKept int
}

// NewCSVLogger creates a CSVLogger writing to path, with "," as separator.
func NewCSVLogger(path string) *CSVLogger {
	return &CSVLogger{path: path, separator: ','}
}

// WithSeparator changes the column separator.
func (l *CSVLogger) WithSeparator(separator rune) *CSVLogger {
	l.separator = separator
	return l
}

// Path of the CSV file.
func (l *CSVLogger) Path() string { return l.path }

// Attach the CSVLogger to the loop.
func (l *CSVLogger) Attach(loop *training.Loop) {
	loop.OnTrainBegin("CSVLogger", PriorityCSVLogger, l.onTrainBegin)
	loop.OnEpochEnd("CSVLogger", PriorityCSVLogger, l.onEpochEnd)
	loop.OnTrainEnd("CSVLogger", PriorityCSVLogger, func(_ *training.Loop, _ *training.History) error {
		return l.Close()
	})
}

func (l *CSVLogger) onTrainBegin(loop *training.Loop) error {
	if err := l.Close(); err != nil {
		return err
	}
	var previous [][]string
	if loop.InitialEpoch > 0 {
		var err error
		previous, err = ReadPreviousRows(l.path, loop.InitialEpoch, l.separator)
		if err != nil {
			return err
		}
	}
	f, err := os.Create(l.path)
	if err != nil {
		return errors.Wrapf(err, "creating metrics file %q", l.path)
	}
	l.file = f
	l.writer = csv.NewWriter(f)
	l.writer.Comma = l.separator
	l.header = nil
	l.RowsKept = 0
	if len(previous) > 0 {
		l.header = previous[0]
		l.RowsKept = len(previous) - 1
		if err := l.writer.WriteAll(previous); err != nil {
			return errors.Wrapf(err, "rewriting previous metrics to %q", l.path)
		}
		klog.V(1).Infof("kept %d epochs of metrics from previous runs in %q", l.RowsKept, l.path)
	}
	return nil
}

func (l *CSVLogger) onEpochEnd(_ *training.Loop, epoch int, logs training.Logs) error {
	if l.writer == nil {
		return errors.Errorf("CSVLogger for %q was not started", l.path)
	}
	if l.header == nil {
		l.header = append([]string{EpochColumn}, logs.Keys()...)
		if err := l.writer.Write(l.header); err != nil {
			return errors.Wrapf(err, "writing header to %q", l.path)
		}
	}
	row := make([]string, len(l.header))
	row[0] = strconv.Itoa(epoch)
	for ii, key := range l.header[1:] {
		value, found := logs.Get(key)
		if !found {
			row[ii+1] = MissingValue
			continue
		}
		row[ii+1] = strconv.FormatFloat(value, 'g', -1, 64)
	}
	if err := l.writer.Write(row); err != nil {
		return errors.Wrapf(err, "writing epoch %d to %q", epoch, l.path)
	}
	l.writer.Flush()
	return errors.Wrapf(l.writer.Error(), "flushing %q", l.path)
}

// Close flushes and closes the CSV file. It is a no-op if the file is not open.
func (l *CSVLogger) Close() error {
	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	err := l.writer.Error()
	if closeErr := l.file.Close(); err == nil {
		err = closeErr
	}
	l.file, l.writer = nil, nil
	return errors.Wrapf(err, "closing %q", l.path)
}

// readMetrics loads the metrics CSV file at path with gota. It returns found=false if the file doesn't
// exist or is empty. Columns in floatColumns are parsed as floats, with unparseable values (MissingValue)
// as NaN. Other columns are kept verbatim as strings.
func readMetrics(path string, separator rune, floatColumns ...string) (df dataframe.DataFrame, found bool, err error) {
	exists, err := fsutil.FileExists(path)
	if err != nil || !exists {
		return df, false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return df, false, errors.Wrapf(err, "opening metrics file %q", path)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return df, false, errors.Wrapf(err, "reading metrics file %q", path)
	}
	if info.Size() == 0 {
		return df, false, nil
	}
	types := map[string]series.Type{EpochColumn: series.Int}
	for _, column := range floatColumns {
		types[column] = series.Float
	}
	df = dataframe.ReadCSV(f,
		dataframe.WithDelimiter(separator),
		dataframe.DetectTypes(false),
		dataframe.WithTypes(types),
		dataframe.NaNValues(nil))
	if df.Err != nil {
		return df, false, errors.Wrapf(df.Err, "parsing metrics file %q", path)
	}
	if !hasColumn(df, EpochColumn) {
		return df, false, errors.Errorf("metrics file %q has no %q column", path, EpochColumn)
	}
	return df, true, nil
}

func hasColumn(df dataframe.DataFrame, column string) bool {
	for _, name := range df.Names() {
		if name == column {
			return true
		}
	}
	return false
}

// ReadPreviousRows returns the header and the rows of the metrics CSV file at path with an epoch
// lower than beforeEpoch. It returns nil if the file doesn't exist.
func ReadPreviousRows(path string, beforeEpoch int, separator rune) ([][]string, error) {
	df, found, err := readMetrics(path, separator)
	if err != nil || !found {
		return nil, err
	}
	df = df.Filter(dataframe.F{Colname: EpochColumn, Comparator: series.Less, Comparando: beforeEpoch})
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "filtering metrics of %q", path)
	}
	return df.Records(), nil
}

// BestFromCSV returns the best value of the monitored metric, according to mode, among the epochs
// lower than beforeEpoch in the metrics CSV file at path. It returns NaN if the file or the metric
// doesn't exist, or if no value is available.
func BestFromCSV(path, monitor string, mode Mode, beforeEpoch int, separator rune) (float64, error) {
	df, found, err := readMetrics(path, separator, monitor)
	if err != nil || !found || !hasColumn(df, monitor) {
		return math.NaN(), err
	}
	epochs, err := df.Col(EpochColumn).Int()
	if err != nil {
		return math.NaN(), errors.Wrapf(err, "parsing epochs of %q", path)
	}
	mode = mode.resolve(monitor)
	best := math.NaN()
	for ii, value := range df.Col(monitor).Float() {
		if epochs[ii] >= beforeEpoch || math.IsNaN(value) {
			continue
		}
		if math.IsNaN(best) || mode.improved(value, best, 0) {
			best = value
		}
	}
	return best, nil
}

// ReadHistory reads the metrics CSV file at path back into a training.History, with the epochs in
// file order. Missing values are left out of the epoch logs. It returns an empty history if the
// file doesn't exist.
func ReadHistory(path string, separator rune) (*training.History, error) {
	history := &training.History{}
	df, found, err := readMetrics(path, separator)
	if err != nil || !found {
		return history, err
	}
	epochs, err := df.Col(EpochColumn).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "parsing epochs of %q", path)
	}
	records := df.Records()
	header := records[0]
	for ii, row := range records[1:] {
		logs := make(training.Logs, len(header)-1)
		for col, key := range header {
			if key == EpochColumn || row[col] == MissingValue {
				continue
			}
			value, err := strconv.ParseFloat(row[col], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %q of epoch %d in %q", key, epochs[ii], path)
			}
			logs[key] = value
		}
		history.Append(epochs[ii], logs)
	}
	return history, nil
}
