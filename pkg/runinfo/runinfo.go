// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package runinfo records a manifest of each training invocation in the output directory of the run.
package runinfo

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"github.com/oslandia/deeposlandia/pkg/config"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileName of the manifest within the output directory.
const FileName = "run.json"

// Status of the run recorded in the manifest.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Manifest describes an invocation of the training: its configuration, from where it resumed and,
// once finished, how it ended.
type Manifest struct {
	// SessionID is a random UUID identifying this invocation.
	SessionID string `json:"session_id"`

	// RunIdentity namespaces the outputs of the run, see config.Config.RunIdentity.
	RunIdentity string `json:"run_identity"`

	Config *config.Config `json:"config"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Checkpoint resumed from, empty if training started from scratch.
	Checkpoint   string `json:"checkpoint,omitempty"`
	InitialEpoch int    `json:"initial_epoch"`

	NumLabels       int `json:"num_labels"`
	StepsPerEpoch   int `json:"steps_per_epoch"`
	ValidationSteps int `json:"validation_steps"`

	Status string `json:"status"`

	// EpochsRun and LastLogs are set when the training finishes. Non-finite values are left
	// out of LastLogs.
	EpochsRun int           `json:"epochs_run"`
	LastLogs  training.Logs `json:"last_logs,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// New creates the manifest of a run starting now, with a new session id.
func New(cfg *config.Config, state checkpoints.State) *Manifest {
	m := &Manifest{
		SessionID:    uuid.NewString(),
		RunIdentity:  cfg.RunIdentity(),
		Config:       cfg,
		StartTime:    time.Now(),
		InitialEpoch: state.InitialEpoch,
		Status:       StatusRunning,
	}
	if state.Found {
		m.Checkpoint = state.Path
	}
	return m
}

// Finish records the end of the training: the epochs run and the logs of the last one, or the
// error that interrupted it. stopped tells whether a callback stopped the training early.
func (m *Manifest) Finish(history *training.History, stopped bool, err error) {
	now := time.Now()
	m.EndTime = &now
	switch {
	case err != nil:
		m.Status = StatusFailed
		m.Error = err.Error()
	case stopped:
		m.Status = StatusStopped
	default:
		m.Status = StatusCompleted
	}
	if history != nil && history.Len() > 0 {
		m.EpochsRun = history.Len()
		// JSON can't encode NaN or infinite values.
		m.LastLogs = make(training.Logs)
		for key, value := range history.Logs[history.Len()-1] {
			if !math.IsNaN(value) && !math.IsInf(value, 0) {
				m.LastLogs[key] = value
			}
		}
	}
}

// Save writes the manifest as indented JSON to FileName in dir, replacing the previous one.
func (m *Manifest) Save(dir string) error {
	contents, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding run manifest")
	}
	path := filepath.Join(dir, FileName)
	tmpPath := path + ".tmp"
	if err = os.WriteFile(tmpPath, append(contents, '\n'), 0644); err != nil {
		return errors.Wrapf(err, "writing run manifest to %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "renaming run manifest to %q", path)
	}
	klog.V(1).Infof("run manifest (session %s) saved in %q", m.SessionID, path)
	return nil
}

// Load reads the manifest saved in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading run manifest %q", path)
	}
	m := &Manifest{}
	if err = json.Unmarshal(contents, m); err != nil {
		return nil, errors.Wrapf(err, "parsing run manifest %q", path)
	}
	return m, nil
}
