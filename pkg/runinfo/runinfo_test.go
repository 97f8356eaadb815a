// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runinfo

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"github.com/oslandia/deeposlandia/pkg/config"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset = "shapes"
	dir := t.TempDir()

	m := New(cfg, checkpoints.State{Found: true, Path: "/out/checkpoint-epoch-004.h5", InitialEpoch: 4})
	_, err := uuid.Parse(m.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, m.Status)
	assert.Equal(t, 4, m.InitialEpoch)
	require.NoError(t, m.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, m.SessionID, loaded.SessionID)
	assert.Equal(t, cfg.RunIdentity(), loaded.RunIdentity)
	assert.Equal(t, "shapes", loaded.Config.Dataset)
	assert.Equal(t, "/out/checkpoint-epoch-004.h5", loaded.Checkpoint)
	assert.Nil(t, loaded.EndTime)

	history := &training.History{}
	history.Append(4, training.Logs{"loss": 0.5})
	history.Append(5, training.Logs{"loss": 0.25, "val_loss": 0.3})
	m.Finish(history, true, nil)
	require.NoError(t, m.Save(dir))
	loaded, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, loaded.Status)
	assert.Equal(t, 2, loaded.EpochsRun)
	assert.Equal(t, training.Logs{"loss": 0.25, "val_loss": 0.3}, loaded.LastLogs)
	require.NotNil(t, loaded.EndTime)

	// A new invocation gets a new session.
	other := New(cfg, checkpoints.State{})
	assert.NotEqual(t, m.SessionID, other.SessionID)
	assert.Empty(t, other.Checkpoint)
	other.Finish(nil, false, errors.New("boom"))
	assert.Equal(t, StatusFailed, other.Status)
	assert.Equal(t, "boom", other.Error)

	_, err = Load(t.TempDir())
	require.Error(t, err)
}

func TestManifestNaNLogs(t *testing.T) {
	m := New(config.Default(), checkpoints.State{})
	history := &training.History{}
	history.Append(0, training.Logs{"loss": math.NaN(), "acc": 0.5})
	m.Finish(history, true, nil)
	assert.Equal(t, training.Logs{"acc": 0.5}, m.LastLogs)
	require.NoError(t, m.Save(t.TempDir()))
}
