// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints finds the checkpoints saved in the output folder of a run and decides
// from which epoch training resumes.
//
// Checkpoints are named "checkpoint-epoch-XXX.h5", where XXX is the zero-padded number of epochs
// trained so far. So the number in the latest checkpoint is also the initial epoch of a resumed
// training.
package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// NamePrefix of checkpoint file names.
	NamePrefix = "checkpoint-epoch-"

	// NameSuffix of checkpoint file names.
	NameSuffix = ".h5"
)

// ErrMalformedName is returned when a checkpoint file name has no valid epoch number.
var ErrMalformedName = errors.New("malformed checkpoint name")

var nameRegex = regexp.MustCompile(`^` + regexp.QuoteMeta(NamePrefix) + `(\d+)` + regexp.QuoteMeta(NameSuffix) + `$`)

// FileName returns the checkpoint file name for the given epoch number (1-based).
func FileName(epoch int) string {
	return fmt.Sprintf("%s%03d%s", NamePrefix, epoch, NameSuffix)
}

// IsCheckpoint returns whether the file name has the checkpoint prefix and suffix.
func IsCheckpoint(name string) bool {
	return strings.HasPrefix(name, NamePrefix) && strings.HasSuffix(name, NameSuffix)
}

// ParseEpoch returns the epoch number embedded in a checkpoint file name (not a path).
// It returns an error wrapping ErrMalformedName if the name doesn't follow the checkpoint pattern.
func ParseEpoch(name string) (int, error) {
	matches := nameRegex.FindStringSubmatch(name)
	if len(matches) != 2 {
		return 0, errors.Wrapf(ErrMalformedName, "%q", name)
	}
	epoch, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedName, "%q: %v", name, err)
	}
	return epoch, nil
}

// List returns the names of the checkpoint files in dir, sorted lexicographically.
// Directories and files not prefixed/suffixed as checkpoints (like the metrics log) are ignored.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints")
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if IsCheckpoint(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the lexicographically maximal checkpoint name in dir, and whether one was found.
func Latest(dir string) (name string, found bool, err error) {
	names, err := List(dir)
	if err != nil || len(names) == 0 {
		return "", false, err
	}
	return names[len(names)-1], true, nil
}

// State describes from where training starts.
type State struct {
	// Found is true if a checkpoint was found, and training resumes from it.
	Found bool

	// Path to the checkpoint to load, if Found.
	Path string

	// InitialEpoch is the index of the first epoch to train: the number of epochs already trained.
	InitialEpoch int
}

// String implements fmt.Stringer.
func (s State) String() string {
	if !s.Found {
		return "no checkpoint, training from scratch"
	}
	return fmt.Sprintf("resuming from %s at epoch %d", s.Path, s.InitialEpoch)
}

// Resume returns the resume State for the checkpoints in dir: the latest checkpoint and its epoch
// number, or InitialEpoch 0 if there are none. A malformed latest checkpoint name is an error.
func Resume(dir string) (State, error) {
	name, found, err := Latest(dir)
	if err != nil {
		return State{}, err
	}
	if !found {
		klog.Infof("No available checkpoint for this configuration. The model will be trained from scratch.")
		return State{}, nil
	}
	epoch, err := ParseEpoch(name)
	if err != nil {
		return State{}, errors.WithMessagef(err, "resuming from %q", dir)
	}
	return State{
		Found:        true,
		Path:         filepath.Join(dir, name),
		InitialEpoch: epoch,
	}, nil
}
