// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets resolves the on-disk layout of preprocessed datasets and training outputs,
// reads label configurations and yields batches of preprocessed images for training.
//
// Preprocessed data is organized as:
//
//	<datapath>/<dataset>/preprocessed/<image_size>_<aggregation>/
//	    training.json  validation.json  testing.json
//	    training/{images,labels}/  validation/{images,labels}/  testing/{images,labels}/
//
// And outputs of a run as:
//
//	<datapath>/<dataset>/output/<model>/checkpoints/<run identity>/
package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Role of a dataset split.
type Role string

const (
	Training   Role = "training"
	Validation Role = "validation"
	Testing    Role = "testing"
)

// Roles in the order they are checked.
var Roles = []Role{Training, Validation, Testing}

// Sub-directories of each role folder.
const (
	ImagesDir = "images"
	LabelsDir = "labels"
)

// DirPermissions used when creating folders.
const DirPermissions = 0755

// Folders maps each role to its folder and its JSON configuration file.
type Folders struct {
	// Root is the preprocessed folder of the dataset, for a given image size and aggregation.
	Root string

	dirs    map[Role]string
	configs map[Role]string
}

// PrepareFolders returns the preprocessed folder set for the given dataset, image size and
// aggregation value. Role folders and their images/labels sub-folders are created if missing.
// Configuration files are never created: see Folders.CheckConfigs.
func PrepareFolders(datapath, dataset string, imageSize int, aggregation string) (*Folders, error) {
	datapath, err := fsutil.ReplaceTildeInDir(datapath)
	if err != nil {
		return nil, err
	}
	root := filepath.Join(datapath, dataset, "preprocessed", strconv.Itoa(imageSize)+"_"+aggregation)
	f := &Folders{
		Root:    root,
		dirs:    make(map[Role]string, len(Roles)),
		configs: make(map[Role]string, len(Roles)),
	}
	for _, role := range Roles {
		dir := filepath.Join(root, string(role))
		for _, sub := range []string{ImagesDir, LabelsDir} {
			if err := os.MkdirAll(filepath.Join(dir, sub), DirPermissions); err != nil {
				return nil, errors.Wrapf(err, "failed to create %s folder for %q", role, dataset)
			}
		}
		f.dirs[role] = dir
		f.configs[role] = filepath.Join(root, string(role)+".json")
	}
	return f, nil
}

// Dir returns the folder of the given role.
func (f *Folders) Dir(role Role) string { return f.dirs[role] }

// Config returns the path to the JSON configuration file of the given role.
func (f *Folders) Config(role Role) string { return f.configs[role] }

// MissingConfigError is returned when the configuration file of a role doesn't exist.
type MissingConfigError struct {
	Role Role
	Path string
}

// Error implements error.
func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("there is no %s data with the given parameters (missing %s): "+
		"please generate a valid dataset before calling the training program", e.Role, e.Path)
}

// CheckConfigs returns a *MissingConfigError for the first role (in the order training,
// validation, testing) whose configuration file is missing.
func (f *Folders) CheckConfigs() error {
	for _, role := range Roles {
		path := f.configs[role]
		exists, err := fsutil.FileExists(path)
		if err != nil {
			return errors.WithMessagef(err, "checking %s configuration", role)
		}
		if !exists {
			return &MissingConfigError{Role: role, Path: path}
		}
	}
	return nil
}

// PrepareOutputFolder returns the output folder of a run, creating it if needed.
func PrepareOutputFolder(datapath, dataset, model, runIdentity string) (string, error) {
	datapath, err := fsutil.ReplaceTildeInDir(datapath)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(datapath, dataset, "output", model, "checkpoints", runIdentity)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return "", errors.Wrapf(err, "failed to create output folder %q", dir)
	}
	klog.V(1).Infof("output folder: %s", dir)
	return dir, nil
}

// TileSubdivision is the granularity of model input sizes for tiled datasets.
const TileSubdivision = 16

// ModelInputSize returns the size of the images fed to the model.
//
// Aerial images are tiles: the size is rounded up to a multiple of TileSubdivision, so it can be
// halved by the pooling layers without loss. Other datasets use imageSize as is.
func ModelInputSize(dataset string, imageSize int) int {
	if dataset != "aerial" {
		return imageSize
	}
	if imageSize <= 0 {
		return TileSubdivision
	}
	if imageSize%TileSubdivision == 0 {
		return imageSize
	}
	return TileSubdivision * (1 + imageSize/TileSubdivision)
}
