// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"bufio"
	"encoding/gob"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WeightsHeader identifies a weights file.
const WeightsHeader = "deeposlandia_weights"

// SaveVariables writes all the variables of ctx, except the metrics helper variables, to a single file
// at path, see WriteVariables.
func SaveVariables(ctx *context.Context, path string) error {
	values := make(map[string]*tensors.Tensor)
	for v := range ctx.IterVariables() {
		if isMetricsScope(v.Scope()) {
			continue
		}
		value, err := v.Value()
		if err != nil {
			return errors.WithMessagef(err, "reading variable %q", v.ParameterName())
		}
		values[v.ParameterName()] = value
	}
	return WriteVariables(path, values)
}

// WriteVariables writes values, indexed by their variable parameter names, to a single file at path:
// a gob stream with the header, the number of variables, and for each variable (sorted by name) its
// parameter name followed by its value.
//
// The file is written to a temporary file first and then renamed, so a checkpoint is never left
// half-written.
func WriteVariables(path string, values map[string]*tensors.Tensor) error {
	names := slices.Sorted(maps.Keys(values))
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "creating weights file %q", tmpPath)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	err = enc.Encode(WeightsHeader)
	if err == nil {
		err = enc.Encode(len(names))
	}
	for _, name := range names {
		if err != nil {
			break
		}
		if err = enc.Encode(name); err == nil {
			err = values[name].GobSerialize(enc)
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "writing weights to %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "renaming weights file to %q", path)
	}
	klog.V(1).Infof("saved %d variables to %q", len(names), path)
	return nil
}

func isMetricsScope(scope string) bool {
	prefix := context.RootScope + metrics.Scope
	return scope == prefix || strings.HasPrefix(scope, prefix+context.ScopeSeparator)
}

// ReadVariables reads the variables saved by SaveVariables, indexed by their parameter names.
func ReadVariables(path string) (map[string]*tensors.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening weights file %q", path)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	var header string
	if err = dec.Decode(&header); err != nil || header != WeightsHeader {
		return nil, errors.Errorf("%q is not a weights file", path)
	}
	var numVariables int
	if err = dec.Decode(&numVariables); err != nil {
		return nil, errors.Wrapf(err, "reading number of variables from %q", path)
	}
	values := make(map[string]*tensors.Tensor, numVariables)
	for range numVariables {
		var name string
		if err = dec.Decode(&name); err != nil {
			return nil, errors.Wrapf(err, "reading variable name from %q", path)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading variable %q from %q", name, path)
		}
		values[name] = value
	}
	return values, nil
}

// LoadVariables reads the variables saved in path and installs a context.Loader in ctx that provides
// them as the variables are created.
func LoadVariables(ctx *context.Context, path string) (*WeightsLoader, error) {
	values, err := ReadVariables(path)
	if err != nil {
		return nil, err
	}
	loader := &WeightsLoader{path: path, values: values, prevLoader: ctx.Loader()}
	ctx.SetLoader(loader)
	klog.V(1).Infof("loaded %d variables from %q", len(values), path)
	return loader, nil
}

// WeightsLoader implements context.Loader for the variables read from a weights file.
// Each value is handed over to the context at most once.
type WeightsLoader struct {
	path       string
	values     map[string]*tensors.Tensor
	prevLoader context.Loader
}

var _ context.Loader = (*WeightsLoader)(nil)

// Path of the weights file.
func (l *WeightsLoader) Path() string { return l.path }

// Pending returns the number of variables not yet consumed by the context.
func (l *WeightsLoader) Pending() int { return len(l.values) }

// LoadVariable implements context.Loader. Previously installed loaders take precedence.
func (l *WeightsLoader) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor, found bool) {
	if l.prevLoader != nil {
		value, found = l.prevLoader.LoadVariable(ctx, scope, name)
		if found {
			return
		}
	}
	paramName := context.VariableParameterNameFromScopeAndName(scope, name)
	value, found = l.values[paramName]
	if found {
		delete(l.values, paramName)
	}
	return
}

// DeleteVariable implements context.Loader.
func (l *WeightsLoader) DeleteVariable(ctx *context.Context, scope, name string) error {
	if l.prevLoader != nil {
		if err := l.prevLoader.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	delete(l.values, context.VariableParameterNameFromScopeAndName(scope, name))
	return nil
}
