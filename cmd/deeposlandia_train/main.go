// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// deeposlandia_train trains a convolutional neural network on a preprocessed dataset, for
// feature detection or semantic segmentation.
//
// Outputs (checkpoints, metrics CSV, run manifest and plots) are written under
// <datapath>/<dataset>/output/<model>/checkpoints/<run identity>. If checkpoints already exist
// there, training resumes from the latest one.
//
// Example:
//
//	deeposlandia_train -D shapes -s 64 -e 10 -b 32 -it 1000 -iv 200 -ii 200
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/oslandia/deeposlandia/pkg/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

// exitError is an anticipated fatal condition: it is logged and the program exits with code 1.
type exitError struct {
	err error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// fatal marks err as an anticipated fatal condition.
func fatal(err error) error {
	return &exitError{err: err}
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	klog.InitFlags(fs)
	cfg, err := config.ParseFlagSet(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		if errors.Is(err, config.ErrMissingDataset) {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", fs.Name(), err)
			fs.Usage()
		}
		os.Exit(2)
	}

	err = train(cfg)
	if err != nil {
		var exitErr *exitError
		if !errors.As(err, &exitErr) {
			// Unanticipated failures propagate.
			klog.Flush()
			panic(err)
		}
		klog.Errorf("%v", exitErr.err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
