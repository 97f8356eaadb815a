// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// deeposlandia_checkpoints inspects the output directory of a training run: its checkpoints,
// their variables, the metrics logged during training and the run manifest.
//
// Usage:
//
//	deeposlandia_checkpoints [flags] <output directory>
//
// With no flags, it prints the summary of the checkpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagScope = flag.String("scope", "/model", "The scope of the variables considered by -summary and -vars. "+
		"Checkpoints also hold the optimizer variables, which are usually not interesting.")

	flagCheckpoint = flag.String("checkpoint", "", "Checkpoint file name used by -vars and -delete_vars. "+
		"Defaults to the latest checkpoint.")

	flagSummary = flag.Bool("summary", false, "Display a summary of each checkpoint: global step and model sizes "+
		"(for variables under -scope).")

	flagVars     = flag.Bool("vars", false, "Lists the variables under -scope, with some statistics of their values.")
	flagManifest = flag.Bool("manifest", false, "Displays the manifest of the last training invocation.")
	flagMetrics  = flag.Bool("metrics", false, "Lists the metrics logged at each epoch.")
	flagPlot     = flag.String("plot", "", "Plots the metrics logged at each epoch into the given PNG file.")

	flagMetricsNames = flag.String("metrics_names", "",
		"Comma-separated list of metric names to include in the -metrics report. Empty includes all metrics.")

	flagDeleteVars = flag.String("delete_vars", "", "Comma-separated list of scopes whose variables are deleted "+
		"from the -checkpoint file, e.g. \"/optimizers\" to reset the optimizer state.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one output directory to inspect, got %d arguments. "+
			"See 'deeposlandia_checkpoints -help'", len(args))
		os.Exit(1)
	}
	outputDir := args[0]
	if !*flagSummary && !*flagVars && !*flagManifest && !*flagMetrics && *flagPlot == "" && *flagDeleteVars == "" {
		*flagSummary = true
	}

	if *flagDeleteVars != "" {
		path := checkpointPath(outputDir)
		numDeleted := must.M1(DeleteVars(path, strings.Split(*flagDeleteVars, ",")...))
		fmt.Printf("%d variables deleted from %s\n", numDeleted, path)
	}
	if *flagManifest {
		Manifest(outputDir)
	}
	if *flagSummary {
		names := must.M1(checkpoints.List(outputDir))
		if len(names) == 0 {
			klog.Errorf("No checkpoints found in %q", outputDir)
		} else {
			Summary(outputDir, names, *flagScope)
		}
	}
	if *flagVars {
		ListVariables(checkpointPath(outputDir), *flagScope)
	}
	if *flagMetrics {
		Metrics(outputDir, *flagMetricsNames)
	}
	if *flagPlot != "" {
		Plot(outputDir, *flagPlot)
	}
	klog.Flush()
}

// checkpointPath returns the path of the checkpoint selected with -checkpoint, or of the latest one.
func checkpointPath(outputDir string) string {
	if *flagCheckpoint != "" {
		return filepath.Join(outputDir, *flagCheckpoint)
	}
	name, found := must.M2(checkpoints.Latest(outputDir))
	if !found {
		klog.Errorf("No checkpoints found in %q", outputDir)
		klog.Flush()
		os.Exit(1)
	}
	return filepath.Join(outputDir, name)
}
