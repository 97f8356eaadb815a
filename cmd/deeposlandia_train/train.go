// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"github.com/oslandia/deeposlandia/pkg/config"
	"github.com/oslandia/deeposlandia/pkg/datasets"
	"github.com/oslandia/deeposlandia/pkg/models"
	"github.com/oslandia/deeposlandia/pkg/runinfo"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/oslandia/deeposlandia/pkg/training/callbacks"
	"github.com/oslandia/deeposlandia/ui/commandline"
	"github.com/oslandia/deeposlandia/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Fixed configuration of the training callbacks.
const (
	EarlyStoppingMinDelta = 0.001
	EarlyStoppingPatience = 10
)

// newBackend creates the GoMLX backend for the given configuration, or the default one.
func newBackend(backendConfig string) backends.Backend {
	if backendConfig == "" {
		return backends.MustNew()
	}
	return must.M1(backends.NewWithConfig(backendConfig))
}

// train runs the training described by cfg. Anticipated fatal conditions are returned wrapped
// by fatal.
func train(cfg *config.Config) error {
	startTime := time.Now()
	klog.Infof("Training %s on %s", cfg.Model, cfg.Dataset)

	// Data folders and configuration.
	folders, err := datasets.PrepareFolders(cfg.Datapath, cfg.Dataset, cfg.ImageSize, cfg.Aggregation())
	if err != nil {
		return err
	}
	inputSize := datasets.ModelInputSize(cfg.Dataset, cfg.ImageSize)
	if err = folders.CheckConfigs(); err != nil {
		var missing *datasets.MissingConfigError
		if errors.As(err, &missing) {
			return fatal(err)
		}
		return err
	}
	labelConfig, err := datasets.ReadLabelConfig(folders.Config(datasets.Training))
	if err != nil {
		return err
	}
	labelIDs := labelConfig.EvaluatedIDs()
	klog.V(1).Infof("%d evaluated labels: %v", len(labelIDs), labelIDs)

	// Model selection.
	sel, err := models.Select(cfg.Model)
	if err != nil {
		return fatal(err)
	}
	if err = models.CheckArchitecture(cfg.Network); err != nil {
		return fatal(err)
	}
	trainSteps, validationSteps, testSteps, err := cfg.Steps()
	if err != nil {
		return fatal(err)
	}
	if trainSteps == 0 || validationSteps == 0 {
		return fatal(errors.Errorf("not enough images for one batch of %d: %d training and %d validation images",
			cfg.BatchSize, cfg.NumTraining, cfg.NumValidation))
	}

	// Hyperparameters and run identity.
	ctx := models.NewContext(cfg.Network, cfg.Dropout, cfg.LearningRate, cfg.LearningRateDecay)
	paramsSet, err := commandline.ParseContextSettings(ctx, cfg.Settings, models.IdentityParams...)
	if err != nil {
		return fatal(err)
	}
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Hyperparameters:\n%s", commandline.SprintContextSettings(ctx))
	}
	runIdentity := cfg.RunIdentity() + models.IdentitySuffix(ctx)
	klog.Infof("Run %q", runIdentity)

	// Resume.
	outputDir, err := datasets.PrepareOutputFolder(cfg.Datapath, cfg.Dataset, cfg.Model, runIdentity)
	if err != nil {
		return err
	}
	state, err := checkpoints.Resume(outputDir)
	if err != nil {
		return fatal(err)
	}

	// Data generators.
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	newGenerator := func(role datasets.Role, offset int64) (*datasets.Generator, error) {
		return datasets.NewGenerator(string(role), folders.Dir(role), inputSize, cfg.BatchSize, sel.Encoding,
			labelIDs, seed+offset)
	}
	trainDS, err := newGenerator(datasets.Training, 0)
	if err != nil {
		return err
	}
	validationDS, err := newGenerator(datasets.Validation, 1)
	if err != nil {
		return err
	}
	validationDS.Limit(validationSteps)
	klog.Infof("%s training images, %s validation images of %dx%d pixels",
		humanize.Comma(int64(trainDS.NumImages())), humanize.Comma(int64(validationDS.NumImages())), inputSize, inputSize)

	// Model.
	backend := newBackend(cfg.Backend)
	klog.Infof("Backend %q: %s", backend.Name(), backend.Description())
	model, err := models.New(backend, ctx, sel, len(labelIDs))
	if err != nil {
		return fatal(err)
	}
	if state.Found {
		klog.Infof("Model weights recovered from %s", state.Path)
		must.M(model.LoadWeights(state.Path))
	}
	manifest := runinfo.New(cfg, state)
	manifest.RunIdentity = runIdentity
	manifest.StartTime = startTime
	manifest.NumLabels = len(labelIDs)
	manifest.StepsPerEpoch = trainSteps
	manifest.ValidationSteps = validationSteps
	must.M(manifest.Save(outputDir))

	// Callbacks.
	metricsPath := filepath.Join(outputDir, callbacks.MetricsFileName)
	monitor := training.ValidationPrefix + training.LossKey
	best := must.M1(callbacks.BestFromCSV(metricsPath, monitor, callbacks.ModeAuto, state.InitialEpoch, ','))
	if !math.IsNaN(best) {
		klog.V(1).Infof("Best %s so far: %g", monitor, best)
	}
	checkpoint := must.M1(callbacks.NewModelCheckpoint(outputDir).
		Monitor(monitor).
		SaveBestOnly(true).
		Verbose(true).
		InitialBest(best).
		Done())
	terminateOnNaN := callbacks.NewTerminateOnNaN()
	earlyStopping := must.M1(callbacks.NewEarlyStopping().
		Monitor(training.ValidationPrefix + training.AccuracyKey).
		MinDelta(EarlyStoppingMinDelta).
		Patience(EarlyStoppingPatience).
		Mode(callbacks.ModeMax).
		Verbose(true).
		Done())
	csvLogger := callbacks.NewCSVLogger(metricsPath)

	loop := training.NewLoop(model, state.InitialEpoch, cfg.NumEpochs, trainSteps, validationSteps)
	checkpoint.Attach(loop)
	terminateOnNaN.Attach(loop)
	earlyStopping.Attach(loop)
	csvLogger.Attach(loop)
	commandline.AttachProgressBar(loop, os.Stdout)

	// Train.
	history, err := loop.Fit(trainDS, validationDS)
	if closeErr := csvLogger.Close(); err == nil {
		err = closeErr
	}
	manifest.Finish(history, loop.StopTraining, err)
	must.M(manifest.Save(outputDir))
	if err != nil {
		return err
	}
	klog.Infof("History:\n%s", historyString(history))
	must.M(commandline.PrintHistory(os.Stdout, history))
	if len(checkpoint.Saved) > 0 {
		klog.Infof("Best %s: %g, saved %d checkpoint(s), last in %s", monitor, checkpoint.Best(),
			len(checkpoint.Saved), checkpoint.Saved[len(checkpoint.Saved)-1])
	}

	if cfg.Plots {
		// The metrics file also holds the epochs of previous runs.
		fullHistory := must.M1(callbacks.ReadHistory(metricsPath, ','))
		must.M(plots.SavePNG(fullHistory, filepath.Join(outputDir, plots.TrainingPlotFileName)))
	}
	if cfg.Evaluate {
		if testSteps == 0 {
			return fatal(errors.Errorf("not enough testing images (%d) for one batch of %d", cfg.NumTesting, cfg.BatchSize))
		}
		testDS, err := newGenerator(datasets.Testing, 2)
		if err != nil {
			return err
		}
		testDS.Limit(testSteps)
		_, err = commandline.ReportEval(os.Stdout, model, testDS)
		if err != nil {
			return err
		}
	}
	klog.Infof("Done in %s", commandline.FormatDuration(time.Since(startTime)))
	return nil
}

// historyString formats the logs of each epoch of the history, one per line.
func historyString(history *training.History) string {
	var sb strings.Builder
	for ii, epoch := range history.Epochs {
		_, _ = fmt.Fprintf(&sb, "\tepoch %03d: %s\n", epoch, history.Logs[ii])
	}
	return sb.String()
}
