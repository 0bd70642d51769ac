// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// productnn cross-validates a product network (or any other of the CTR models) on a Porto Seguro style CSV
// train/test pair, and writes the averaged test predictions as a submission file, plus a plot of the per-fold
// train/valid AUC.
//
// E.g.:
//
//	$ productnn -train_file=~/data/porto/train.csv -test_file=~/data/porto/test.csv \
//		-sub_dir=~/work/sub -fig_dir=~/work/fig -set="num_epochs=10"
package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/ctrmodels/pkg/config"
	"github.com/gomlx/ctrmodels/pkg/evaluation"
	"github.com/gomlx/ctrmodels/pkg/features"
	"github.com/gomlx/ctrmodels/pkg/fit"
	"github.com/gomlx/ctrmodels/pkg/models"
	"github.com/gomlx/ctrmodels/pkg/report"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagTrainFile = flag.String("train_file", "", "CSV file with the train data, with \"id\" and \"target\" columns.")
	flagTestFile  = flag.String("test_file", "", "CSV file with the test data, with an \"id\" column.")
	flagColumns   = flag.String("columns", "", "YAML file with the numeric, categorical and ignored columns. "+
		"Defaults to the Porto Seguro columns.")
	flagSubDir    = flag.String("sub_dir", "sub", "Directory where the submission file is written.")
	flagFigDir    = flag.String("fig_dir", "fig", "Directory where the train/valid plot is written.")
	flagNumSplits = flag.Int("num_splits", 3, "Number of stratified folds.")
	flagFoldSeed  = flag.Int64("fold_seed", 2017, "Seed used to shuffle the samples before splitting the folds.")
	flagProgress  = flag.Bool("progress", true, "Display a progress bar while training.")
	flagConfig    = flag.String("config", "", "YAML file with context parameters to set, applied before -set.")
)

// ModelName is used to name the submission and plot files.
const ModelName = "ProductNN"

// createDefaultContext returns the default context for the CSV pipeline: the product network hyperparameters
// override the generic defaults.
func createDefaultContext() *context.Context {
	ctx := config.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		models.ParamAlgorithm:        "OPNN",
		models.ParamEmbedSize:        8,
		models.ParamProductSize:      50,
		models.ParamDeepLayers:       []int{32, 32},
		models.ParamDropout:          []float64{0.5, 0.5, 0.5},
		models.ParamBatchNorm:        true,
		models.ParamBatchNormDecay:   0.995,
		optimizers.ParamLearningRate: 0.001,
		fit.ParamNumEpochs:           30,
		fit.ParamBatchSize:           1024,
		fit.ParamSeed:                2017,
		fit.ParamLogSteps:            0,
	})
	return ctx
}

// options are the command-line settings, other than the context parameters.
type options struct {
	trainFile, testFile, columnsFile string
	subDir, figDir                   string
	numSplits                        int
	foldSeed                         int64
	progressBar                      bool
}

func optionsFromFlags() *options {
	return &options{
		trainFile:   fsutil.MustReplaceTildeInDir(*flagTrainFile),
		testFile:    fsutil.MustReplaceTildeInDir(*flagTestFile),
		columnsFile: fsutil.MustReplaceTildeInDir(*flagColumns),
		subDir:      fsutil.MustReplaceTildeInDir(*flagSubDir),
		figDir:      fsutil.MustReplaceTildeInDir(*flagFigDir),
		numSplits:   *flagNumSplits,
		foldSeed:    *flagFoldSeed,
		progressBar: *flagProgress,
	}
}

func main() {
	klog.InitFlags(nil)
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()
	if *flagConfig != "" {
		_ = must.M1(config.LoadYAML(ctx, *flagConfig))
	}
	_ = must.M1(commandline.ParseContextSettings(ctx, *settings))
	if _, err := run(ctx, optionsFromFlags()); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

// loadData loads and parses the CSV pair. It returns the labeled train examples, the unlabeled test examples
// and the dictionary used to encode them.
func loadData(opts *options) (trainExamples, testExamples *features.Examples, dict *features.FeatureDictionary,
	err error) {
	columns := features.DefaultColumnConfig()
	if opts.columnsFile != "" {
		if columns, err = features.LoadColumnConfig(opts.columnsFile); err != nil {
			return
		}
	}
	trainDF, err := features.LoadCSV(opts.trainFile)
	if err != nil {
		return
	}
	testDF, err := features.LoadCSV(opts.testFile)
	if err != nil {
		return
	}
	trainDF, testDF = features.Preprocess(trainDF), features.Preprocess(testDF)
	dict, err = features.NewFeatureDictionary(trainDF, testDF, columns.Numeric, columns.Ignore)
	if err != nil {
		return
	}
	parser := &features.DataParser{Dict: dict}
	if trainExamples, err = parser.Parse(trainDF, true); err != nil {
		err = errors.WithMessagef(err, "parsing %q", opts.trainFile)
		return
	}
	if testExamples, err = parser.Parse(testDF, false); err != nil {
		err = errors.WithMessagef(err, "parsing %q", opts.testFile)
		return
	}
	klog.Infof("%s: %s train examples (%.2f%% positive), %s test examples", dict,
		humanize.Comma(int64(trainExamples.Len())), 100*trainExamples.PositiveRate(),
		humanize.Comma(int64(testExamples.Len())))
	return
}

// run cross-validates the model and returns the averaged test predictions.
func run(ctx *context.Context, opts *options) ([]float32, error) {
	trainExamples, testExamples, dict, err := loadData(opts)
	if err != nil {
		return nil, err
	}
	ctx.SetParams(map[string]any{
		models.ParamFeatureSize: dict.FeatureDim,
		models.ParamFieldSize:   dict.NumFields(),
	})
	modelFn, err := models.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	folds, err := features.StratifiedKFold(trainExamples.Labels, opts.numSplits, true, opts.foldSeed)
	if err != nil {
		return nil, err
	}

	backend, err := backends.New()
	if err != nil {
		return nil, errors.WithMessage(err, "creating backend")
	}
	defer backend.Finalize()

	testPredictions := make([]float32, testExamples.Len())
	trainCurves := make([][]float64, len(folds))
	validCurves := make([][]float64, len(folds))
	validResults := make([]float64, len(folds))
	for foldIdx, fold := range folds {
		// Each fold trains a model from scratch.
		foldCtx, err := ctx.Clone()
		if err != nil {
			return nil, errors.WithMessagef(err, "fold #%d", foldIdx)
		}
		fitter, err := fit.New(backend, foldCtx.In("model"), modelFn)
		if err != nil {
			return nil, err
		}
		fitter.ProgressBar = opts.progressBar
		validExamples := trainExamples.Subset(fold.Valid)
		history, err := fitter.Fit(trainExamples.Subset(fold.Train), validExamples)
		if err != nil {
			return nil, errors.WithMessagef(err, "training fold #%d", foldIdx)
		}
		trainCurves[foldIdx], validCurves[foldIdx] = history.Train, history.Valid
		validResults[foldIdx] = history.Valid[len(history.Valid)-1]

		predictions, err := fitter.Predict(testExamples)
		if err != nil {
			return nil, errors.WithMessagef(err, "predicting test data with fold #%d", foldIdx)
		}
		for ii, p := range predictions {
			testPredictions[ii] += p
		}
		klog.Infof("fold #%d: valid-auc=%.5f", foldIdx, validResults[foldIdx])
	}
	for ii := range testPredictions {
		testPredictions[ii] /= float32(len(folds))
	}

	mean, std := evaluation.Mean(validResults)
	numEpochs := context.GetParamOr(ctx, fit.ParamNumEpochs, 0)
	fmt.Printf("%s: %d Epoch, valid-auc=%.5f (%.5f)\n", ModelName, numEpochs, mean, std)

	subPath := filepath.Join(opts.subDir, report.SubmissionFileName(ModelName, numEpochs))
	if err = report.WriteSubmission(subPath, testExamples.IDs, testPredictions); err != nil {
		return nil, err
	}
	figPath := filepath.Join(opts.figDir, ModelName+".png")
	if err = report.PlotFolds(figPath, ModelName, "AUC", trainCurves, validCurves); err != nil {
		return nil, err
	}
	klog.Infof("submission written to %q, plot to %q", subPath, figPath)
	return testPredictions, nil
}
