// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	stdcontext "context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/ctrmodels/pkg/cluster"
	"github.com/gomlx/ctrmodels/pkg/config"
	"github.com/gomlx/ctrmodels/pkg/evaluation"
	"github.com/gomlx/ctrmodels/pkg/features"
	"github.com/gomlx/ctrmodels/pkg/fit"
	"github.com/gomlx/ctrmodels/pkg/losses"
	"github.com/gomlx/ctrmodels/pkg/models"
	"github.com/gomlx/ctrmodels/pkg/optimizers/classic"
	"github.com/gomlx/ctrmodels/pkg/report"
)

// ModelScope is the scope of the model variables.
const ModelScope = "model"

// ServingSignatureFileName is written by the export task along with the exported model.
const ServingSignatureFileName = "serving_signature.yaml"

// run executes the task selected in opts.
func run(ctx *context.Context, opts *options, paramsSet []string) error {
	if opts.algorithm != "" {
		ctx.SetParam(models.ParamAlgorithm, opts.algorithm)
		paramsSet = append(paramsSet, models.ParamAlgorithm)
	}
	if opts.fileName == "" {
		algorithm := context.GetParamOr(ctx, models.ParamAlgorithm, "DeepFM")
		opts.fileName = config.DefaultFileName("ctr_"+strings.ToLower(algorithm), time.Now())
	}
	modelDir := opts.modelDir + opts.fileName
	if opts.clearModel && opts.taskMode == TaskTrain {
		clearModelDir(modelDir)
	}

	clusterConfig, err := cluster.New(opts.clusterFlags)
	if err != nil {
		return err
	}
	if clusterConfig != nil {
		if err = clusterConfig.Export(); err != nil {
			return err
		}
	}

	// Loading the checkpoint may change the hyperparameters, including the algorithm.
	var checkpoint *checkpoints.Handler
	switch opts.taskMode {
	case TaskTrain:
		checkpoint, err = config.NewCheckpoint(ctx, modelDir, paramsSet)
	case TaskEval, TaskInfer, TaskExport:
		err = loadCheckpoint(ctx, modelDir, paramsSet)
	default:
		err = errors.Errorf("invalid -task_mode=%q, valid values are %q, %q, %q and %q",
			opts.taskMode, TaskTrain, TaskEval, TaskInfer, TaskExport)
	}
	if err != nil {
		return err
	}
	modelFn, err := models.FromContext(ctx)
	if err != nil {
		return err
	}
	printInfo(ctx, opts, modelDir, paramsSet)
	if opts.taskMode == TaskExport {
		return exportTask(ctx, opts)
	}

	seed := int64(context.GetParamOr(ctx, fit.ParamSeed, 2016))
	shards, err := features.ListShards(opts.inputDir, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	klog.Infof("shards: %d train, %d valid, %d tests", len(shards.Train), len(shards.Valid), len(shards.Tests))

	backend, err := backends.New()
	if err != nil {
		return errors.WithMessage(err, "creating backend")
	}
	defer backend.Finalize()
	switch opts.taskMode {
	case TaskTrain:
		return trainTask(backend, ctx, checkpoint, modelFn, shards, opts)
	case TaskEval:
		return evalTask(backend, ctx, modelFn, shards, opts)
	default:
		return inferTask(backend, ctx, modelFn, shards, opts)
	}
}

// loadCheckpoint loads all the variables of the last checkpoint in modelDir, which must exist.
func loadCheckpoint(ctx *context.Context, modelDir string, paramsSet []string) error {
	checkpoint, err := checkpoints.Build(ctx).
		Dir(modelDir).
		ExcludeParams(append(paramsSet, config.ParamsExcludedFromCheckpoints...)...).
		Immediate().
		Done()
	if err != nil {
		return errors.WithMessagef(err, "loading model from %q", modelDir)
	}
	found, err := checkpoint.HasCheckpoints()
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("no trained model found in %q", modelDir)
	}
	return nil
}

// hyperparams returns the model hyperparameters, as seen from the model scope.
func hyperparams(ctx *context.Context) (hp *models.Hyperparams, err error) {
	err = exceptions.TryCatch[error](func() { hp = models.HyperparamsFromContext(ctx.In(ModelScope)) })
	return
}

// loadExamples loads the files, and checks the feature indices are within the configured feature_size.
func loadExamples(ctx *context.Context, files []string, opts *options) (*features.Examples, error) {
	hp, err := hyperparams(ctx)
	if err != nil {
		return nil, err
	}
	examples, err := features.LoadFiles(stdcontext.Background(), files, hp.FieldSize, opts.numThreads)
	if err != nil {
		return nil, err
	}
	if err = examples.Validate(hp.FeatureSize); err != nil {
		return nil, err
	}
	klog.Infof("loaded %s examples from %d files", humanize.Comma(int64(examples.Len())), len(files))
	return examples, nil
}

func trainTask(backend backends.Backend, ctx *context.Context, checkpoint *checkpoints.Handler,
	modelFn train.ModelFn, shards *features.Shards, opts *options) error {
	trainExamples, err := loadExamples(ctx, shards.Train, opts)
	if err != nil {
		return err
	}
	var validExamples *features.Examples
	if len(shards.Valid) > 0 {
		validExamples, err = loadExamples(ctx, shards.Valid, opts)
		if err != nil {
			return err
		}
	}

	modelCtx := ctx.In(ModelScope)
	fitter, err := fit.New(backend, modelCtx, modelFn)
	if err != nil {
		return err
	}
	fitter.Checkpoint = checkpoint
	fitter.ProgressBar = true
	if _, err = fitter.Fit(trainExamples, validExamples); err != nil {
		return err
	}
	fmt.Println(report.SprintParams(modelCtx))
	if validExamples.Len() > 0 {
		result, err := fitter.Evaluate(validExamples)
		if err != nil {
			return err
		}
		printResult("valid", result)
	}
	return nil
}

func printResult(name string, result evaluation.Result) {
	fmt.Printf("%s: %s examples, auc=%.4f, log_loss=%.4f\n",
		name, humanize.Comma(int64(result.N)), result.AUC, result.LogLoss)
}

func newPredictor(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn) (*evaluation.Predictor, error) {
	return evaluation.NewPredictor(backend, ctx.In(ModelScope), modelFn, context.GetParamOr(ctx, fit.ParamBatchSize, 0))
}

func evalTask(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn, shards *features.Shards,
	opts *options) error {
	if len(shards.Valid) == 0 {
		return errors.Errorf("no valid*set files found in %q", opts.inputDir)
	}
	examples, err := loadExamples(ctx, shards.Valid, opts)
	if err != nil {
		return err
	}
	predictor, err := newPredictor(backend, ctx, modelFn)
	if err != nil {
		return err
	}
	result, err := predictor.Evaluate(examples)
	if err != nil {
		return err
	}
	printResult("valid", result)
	return nil
}

func inferTask(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn, shards *features.Shards,
	opts *options) error {
	if len(shards.Tests) == 0 {
		return errors.Errorf("no tests*set files found in %q", opts.inputDir)
	}
	examples, err := loadExamples(ctx, shards.Tests, opts)
	if err != nil {
		return err
	}
	predictor, err := newPredictor(backend, ctx, modelFn)
	if err != nil {
		return err
	}
	predictions, err := predictor.Predict(examples)
	if err != nil {
		return err
	}
	path := filepath.Join(opts.inputDir, report.PredictionsFileName)
	if err = report.WritePredictions(path, predictions); err != nil {
		return err
	}
	fmt.Printf("predictions written to %q\n", path)
	return nil
}

// TensorSignature describes one input or output of the exported model.
type TensorSignature struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	Shape []int  `yaml:"shape"`
}

// ServingSignature describes the inputs and outputs of the exported model.
type ServingSignature struct {
	Algorithm string            `yaml:"algorithm"`
	LossMode  string            `yaml:"loss_mode"`
	Inputs    []TensorSignature `yaml:"inputs"`
	Outputs   []TensorSignature `yaml:"outputs"`
}

// exportTask saves a checkpoint without the optimizer state in opts.serveDir, along with its serving signature.
func exportTask(ctx *context.Context, opts *options) error {
	if opts.serveDir == "" {
		return errors.New("-serve_dir must be set to export a model")
	}
	optimizer, err := classic.FromContext(ctx)
	if err != nil {
		return err
	}
	if err = optimizer.Clear(ctx); err != nil {
		return errors.WithMessage(err, "clearing optimizer state")
	}
	exported, err := checkpoints.Build(ctx).Dir(opts.serveDir).Keep(1).Done()
	if err != nil {
		return errors.WithMessagef(err, "exporting to %q", opts.serveDir)
	}
	if err = exported.Save(); err != nil {
		return errors.WithMessagef(err, "exporting to %q", opts.serveDir)
	}

	hp, err := hyperparams(ctx)
	if err != nil {
		return err
	}
	signature := ServingSignature{
		Algorithm: context.GetParamOr(ctx, models.ParamAlgorithm, ""),
		LossMode:  losses.ModeFromContext(ctx),
		Inputs: []TensorSignature{
			{Name: "feat_idx", DType: "int32", Shape: []int{-1, hp.FieldSize}},
			{Name: "feat_val", DType: "float32", Shape: []int{-1, hp.FieldSize}},
		},
		Outputs: []TensorSignature{{Name: "prob", DType: "float32", Shape: []int{-1, 1}}},
	}
	contents, err := yaml.Marshal(&signature)
	if err != nil {
		return errors.Wrap(err, "encoding serving signature")
	}
	path := filepath.Join(opts.serveDir, ServingSignatureFileName)
	if err = os.WriteFile(path, contents, 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	fmt.Printf("model exported to %q\n", opts.serveDir)
	return nil
}
