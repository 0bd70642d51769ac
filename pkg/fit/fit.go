// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fit orchestrates the training of a CTR model by epochs: each epoch trains over the shuffled
// train examples, then evaluates the model (AUC) on train and valid examples.
//
// On top of GoMLX's train.Loop it adds early stopping, and the "refit" phase, which continues training on
// train+valid examples until the train score reaches the score of the best validation epoch.
package fit

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/ctrmodels/pkg/evaluation"
	"github.com/gomlx/ctrmodels/pkg/features"
	"github.com/gomlx/ctrmodels/pkg/losses"
	"github.com/gomlx/ctrmodels/pkg/optimizers/classic"
)

const (
	// ParamBatchSize is the training batch size. An int, default is 128.
	ParamBatchSize = "batch_size"

	// ParamNumEpochs is the number of training epochs. An int, default is 10.
	ParamNumEpochs = "num_epochs"

	// ParamEarlyStopping enables early stopping on the validation metric. A bool, default is false.
	ParamEarlyStopping = "early_stopping"

	// ParamRefit enables continuing the training on train+valid examples after the main training. A bool,
	// default is false.
	ParamRefit = "refit"

	// ParamGreaterIsBetter defines whether the evaluation metric (AUC) is better when greater. Default is true.
	ParamGreaterIsBetter = "greater_is_better"

	// ParamSeed is the seed used to shuffle the train examples. An int, default is 2016.
	ParamSeed = "seed"

	// ParamLogSteps is the number of training steps between logs of the training metrics (at verbosity level 1).
	// An int, default is 0 (no logging).
	ParamLogSteps = "log_steps"

	// EarlyStoppingWindow is the number of consecutive worsening validation results that trigger early stopping.
	EarlyStoppingWindow = 5

	// MaxRefitEpochs is the maximum number of epochs of the refit phase.
	MaxRefitEpochs = 100

	// RefitTolerance is the distance to the target train score that ends the refit phase.
	RefitTolerance = 0.001
)

// History of the evaluation results per epoch: one entry per epoch, Valid is empty if no valid examples were
// given.
type History struct {
	Train, Valid []float64
}

// Fitter trains a model by epochs. Create it with New, and adjust the public fields as needed before
// calling Fit.
type Fitter struct {
	Backend   backends.Backend
	Context   *context.Context
	ModelFn   train.ModelFn
	LossFn    train.LossFn
	Optimizer optimizers.Interface

	BatchSize, Epochs                     int
	EarlyStopping, Refit, GreaterIsBetter bool
	Seed                                  int64

	// Checkpoint, if set, is saved at the end of every epoch and at the end of training.
	Checkpoint *checkpoints.Handler

	// ProgressBar enables a progress bar for each training epoch.
	ProgressBar bool

	// LogEvery controls the evaluation log line: it is logged every LogEvery epochs. Set to 0 to disable.
	LogEvery int

	// LogSteps, if > 0, logs the training metrics every LogSteps steps, at verbosity level 1.
	LogSteps int

	History History

	trainer   *train.Trainer
	loop      *train.Loop
	predictor *evaluation.Predictor
	rng       *rand.Rand
}

// New creates a Fitter configured from the context hyperparameters: the loss (losses.ParamLossMode), the
// optimizer (optimizers.ParamOptimizer), and ParamBatchSize, ParamNumEpochs, ParamEarlyStopping, ParamRefit,
// ParamGreaterIsBetter and ParamSeed.
func New(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn) (*Fitter, error) {
	lossFn, err := losses.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	optimizer, err := classic.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	f := &Fitter{
		Backend:         backend,
		Context:         ctx,
		ModelFn:         modelFn,
		LossFn:          lossFn,
		Optimizer:       optimizer,
		BatchSize:       context.GetParamOr(ctx, ParamBatchSize, 128),
		Epochs:          context.GetParamOr(ctx, ParamNumEpochs, 10),
		EarlyStopping:   context.GetParamOr(ctx, ParamEarlyStopping, false),
		Refit:           context.GetParamOr(ctx, ParamRefit, false),
		GreaterIsBetter: context.GetParamOr(ctx, ParamGreaterIsBetter, true),
		Seed:            int64(context.GetParamOr(ctx, ParamSeed, 2016)),
		LogEvery:        1,
		LogSteps:        context.GetParamOr(ctx, ParamLogSteps, 0),
	}
	return f, nil
}

// Trainer returns the underlying train.Trainer. It is only available after the first call to Fit.
func (f *Fitter) Trainer() *train.Trainer {
	return f.trainer
}

func (f *Fitter) init() error {
	if f.trainer != nil {
		return nil
	}
	if f.BatchSize <= 0 {
		return errors.Errorf("batch size must be > 0, got %d", f.BatchSize)
	}
	var trainMetrics, evalMetrics []metrics.Interface
	if losses.ModeFromContext(f.Context) != losses.MSE {
		trainMetrics = []metrics.Interface{
			metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.01)}
		evalMetrics = []metrics.Interface{metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")}
	}
	f.trainer = train.NewTrainer(f.Backend, f.Context, f.ModelFn, f.LossFn, f.Optimizer, trainMetrics, evalMetrics)
	if optimizers.GetGlobalStep(f.Context) > 0 {
		// Continuing from a checkpoint.
		f.trainer.SetContext(f.Context.Reuse())
	}
	f.loop = train.NewLoop(f.trainer)
	if f.ProgressBar {
		commandline.AttachProgressBar(f.loop, f.lastValidMetric)
	}
	if f.LogSteps > 0 {
		train.EveryNSteps(f.loop, f.LogSteps, "log train metrics", 0, f.logStep)
	}
	f.rng = rand.New(rand.NewSource(f.Seed))
	return nil
}

func (f *Fitter) logStep(loop *train.Loop, metricsValues []*tensors.Tensor) error {
	if !klog.V(1).Enabled() {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "step %d:", loop.LoopStep)
	for ii, m := range f.trainer.TrainMetrics() {
		if ii < len(metricsValues) {
			fmt.Fprintf(&sb, " %s=%s", m.ShortName(), m.PrettyPrint(metricsValues[ii]))
		}
	}
	klog.Info(sb.String())
	return nil
}

// lastValidMetric is displayed in the progress bar.
func (f *Fitter) lastValidMetric() (name, value string) {
	if len(f.History.Valid) == 0 {
		return "valid-auc", "-"
	}
	return "valid-auc", fmt.Sprintf("%.4f", f.History.Valid[len(f.History.Valid)-1])
}

// Fit trains for f.Epochs epochs on train, and evaluates on train and valid after each epoch. valid can be
// nil.
//
// An incomplete last batch is dropped, so train must have at least f.BatchSize examples.
func (f *Fitter) Fit(trainExamples, validExamples *features.Examples) (*History, error) {
	if err := f.init(); err != nil {
		return nil, err
	}
	if trainExamples.Len() < f.BatchSize {
		return nil, errors.Errorf("fit requires at least one full batch of %d train examples, got %d",
			f.BatchSize, trainExamples.Len())
	}
	hasValid := validExamples.Len() > 0
	trainDS, err := f.trainDataset("train", trainExamples)
	if err != nil {
		return nil, err
	}

	for epoch := range f.Epochs {
		start := time.Now()
		if err = f.trainEpoch(trainDS); err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch+1)
		}
		trainResult, err := f.evaluate(trainExamples)
		if err != nil {
			return nil, err
		}
		f.History.Train = append(f.History.Train, trainResult)
		validResult := math.NaN()
		if hasValid {
			validResult, err = f.evaluate(validExamples)
			if err != nil {
				return nil, err
			}
			f.History.Valid = append(f.History.Valid, validResult)
		}
		f.logEpoch(epoch, trainResult, validResult, hasValid, time.Since(start))
		if err = f.save(); err != nil {
			return nil, err
		}
		if f.EarlyStopping && hasValid && ShouldStop(f.History.Valid, f.GreaterIsBetter) {
			klog.Infof("early stopping at epoch %d", epoch+1)
			break
		}
	}

	if f.Refit && hasValid {
		if err = f.refit(trainExamples, validExamples); err != nil {
			return nil, err
		}
	}
	if err = f.updateBatchNormAverages(trainExamples); err != nil {
		return nil, err
	}
	return &f.History, nil
}

// refit continues the training on train+valid until the train score reaches the train score of the best
// validation epoch, or MaxRefitEpochs is reached.
func (f *Fitter) refit(trainExamples, validExamples *features.Examples) error {
	bestEpoch := evaluation.Best(f.History.Valid, f.GreaterIsBetter)
	if bestEpoch < 0 {
		klog.Warningf("refit skipped: no valid results")
		return nil
	}
	target := f.History.Train[bestEpoch]
	all, err := features.Concat(trainExamples, validExamples)
	if err != nil {
		return err
	}
	allDS, err := f.trainDataset("train+valid", all)
	if err != nil {
		return err
	}
	klog.Infof("refit on %d examples, target train score %.4f (epoch %d)", all.Len(), target, bestEpoch+1)
	for epoch := range MaxRefitEpochs {
		if err = f.trainEpoch(allDS); err != nil {
			return errors.WithMessagef(err, "refit epoch %d", epoch+1)
		}
		score, err := f.evaluate(all)
		if err != nil {
			return err
		}
		klog.V(1).Infof("[refit %d] train-result=%.4f", epoch+1, score)
		if ReachedTarget(score, target, f.GreaterIsBetter) {
			break
		}
	}
	return f.save()
}

// trainDataset shuffles with the Fitter's random number generator, and drops the incomplete last batch.
func (f *Fitter) trainDataset(name string, examples *features.Examples) (*datasets.InMemoryDataset, error) {
	ds, err := features.NewDataset(f.Backend, name, examples)
	if err != nil {
		return nil, err
	}
	return ds.BatchSize(f.BatchSize, true).Shuffle().WithRand(f.rng), nil
}

func (f *Fitter) trainEpoch(ds train.Dataset) error {
	metricsValues, err := f.loop.RunEpochs(ds, 1)
	for _, m := range metricsValues {
		m.MustFinalizeAll()
	}
	return err
}

// evaluate returns the AUC of the model over the examples.
func (f *Fitter) evaluate(examples *features.Examples) (float64, error) {
	result, err := f.Evaluate(examples)
	if err != nil {
		return 0, err
	}
	return result.AUC, nil
}

// getPredictor compiles the predictor on first use.
func (f *Fitter) getPredictor() (*evaluation.Predictor, error) {
	if f.predictor == nil {
		var err error
		f.predictor, err = evaluation.NewPredictor(f.Backend, f.Context, f.ModelFn, 0)
		if err != nil {
			return nil, err
		}
	}
	return f.predictor, nil
}

func (f *Fitter) logEpoch(epoch int, trainResult, validResult float64, hasValid bool, elapsed time.Duration) {
	if f.LogEvery <= 0 || epoch%f.LogEvery != 0 {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] train-result=%.4f", epoch+1, trainResult)
	if hasValid {
		fmt.Fprintf(&sb, ", valid-result=%.4f", validResult)
	}
	fmt.Fprintf(&sb, " [%.1f s]", elapsed.Seconds())
	klog.Info(sb.String())
}

func (f *Fitter) save() error {
	if f.Checkpoint == nil {
		return nil
	}
	return f.Checkpoint.Save()
}

// updateBatchNormAverages recalculates the batch normalization moving averages over the train examples, if
// the model uses batch normalization.
func (f *Fitter) updateBatchNormAverages(examples *features.Examples) error {
	ds, err := features.NewDataset(f.Backend, "batchnorm", examples)
	if err != nil {
		return err
	}
	updated, err := batchnorm.UpdateAverages(f.trainer, ds.BatchSize(f.BatchSize, false))
	if err != nil {
		return errors.WithMessage(err, "updating batch normalization averages")
	}
	if updated {
		klog.Infof("updated batch normalization mean/variances averages")
		return f.save()
	}
	return nil
}

// Predict returns the predictions for the examples, using the current model variables.
func (f *Fitter) Predict(examples *features.Examples) ([]float32, error) {
	predictor, err := f.getPredictor()
	if err != nil {
		return nil, err
	}
	return predictor.Predict(examples)
}

// Evaluate the current model on the examples.
func (f *Fitter) Evaluate(examples *features.Examples) (evaluation.Result, error) {
	predictor, err := f.getPredictor()
	if err != nil {
		return evaluation.Result{}, err
	}
	return predictor.Evaluate(examples)
}

// ShouldStop reports whether the last EarlyStoppingWindow validation results are strictly worsening: strictly
// decreasing if greaterIsBetter, strictly increasing otherwise. It requires more than EarlyStoppingWindow
// results.
func ShouldStop(validResults []float64, greaterIsBetter bool) bool {
	n := len(validResults)
	if n <= EarlyStoppingWindow {
		return false
	}
	for ii := n - EarlyStoppingWindow + 1; ii < n; ii++ {
		prev, curr := validResults[ii-1], validResults[ii]
		if greaterIsBetter && !(curr < prev) {
			return false
		}
		if !greaterIsBetter && !(curr > prev) {
			return false
		}
	}
	return true
}

// ReachedTarget reports whether the refit phase reached its target score: it is within RefitTolerance of the
// target, or better than the target.
func ReachedTarget(score, target float64, greaterIsBetter bool) bool {
	if math.Abs(score-target) < RefitTolerance {
		return true
	}
	if greaterIsBetter {
		return score > target
	}
	return score < target
}
