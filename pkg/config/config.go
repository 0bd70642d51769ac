// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config creates the default context hyperparameters of the CTR pipelines, and loads overrides from
// YAML files.
package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/ctrmodels/pkg/fit"
	"github.com/gomlx/ctrmodels/pkg/losses"
	"github.com/gomlx/ctrmodels/pkg/models"
	"github.com/gomlx/ctrmodels/pkg/optimizers/classic"
)

const (
	// ParamNumCheckpoints is the number of checkpoints to keep.
	ParamNumCheckpoints = "num_checkpoints"
)

// ParamsExcludedFromCheckpoints are the parameters not loaded from checkpoints: they can be changed in later
// runs of the same model.
var ParamsExcludedFromCheckpoints = []string{
	fit.ParamNumEpochs, ParamNumCheckpoints, fit.ParamLogSteps,
	fit.ParamEarlyStopping, fit.ParamRefit,
}

// CreateDefaultContext returns a context with the default hyperparameters of the models, the training loop
// and the optimizers.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(models.Defaults())
	ctx.SetParams(map[string]any{
		losses.ParamLossMode:         losses.LogLoss,
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.0005,

		fit.ParamBatchSize:       128,
		fit.ParamNumEpochs:       10,
		fit.ParamEarlyStopping:   false,
		fit.ParamRefit:           false,
		fit.ParamGreaterIsBetter: true,
		fit.ParamSeed:            2016,

		fit.ParamLogSteps:   1406,
		ParamNumCheckpoints: 3,

		// Optimizers fine-tuning.
		classic.ParamInitialAccumulator:    -1.0, // < 0 means the optimizer default.
		classic.ParamMomentum:              0.95,
		classic.ParamFtrlL1:                0.0,
		classic.ParamFtrlL2:                0.0,
		classic.ParamFtrlLearningRatePower: -0.5,
	})
	return ctx
}

// LoadYAML sets the context parameters from a YAML mapping of parameter name to value.
//
// Parameters must already be defined in the root scope of the context (e.g. by CreateDefaultContext), and the
// values are decoded into the type of the existing value. Scoped parameters are given as absolute paths, e.g.
// "/model/dropout".
//
// It returns the list of parameters set, sorted, in the same format as commandline.ParseContextSettings.
func LoadYAML(ctx *context.Context, path string) (paramsSet []string, err error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings from %q", path)
	}
	var mapping map[string]yaml.Node
	if err = yaml.Unmarshal(contents, &mapping); err != nil {
		return nil, errors.Wrapf(err, "parsing YAML settings from %q", path)
	}
	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, paramPath := range keys {
		node := mapping[paramPath]
		if err = setParam(ctx, paramPath, &node); err != nil {
			return nil, errors.WithMessagef(err, "in %q", path)
		}
		paramsSet = append(paramsSet, paramPath)
	}
	return paramsSet, nil
}

func setParam(ctx *context.Context, paramPath string, node *yaml.Node) error {
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		return errors.Errorf("parameter %q is scoped but not absolute (it does not start with %q)",
			paramPath, context.ScopeSeparator)
	}
	current, found := ctx.GetParam(paramName)
	if !found {
		return errors.Errorf("unknown parameter %q", paramPath)
	}
	var value any
	var err error
	switch current.(type) {
	case int:
		value, err = decode[int](node)
	case int64:
		value, err = decode[int64](node)
	case float64:
		value, err = decode[float64](node)
	case bool:
		value, err = decode[bool](node)
	case string:
		value, err = decode[string](node)
	case []int:
		value, err = decode[[]int](node)
	case []float64:
		value, err = decode[[]float64](node)
	case []string:
		value, err = decode[[]string](node)
	default:
		err = errors.Errorf("parameter of type %T is not supported", current)
	}
	if err != nil {
		return errors.WithMessagef(err, "setting parameter %q (default value is %#v)", paramPath, current)
	}
	if paramScope != "" {
		ctx = ctx.InAbsPath(paramScope)
	}
	ctx.SetParam(paramName, value)
	return nil
}

func decode[T any](node *yaml.Node) (T, error) {
	var v T
	err := node.Decode(&v)
	return v, errors.Wrapf(err, "line %d", node.Line)
}

// DefaultFileName returns the name of the model files when none is given: prefix followed by the date of the
// day before now, e.g. "ch05_FNN_PNN_20190327".
func DefaultFileName(prefix string, now time.Time) string {
	return prefix + "_" + now.AddDate(0, 0, -1).Format("20060102")
}

// NewCheckpoint creates a checkpoint handler in dir, keeping the last ParamNumCheckpoints checkpoints.
// The parameters in paramsSet (set by the user in this run) and ParamsExcludedFromCheckpoints are not
// overwritten by the values saved in the checkpoint.
func NewCheckpoint(ctx *context.Context, dir string, paramsSet []string) (*checkpoints.Handler, error) {
	handler, err := checkpoints.Build(ctx).
		Dir(dir).
		Keep(context.GetParamOr(ctx, ParamNumCheckpoints, 3)).
		ExcludeParams(append(slices.Clone(paramsSet), ParamsExcludedFromCheckpoints...)...).
		Done()
	return handler, errors.WithMessagef(err, "creating checkpoint handler in %q", dir)
}
