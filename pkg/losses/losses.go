// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses maps the CTR "loss_mode" hyperparameter to training losses and to the activation
// that turns the model outputs into predictions.
//
// All models output one logit per example, shaped [batchSize, 1]:
//
//   - "log_loss": sigmoid cross-entropy on the logits; predictions are sigmoid(logit).
//   - "square_loss": mean squared error between the labels and sigmoid(logit); predictions are sigmoid(logit).
//   - "mse": mean squared error between the labels and the raw output; predictions are the raw output.
package losses

import (
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	gomlxlosses "github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/pkg/errors"
)

const (
	// ParamLossMode is the context hyperparameter that selects the loss. Default is LogLoss.
	ParamLossMode = "loss_mode"

	LogLoss    = "log_loss"
	SquareLoss = "square_loss"
	MSE        = "mse"
)

// Modes lists the valid values for ParamLossMode.
var Modes = []string{LogLoss, SquareLoss, MSE}

// Normalize validates the loss mode name and returns it in its canonical (lower-case) form.
func Normalize(mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	for _, m := range Modes {
		if m == mode {
			return m, nil
		}
	}
	return "", errors.Errorf("unknown loss mode %q, valid values are %q", mode, Modes)
}

// New returns the training loss for the given mode.
func New(mode string) (train.LossFn, error) {
	mode, err := Normalize(mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case SquareLoss:
		return SquareLossFn, nil
	case MSE:
		return gomlxlosses.MeanSquaredError, nil
	default:
		return gomlxlosses.BinaryCrossentropyLogits, nil
	}
}

// FromContext returns the training loss configured by ParamLossMode.
func FromContext(ctx *context.Context) (train.LossFn, error) {
	return New(ModeFromContext(ctx))
}

// ModeFromContext returns the value of ParamLossMode, with LogLoss as default.
func ModeFromContext(ctx *context.Context) string {
	return context.GetParamOr(ctx, ParamLossMode, LogLoss)
}

// SquareLossFn is the mean of (label - sigmoid(logit))².
func SquareLossFn(labels, logits []*Node) *Node {
	return gomlxlosses.MeanSquaredError(labels, []*Node{Sigmoid(logits[0])})
}

// Activate converts the model output to predictions for the given loss mode:
// sigmoid for every mode except MSE, which returns the raw output.
//
// It panics on an unknown mode, since it is meant to be called while building a graph.
func Activate(mode string, output *Node) *Node {
	mode, err := Normalize(mode)
	if err != nil {
		exceptions.Panicf("losses.Activate: %v", err)
	}
	if mode == MSE {
		return output
	}
	return Sigmoid(output)
}
