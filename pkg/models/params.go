// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
)

// Context hyperparameters read by the models. See Defaults for their default values.
const (
	ParamAlgorithm      = "algorithm"
	ParamFeatureSize    = "feature_size"
	ParamFieldSize      = "field_size"
	ParamEmbedSize      = "embed_size"
	ParamDeepLayers     = "deep_layers"
	ParamDropout        = "dropout"
	ParamActivation     = activations.ParamActivation
	ParamBatchNorm      = "batch_norm"
	ParamBatchNormDecay = "batch_norm_decay"
	ParamL2             = "l2_reg_lambda"

	// ParamProductSize is the number of units of the IPNN/OPNN product layer. If 0, deep_layers[0] is used.
	ParamProductSize = "product_size"

	// ParamDropoutFM holds the dropout rates of the first and second order FM terms of DeepFM.
	ParamDropoutFM = "dropout_fm"
	ParamUseFM     = "use_fm"
	ParamUseDeep   = "use_deep"
)

// Defaults returns the default values of the model hyperparameters.
func Defaults() map[string]any {
	return map[string]any{
		ParamAlgorithm:      "DeepFM",
		ParamFeatureSize:    1842,
		ParamFieldSize:      39,
		ParamEmbedSize:      10,
		ParamDeepLayers:     []int{256, 128, 64},
		ParamDropout:        []float64{0.5, 0.5, 0.5},
		ParamActivation:     "relu",
		ParamBatchNorm:      false,
		ParamBatchNormDecay: 0.995,
		ParamL2:             0.0001,
		ParamProductSize:    0,
		ParamDropoutFM:      []float64{0, 0},
		ParamUseFM:          true,
		ParamUseDeep:        true,
	}
}

// Hyperparams holds the model hyperparameters read from a context.
type Hyperparams struct {
	FeatureSize, FieldSize, EmbedSize int
	DeepLayers                        []int
	Dropout                           []float64
	Activation                        activations.Type
	BatchNorm                         bool
	BatchNormDecay                    float64
	L2                                float64
	ProductSize                       int
	DropoutFM                         []float64
	UseFM, UseDeep                    bool
}

// HyperparamsFromContext reads the model hyperparameters from ctx, using Defaults for the ones not set.
//
// It panics if a value is invalid, since it is used while building the model graph.
func HyperparamsFromContext(ctx *context.Context) *Hyperparams {
	defaults := Defaults()
	hp := &Hyperparams{
		FeatureSize:    context.GetParamOr(ctx, ParamFeatureSize, defaults[ParamFeatureSize].(int)),
		FieldSize:      context.GetParamOr(ctx, ParamFieldSize, defaults[ParamFieldSize].(int)),
		EmbedSize:      context.GetParamOr(ctx, ParamEmbedSize, defaults[ParamEmbedSize].(int)),
		DeepLayers:     context.GetParamOr(ctx, ParamDeepLayers, defaults[ParamDeepLayers].([]int)),
		Dropout:        context.GetParamOr(ctx, ParamDropout, defaults[ParamDropout].([]float64)),
		Activation:     activations.FromName(context.GetParamOr(ctx, ParamActivation, "relu")),
		BatchNorm:      context.GetParamOr(ctx, ParamBatchNorm, false),
		BatchNormDecay: context.GetParamOr(ctx, ParamBatchNormDecay, defaults[ParamBatchNormDecay].(float64)),
		L2:             context.GetParamOr(ctx, ParamL2, defaults[ParamL2].(float64)),
		ProductSize:    context.GetParamOr(ctx, ParamProductSize, 0),
		DropoutFM:      context.GetParamOr(ctx, ParamDropoutFM, defaults[ParamDropoutFM].([]float64)),
		UseFM:          context.GetParamOr(ctx, ParamUseFM, true),
		UseDeep:        context.GetParamOr(ctx, ParamUseDeep, true),
	}
	if hp.FeatureSize <= 0 || hp.FieldSize <= 0 || hp.EmbedSize <= 0 {
		exceptions.Panicf("models: %s, %s and %s must be > 0, got %d, %d and %d",
			ParamFeatureSize, ParamFieldSize, ParamEmbedSize, hp.FeatureSize, hp.FieldSize, hp.EmbedSize)
	}
	if hp.ProductSize < 0 {
		exceptions.Panicf("models: %s must be >= 0, got %d", ParamProductSize, hp.ProductSize)
	}
	if hp.L2 < 0 {
		exceptions.Panicf("models: %s must be >= 0, got %g", ParamL2, hp.L2)
	}
	return hp
}

// l2Regularizer returns the L2 regularizer matching l2_reg_lambda·Σw²/2, or nil if L2 is 0.
func (hp *Hyperparams) l2Regularizer() regularizers.Regularizer {
	return regularizers.L2(hp.L2 / 2)
}

// rate returns rates[i], or 0 if there is no such rate.
func rate(rates []float64, i int) float64 {
	if i < len(rates) {
		return rates[i]
	}
	return 0
}
