// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tower implements the multi-layer perceptron ("deep tower") shared by the CTR models.
//
// E.g.: a tower of 3 hidden layers with dropout, followed by the 1-unit logit output:
//
//	func MyModel(ctx *context.Context, x *Node) *Node {
//		x = tower.New(ctx, x).
//			Layers(256, 128, 64).
//			Dropout(0.5, 0.5, 0.5).
//			BatchNorm(true, 0.995).
//			Done()
//		return tower.Output(ctx, x, nil)
//	}
package tower

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
)

const (
	// WeightsVariableName is the name of the weights of each dense layer, shaped [inputDim, outputDim].
	WeightsVariableName = "weights"

	// BiasesVariableName is the name of the biases of each dense layer, shaped [outputDim].
	BiasesVariableName = "biases"

	// OutputScope is the scope of the final 1-unit layer created by Output.
	OutputScope = "output"
)

// Config is created with New, configured with its methods, and applied with Done.
type Config struct {
	ctx   *context.Context
	input *Node

	widths         []int
	dropoutRates   []float64
	inputDropout   float64
	activation     activations.Type
	batchNorm      bool
	batchNormDecay float64
	regularizer    regularizers.Regularizer
}

// New creates the configuration of a tower over input, shaped [batchSize, featureDim].
// By default, it has no layers (Done returns the input), uses "relu", no dropout and no batch normalization.
func New(ctx *context.Context, input *Node) *Config {
	if input.Rank() != 2 {
		exceptions.Panicf("tower: input must be shaped [batchSize, featureDim], got %s", input.Shape())
	}
	return &Config{
		ctx:            ctx,
		input:          input,
		activation:     activations.TypeRelu,
		batchNormDecay: 0.995,
	}
}

// Layers sets the widths of the hidden layers.
func (c *Config) Layers(widths ...int) *Config {
	for _, w := range widths {
		if w <= 0 {
			exceptions.Panicf("tower: layer widths must be > 0, got %v", widths)
		}
	}
	c.widths = widths
	return c
}

// Dropout sets the dropout rate applied after each hidden layer: rates[i] for layer i.
// If there are fewer rates than layers, the remaining layers get no dropout.
//
// Dropout is only applied during training.
func (c *Config) Dropout(rates ...float64) *Config {
	for _, rate := range rates {
		checkRate(rate)
	}
	c.dropoutRates = rates
	return c
}

// InputDropout sets a dropout rate applied to the input, before the first layer.
func (c *Config) InputDropout(rate float64) *Config {
	checkRate(rate)
	c.inputDropout = rate
	return c
}

func checkRate(rate float64) {
	if rate < 0 || rate >= 1.0 {
		exceptions.Panicf("tower: invalid dropout rate %g, it must be in [0, 1)", rate)
	}
}

// Activation sets the activation applied after each hidden layer. Default is relu.
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// BatchNorm enables batch normalization after each dense layer (before the activation), with the given decay
// (momentum) for the moving averages of mean and variance.
func (c *Config) BatchNorm(enabled bool, decay float64) *Config {
	c.batchNorm = enabled
	c.batchNormDecay = decay
	return c
}

// Regularizer to apply to the weights of each layer (not to the biases).
func (c *Config) Regularizer(regularizer regularizers.Regularizer) *Config {
	c.regularizer = regularizer
	return c
}

// Done builds the tower, with one scope "mlp_<i>" per layer, and returns the output of the last hidden layer.
func (c *Config) Done() *Node {
	x := c.input
	g := x.Graph()
	if c.inputDropout > 0 {
		x = layers.DropoutNormalize(c.ctx.In("mlp_input"), x, Scalar(g, x.DType(), c.inputDropout), true)
	}
	for ii, width := range c.widths {
		layerCtx := c.ctx.Inf("mlp_%d", ii)
		x = dense(layerCtx, x, width, c.regularizer)
		if c.batchNorm {
			x = batchnorm.New(layerCtx, x, -1).Momentum(c.batchNormDecay).Done()
		}
		x = activations.Apply(c.activation, x)
		if ii < len(c.dropoutRates) && c.dropoutRates[ii] > 0 {
			x = layers.DropoutNormalize(layerCtx, x, Scalar(g, x.DType(), c.dropoutRates[ii]), true)
		}
	}
	return x
}

// Output adds the final linear layer with a single unit, in the scope OutputScope, returning logits shaped
// [batchSize, 1].
func Output(ctx *context.Context, x *Node, regularizer regularizers.Regularizer) *Node {
	return dense(ctx.In(OutputScope), x, 1, regularizer)
}

// dense applies x·W + b, with W and b created in ctx. Biases start at zero.
func dense(ctx *context.Context, x *Node, width int, regularizer regularizers.Regularizer) *Node {
	g := x.Graph()
	dtype := x.DType()
	inputDim := x.Shape().Dimensions[x.Rank()-1]
	weightsVar := ctx.VariableWithShape(WeightsVariableName, shapes.Make(dtype, inputDim, width))
	if regularizer != nil {
		regularizer(ctx, g, weightsVar)
	}
	biasesVar := ctx.WithInitializer(initializers.Zero).VariableWithShape(BiasesVariableName, shapes.Make(dtype, width))
	x = Einsum("bi,io->bo", x, weightsVar.ValueGraph(g))
	return Add(x, ExpandAxes(biasesVar.ValueGraph(g), 0))
}

// WeightsVars returns the weights variables of the tower layers built in ctx, plus the output layer if present.
// Useful to apply regularization after the graph is built.
func WeightsVars(ctx *context.Context, numLayers int) []*context.Variable {
	vars := make([]*context.Variable, 0, numLayers+1)
	for ii := range numLayers {
		if v := ctx.Inf("mlp_%d", ii).GetVariable(WeightsVariableName); v != nil {
			vars = append(vars, v)
		}
	}
	if v := ctx.In(OutputScope).GetVariable(WeightsVariableName); v != nil {
		vars = append(vars, v)
	}
	return vars
}
