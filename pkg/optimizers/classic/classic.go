// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classic implements the accumulator based optimizers commonly used to train CTR models:
// Adagrad, Momentum and FTRL-proximal. They implement GoMLX's optimizers.Interface, and are registered
// in optimizers.KnownOptimizers as "adagrad", "momentum" and "ftrl", along with "gd" (plain gradient
// descent with no learning rate decay). It also re-registers "adam" with epsilon 1e-8.
//
// Use ByName or FromContext to select an optimizer by a case-insensitive name.
package classic

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

const (
	// DefaultLearningRate is used if no learning rate is configured, neither in the Config nor in the context
	// (optimizers.ParamLearningRate).
	DefaultLearningRate = 0.001

	// ParamInitialAccumulator overrides the initial value of the Adagrad and FTRL accumulators. A float64,
	// negative values are ignored.
	ParamInitialAccumulator = "initial_accumulator"

	// ParamMomentum overrides the momentum of the Momentum optimizer. A float64, default is 0.95.
	ParamMomentum = "momentum"

	// ParamFtrlL1 is the FTRL L1 regularization strength. A float64, default is 0.
	ParamFtrlL1 = "ftrl_l1"

	// ParamFtrlL2 is the FTRL L2 regularization strength. A float64, default is 0.
	ParamFtrlL2 = "ftrl_l2"

	// ParamFtrlLearningRatePower is the FTRL learning rate power. A float64 <= 0, default is -0.5.
	ParamFtrlLearningRatePower = "ftrl_learning_rate_power"
)

func init() {
	optimizers.KnownOptimizers["adam"] = func(ctx *context.Context) optimizers.Interface {
		return optimizers.Adam().Betas(0.9, 0.999).Epsilon(1e-8).FromContext(ctx).Done()
	}
	optimizers.KnownOptimizers["adagrad"] = func(ctx *context.Context) optimizers.Interface {
		return Adagrad().FromContext(ctx).Done()
	}
	optimizers.KnownOptimizers["momentum"] = func(ctx *context.Context) optimizers.Interface {
		return Momentum().FromContext(ctx).Done()
	}
	optimizers.KnownOptimizers["ftrl"] = func(ctx *context.Context) optimizers.Interface {
		return Ftrl().FromContext(ctx).Done()
	}
	optimizers.KnownOptimizers["gd"] = func(ctx *context.Context) optimizers.Interface {
		return optimizers.StochasticGradientDescent().WithDecay(false).
			WithLearningRate(context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)).
			Done()
	}
}

// Names returns the sorted names of all known optimizers.
func Names() []string {
	names := make([]string, 0, len(optimizers.KnownOptimizers))
	for name := range optimizers.KnownOptimizers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ByName returns the optimizer registered in optimizers.KnownOptimizers under the lower-cased name.
func ByName(ctx *context.Context, name string) (optimizers.Interface, error) {
	builder, found := optimizers.KnownOptimizers[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %v", name, Names())
	}
	return builder(ctx), nil
}

// FromContext returns the optimizer named by optimizers.ParamOptimizer, matched case-insensitively.
// The default is "adam".
func FromContext(ctx *context.Context) (optimizers.Interface, error) {
	return ByName(ctx, context.GetParamOr(ctx, optimizers.ParamOptimizer, "adam"))
}

type kind int

const (
	kindAdagrad kind = iota
	kindMomentum
	kindFtrl
)

// Config holds the configuration of an optimizer. Create it with Adagrad, Momentum or Ftrl, and finalize it
// with Done.
type Config struct {
	kind               kind
	scopeName          string
	learningRate       float64
	initialAccumulator float64
	momentum           float64
	l1, l2             float64
	learningRatePower  float64
}

// Adagrad creates the configuration of an Adagrad optimizer:
//
//	accum += g²
//	w -= lr·g/√accum
//
// The accumulator starts at 1e-8.
func Adagrad() *Config {
	return &Config{
		kind:               kindAdagrad,
		scopeName:          "AdagradOptimizer",
		learningRate:       -1,
		initialAccumulator: 1e-8,
	}
}

// Momentum creates the configuration of a gradient descent with momentum (0.95 by default):
//
//	a = momentum·a + g
//	w -= lr·a
func Momentum() *Config {
	return &Config{
		kind:         kindMomentum,
		scopeName:    "MomentumOptimizer",
		learningRate: -1,
		momentum:     0.95,
	}
}

// Ftrl creates the configuration of a FTRL-proximal optimizer, with learning rate power -0.5, the accumulator
// starting at 0.1 and no L1 or L2 regularization. With p = -learningRatePower:
//
//	accum' = accum + g²
//	linear += g - (accum'^p - accum^p)/lr · w
//	w = |linear| > l1 ? (sign(linear)·l1 - linear) / (accum'^p/lr + 2·l2) : 0
func Ftrl() *Config {
	return &Config{
		kind:               kindFtrl,
		scopeName:          "FtrlOptimizer",
		learningRate:       -1,
		initialAccumulator: 0.1,
		learningRatePower:  -0.5,
	}
}

// FromContext reads the optional hyperparameters from the context: optimizers.ParamLearningRate,
// ParamInitialAccumulator, ParamMomentum, ParamFtrlL1, ParamFtrlL2 and ParamFtrlLearningRatePower.
func (c *Config) FromContext(ctx *context.Context) *Config {
	c.learningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, c.learningRate)
	if value := context.GetParamOr(ctx, ParamInitialAccumulator, -1.0); value >= 0 {
		c.initialAccumulator = value
	}
	c.momentum = context.GetParamOr(ctx, ParamMomentum, c.momentum)
	c.l1 = context.GetParamOr(ctx, ParamFtrlL1, c.l1)
	c.l2 = context.GetParamOr(ctx, ParamFtrlL2, c.l2)
	c.learningRatePower = context.GetParamOr(ctx, ParamFtrlLearningRatePower, c.learningRatePower)
	return c
}

// LearningRate sets the learning rate. If not set, it is read from optimizers.ParamLearningRate at graph
// building time, with DefaultLearningRate as default.
func (c *Config) LearningRate(value float64) *Config {
	c.learningRate = value
	return c
}

// Scope sets the scope name where the slot variables are stored.
func (c *Config) Scope(name string) *Config {
	c.scopeName = name
	return c
}

// Done validates the configuration and returns the optimizer.
func (c *Config) Done() optimizers.Interface {
	if c.initialAccumulator < 0 {
		exceptions.Panicf("optimizer initial accumulator must be >= 0, got %g", c.initialAccumulator)
	}
	if c.kind == kindFtrl {
		if c.learningRatePower > 0 {
			exceptions.Panicf("ftrl learning rate power must be <= 0, got %g", c.learningRatePower)
		}
		if c.l1 < 0 || c.l2 < 0 {
			exceptions.Panicf("ftrl l1 and l2 must be >= 0, got %g and %g", c.l1, c.l2)
		}
	}
	return &optimizer{config: *c}
}

type optimizer struct {
	config Config
}

// UpdateGraph implements optimizers.Interface.
func (o *optimizer) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) == 0 {
		exceptions.Panicf("no gradients to apply, are there any trainable variables?")
	}
	dtype := loss.DType()

	lrValue := o.config.learningRate
	if lrValue <= 0 {
		lrValue = context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	}
	learningRate := optimizers.LearningRateVar(ctx, dtype, lrValue).ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)

	numTrainable := len(grads)
	varIdx := 0
	for v := range ctx.IterVariables() {
		if !v.Trainable || !v.InUseByGraph(g) {
			continue
		}
		if varIdx < numTrainable {
			o.apply(ctx, g, v, grads[varIdx], learningRate)
		}
		varIdx++
	}
	if varIdx != numTrainable {
		exceptions.Panicf("got gradients for %d variables, but the optimizer sees %d trainable variables -- "+
			"were new variables created in between?", numTrainable, varIdx)
	}
}

// apply updates one variable and its slots.
func (o *optimizer) apply(ctx *context.Context, g *Graph, v *context.Variable, grad, learningRate *Node) {
	value := v.ValueGraph(g)
	dtype := value.DType()
	if grad.DType() != dtype {
		grad = ConvertDType(grad, dtype)
	}
	if learningRate.DType() != dtype {
		learningRate = ConvertDType(learningRate, dtype)
	}
	optimizers.TraceNaNInGradients(ctx, v, grad)
	grad = optimizers.ClipNaNsInGradients(ctx, grad)

	var updated *Node
	switch o.config.kind {
	case kindAdagrad:
		accumVar := o.slot(ctx, v, "accumulator", o.config.initialAccumulator)
		accum := Add(accumVar.ValueGraph(g), Square(grad))
		accumVar.SetValueGraph(accum)
		step := Div(Mul(learningRate, grad), Sqrt(accum))
		updated = Sub(value, optimizers.ClipStepByValue(ctx, step))

	case kindMomentum:
		accumVar := o.slot(ctx, v, "momentum", 0)
		accum := Add(MulScalar(accumVar.ValueGraph(g), o.config.momentum), grad)
		accumVar.SetValueGraph(accum)
		updated = Sub(value, optimizers.ClipStepByValue(ctx, Mul(learningRate, accum)))

	case kindFtrl:
		accumVar := o.slot(ctx, v, "accumulator", o.config.initialAccumulator)
		linearVar := o.slot(ctx, v, "linear", 0)
		accum := accumVar.ValueGraph(g)
		newAccum := Add(accum, Square(grad))
		power := Scalar(g, dtype, -o.config.learningRatePower)
		newAccumPow := Pow(newAccum, power)
		sigma := Div(Sub(newAccumPow, Pow(accum, power)), learningRate)
		linear := Add(linearVar.ValueGraph(g), Sub(grad, Mul(sigma, value)))
		quadratic := AddScalar(Div(newAccumPow, learningRate), 2*o.config.l2)
		l1 := Scalar(g, dtype, o.config.l1)
		proximal := Div(Sub(Mul(Sign(linear), l1), linear), quadratic)
		updated = Where(GreaterThan(Abs(linear), l1), proximal, ZerosLike(proximal))
		accumVar.SetValueGraph(newAccum)
		linearVar.SetValueGraph(linear)

	default:
		exceptions.Panicf("unknown optimizer kind %d", o.config.kind)
	}
	v.SetValueGraph(optimizers.ClipNaNsInUpdates(ctx, value, updated))
}

// slot returns the slot variable (created with initialValue if needed) for the trainable variable, stored
// under the optimizer scope followed by the variable scope.
func (o *optimizer) slot(ctx *context.Context, trainable *context.Variable, slotName string, initialValue float64) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, o.config.scopeName, trainable.Scope())
	name := fmt.Sprintf("%s_%s", trainable.Name(), slotName)
	shape := trainable.Shape().Clone()
	return ctx.Checked(false).
		InAbsPath(scopePath).
		WithInitializer(constant(initialValue)).
		VariableWithShape(name, shape).
		SetTrainable(false)
}

// Clear deletes all slot variables. It implements optimizers.Interface.
func (o *optimizer) Clear(ctx *context.Context) error {
	return ctx.InAbsPath(context.ScopeSeparator + o.config.scopeName).DeleteVariablesInScope()
}

func constant(value float64) context.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		return BroadcastToShape(Scalar(g, shape.DType, value), shape)
	}
}
