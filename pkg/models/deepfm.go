// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"

	"github.com/gomlx/ctrmodels/pkg/layers/embedding"
	"github.com/gomlx/ctrmodels/pkg/layers/fm"
	"github.com/gomlx/ctrmodels/pkg/layers/tower"
)

// Scopes used by DeepFM.
const (
	DeepFMEmbeddingsScope = "feature_embeddings"
	DeepFMBiasScope       = "feature_bias"
	DeepFMDeepScope       = "deep"
	DeepFMProjectionScope = "concat_projection"
)

// DeepFM implements train.ModelFn for the DeepFM model, with its FM-only and deep-only variants selected by
// ParamUseFM and ParamUseDeep.
//
// Inputs are [featIdx, featValue], both shaped [batchSize, numFields]. It returns the logits shaped [batchSize, 1].
//
// The output projects the concatenation of the enabled parts:
//
//   - first order: the per-field feature weights, [batchSize, numFields];
//   - second order: the FM pairwise interaction per embedding dimension, [batchSize, embedSize];
//   - deep: the tower over the flattened embeddings, [batchSize, deep_layers[-1]].
func DeepFM(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	return deepFM(ctx, HyperparamsFromContext(ctx), inputs)
}

// FM is DeepFM with only the factorization machine part, regardless of ParamUseFM and ParamUseDeep.
func FM(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	hp := HyperparamsFromContext(ctx)
	hp.UseFM, hp.UseDeep = true, false
	return deepFM(ctx, hp, inputs)
}

// DNN is DeepFM with only the deep part, regardless of ParamUseFM and ParamUseDeep.
func DNN(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	hp := HyperparamsFromContext(ctx)
	hp.UseFM, hp.UseDeep = false, true
	return deepFM(ctx, hp, inputs)
}

func deepFM(ctx *context.Context, hp *Hyperparams, inputs []*Node) []*Node {
	if !hp.UseFM && !hp.UseDeep {
		exceptions.Panicf("DeepFM: at least one of %q or %q must be true", ParamUseFM, ParamUseDeep)
	}
	featIdx, featValue := splitInputs(hp, inputs)
	g := featIdx.Graph()
	batchSize := featIdx.Shape().Dimensions[0]
	l2 := hp.l2Regularizer()

	embCtx := ctx.In(DeepFMEmbeddingsScope).WithInitializer(initializers.RandomNormalFn(ctx, 0.01))
	embeddings := embedding.Lookup(embCtx, featIdx, featValue, hp.FeatureSize, hp.EmbedSize)

	var parts []*Node
	if hp.UseFM {
		biasCtx := ctx.In(DeepFMBiasScope).WithInitializer(initializers.RandomNormalFn(ctx, 1.0))
		firstOrder := embedding.Weights(biasCtx, featIdx, featValue, hp.FeatureSize)
		firstOrder = dropout(ctx.In("first_order"), firstOrder, rate(hp.DropoutFM, 0))
		secondOrder := fm.SecondOrder(embeddings)
		secondOrder = dropout(ctx.In("second_order"), secondOrder, rate(hp.DropoutFM, 1))
		parts = append(parts, firstOrder, secondOrder)
	}
	if hp.UseDeep {
		deepCtx := ctx.In(DeepFMDeepScope).WithInitializer(initializers.XavierNormalFn(ctx))
		x := Reshape(embeddings, batchSize, hp.FieldSize*hp.EmbedSize)
		var layerRates []float64
		if len(hp.Dropout) > 1 {
			layerRates = hp.Dropout[1:]
		}
		x = tower.New(deepCtx, x).
			Layers(hp.DeepLayers...).
			InputDropout(rate(hp.Dropout, 0)).
			Dropout(layerRates...).
			Activation(hp.Activation).
			BatchNorm(hp.BatchNorm, hp.BatchNormDecay).
			Regularizer(l2).
			Done()
		parts = append(parts, x)
	}

	concat := parts[0]
	if len(parts) > 1 {
		concat = Concatenate(parts, -1)
	}

	// Projection to a single logit: bias starts at 0.01.
	projCtx := ctx.In(DeepFMProjectionScope).WithInitializer(initializers.XavierNormalFn(ctx))
	dtype := concat.DType()
	wVar := projCtx.VariableWithShape("weights", shapes.Make(dtype, concat.Shape().Dimensions[1], 1))
	if l2 != nil {
		l2(projCtx, g, wVar)
	}
	bVar := projCtx.WithInitializer(constantInitializer(0.01)).VariableWithShape("bias", shapes.Make(dtype))
	logits := Add(Einsum("bi,io->bo", concat, wVar.ValueGraph(g)), bVar.ValueGraph(g))
	return []*Node{logits}
}

// splitInputs checks and returns the model inputs.
func splitInputs(hp *Hyperparams, inputs []*Node) (featIdx, featValue *Node) {
	if len(inputs) < 2 {
		exceptions.Panicf("models: expected inputs [featIdx, featValue], got %d inputs", len(inputs))
	}
	featIdx, featValue = inputs[0], inputs[1]
	if featIdx.Rank() != 2 || featIdx.Shape().Dimensions[1] != hp.FieldSize {
		exceptions.Panicf("models: featIdx must be shaped [batchSize, %s=%d], got %s",
			ParamFieldSize, hp.FieldSize, featIdx.Shape())
	}
	return
}

// dropout applies the normalized dropout with the given rate, if > 0. It is a no-op during inference.
func dropout(ctx *context.Context, x *Node, rate float64) *Node {
	if rate <= 0 {
		return x
	}
	if rate >= 1 {
		exceptions.Panicf("models: invalid dropout rate %g, it must be in [0, 1)", rate)
	}
	return layers.DropoutNormalize(ctx, x, Scalar(x.Graph(), x.DType(), rate), true)
}

// constantInitializer initializes variables with value.
func constantInitializer(value float64) context.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		return BroadcastToShape(Scalar(g, shape.DType, value), shape)
	}
}
