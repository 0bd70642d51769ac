// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"

	"github.com/gomlx/ctrmodels/pkg/layers/embedding"
	"github.com/gomlx/ctrmodels/pkg/layers/product"
	"github.com/gomlx/ctrmodels/pkg/layers/tower"
)

// Scopes shared by the FNN, PNN and Deep Crossing models.
const (
	LinearScope  = "linear_part"
	EmbedScope   = "embed_layer"
	ProductScope = "product_layer"
	DeepScope    = "deep_layer"
)

// ProductKind selects the product layer of a product network.
type ProductKind int

const (
	// KindFNN feeds the deep tower with the first order weights, the flattened embeddings and a bias.
	KindFNN ProductKind = iota

	// KindIPNN uses the inner-product layer.
	KindIPNN

	// KindOPNN uses the outer-product layer.
	KindOPNN
)

// FNN implements train.ModelFn for the Factorization-machine supported Neural Network.
func FNN(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	return productNetwork(ctx, KindFNN, inputs)
}

// IPNN implements train.ModelFn for the inner Product-based Neural Network.
func IPNN(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	return productNetwork(ctx, KindIPNN, inputs)
}

// OPNN implements train.ModelFn for the outer Product-based Neural Network.
func OPNN(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	return productNetwork(ctx, KindOPNN, inputs)
}

// productNetwork builds the product layer selected by kind, followed by the deep tower over all deep_layers and
// the 1-unit output. For IPNN and OPNN the product layer has D1 = product_size units, or deep_layers[0] if
// product_size is 0.
//
// L2 regularization covers the embeddings, the first order weights (FNN only) and the tower weights.
func productNetwork(ctx *context.Context, kind ProductKind, inputs []*Node) []*Node {
	hp := HyperparamsFromContext(ctx)
	featIdx, featValue := splitInputs(hp, inputs)
	g := featIdx.Graph()
	batchSize := featIdx.Shape().Dimensions[0]
	l2 := hp.l2Regularizer()
	ctx = ctx.WithInitializer(initializers.XavierNormalFn(ctx))

	embCtx := ctx.In(EmbedScope)
	embeddings := embedding.Lookup(embCtx, featIdx, featValue, hp.FeatureSize, hp.EmbedSize)
	if l2 != nil {
		l2(embCtx, g, embedding.TableVar(embCtx))
	}

	productCtx := ctx.In(ProductScope)
	biasCtx := productCtx.WithInitializer(initializers.Zero)
	var deepInputs *Node
	switch kind {
	case KindFNN:
		linCtx := ctx.In(LinearScope)
		firstOrder := embedding.Weights(linCtx, featIdx, featValue, hp.FeatureSize)
		if l2 != nil {
			l2(linCtx, g, embedding.WeightsVar(linCtx))
		}
		deepInputs = Concatenate([]*Node{
			firstOrder,
			Reshape(embeddings, batchSize, hp.FieldSize*hp.EmbedSize),
			product.Bias(biasCtx, featValue, 1),
		}, -1)

	case KindIPNN, KindOPNN:
		d1 := hp.ProductSize
		if d1 == 0 {
			if len(hp.DeepLayers) == 0 {
				exceptions.Panicf("models: product networks require %q or at least one value in %q",
					ParamProductSize, ParamDeepLayers)
			}
			d1 = hp.DeepLayers[0]
		}
		lz := product.Linear(productCtx, embeddings, d1)
		var lp *Node
		if kind == KindIPNN {
			lp = product.Inner(productCtx, embeddings, d1)
		} else {
			lp = product.Outer(productCtx, embeddings, d1)
		}
		deepInputs = Add(Add(lz, lp), product.Bias(biasCtx, featValue, d1))

	default:
		exceptions.Panicf("models: unknown product kind %d", kind)
	}

	return []*Node{deepTower(ctx.In(DeepScope), hp, deepInputs)}
}

// deepTower applies the tower with the dropout rate dropout[i] after layer i, and the output layer.
func deepTower(ctx *context.Context, hp *Hyperparams, x *Node) *Node {
	l2 := hp.l2Regularizer()
	x = tower.New(ctx, x).
		Layers(hp.DeepLayers...).
		Dropout(hp.Dropout...).
		Activation(hp.Activation).
		BatchNorm(hp.BatchNorm, hp.BatchNormDecay).
		Regularizer(l2).
		Done()
	return tower.Output(ctx, x, l2)
}
