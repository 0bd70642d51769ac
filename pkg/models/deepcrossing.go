// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"

	"github.com/gomlx/ctrmodels/pkg/layers/embedding"
)

// DeepCrossing implements train.ModelFn for the Deep Crossing model: the value-scaled embeddings are stacked
// into [batchSize, numFields*embedSize] and fed to the deep tower.
//
// The tower uses fully connected layers instead of residual units.
func DeepCrossing(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	hp := HyperparamsFromContext(ctx)
	featIdx, featValue := splitInputs(hp, inputs)
	g := featIdx.Graph()
	batchSize := featIdx.Shape().Dimensions[0]
	ctx = ctx.WithInitializer(initializers.XavierNormalFn(ctx))

	embCtx := ctx.In(EmbedScope)
	embeddings := embedding.Lookup(embCtx, featIdx, featValue, hp.FeatureSize, hp.EmbedSize)
	if l2 := hp.l2Regularizer(); l2 != nil {
		l2(embCtx, g, embedding.TableVar(embCtx))
	}
	stacked := Reshape(embeddings, batchSize, hp.FieldSize*hp.EmbedSize)
	return []*Node{deepTower(ctx.In(DeepScope), hp, stacked)}
}
