// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package embedding implements the field-aware embedding lookups used by CTR models.
//
// Inputs are always the pair (featIdx, featValue), both shaped [batchSize, numFields]: featIdx
// holds the feature index of each field (into a table of featureSize rows), and featValue the
// value of the feature (1 for one-hot categorical features, the raw value for numeric ones).
// Looked-up vectors are scaled by the feature value.
package embedding

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

const (
	// TableVariableName is the name of the embeddings table variable, shaped [featureSize, embedSize].
	TableVariableName = "embeddings"

	// WeightsVariableName is the name of the per-feature (first order) weights variable, shaped [featureSize].
	WeightsVariableName = "weights"
)

func checkInputs(featIdx, featValue *Node) {
	if featIdx.Rank() != 2 || !featIdx.DType().IsInt() {
		exceptions.Panicf("embedding: featIdx must be an integer tensor shaped [batchSize, numFields], got %s",
			featIdx.Shape())
	}
	if featValue.Rank() != 2 || featValue.Shape().Dimensions[0] != featIdx.Shape().Dimensions[0] ||
		featValue.Shape().Dimensions[1] != featIdx.Shape().Dimensions[1] {
		exceptions.Panicf("embedding: featValue shape %s doesn't match featIdx shape %s",
			featValue.Shape(), featIdx.Shape())
	}
}

// Lookup returns the embeddings of the features, scaled by their values, shaped [batchSize, numFields, embedSize].
//
// The table variable is created in ctx (with ctx's initializer) as TableVariableName, with the dtype of featValue.
func Lookup(ctx *context.Context, featIdx, featValue *Node, featureSize, embedSize int) *Node {
	checkInputs(featIdx, featValue)
	g := featIdx.Graph()
	tableVar := ctx.VariableWithShape(TableVariableName, shapes.Make(featValue.DType(), featureSize, embedSize))
	table := tableVar.ValueGraph(g)
	embeddings := Gather(table, ExpandAxes(featIdx, -1)) // [batch, fields, embed]
	return Mul(embeddings, ExpandAxes(featValue, -1))
}

// TableVar returns the embeddings table variable created by Lookup in ctx, or nil if it doesn't exist.
func TableVar(ctx *context.Context) *context.Variable {
	return ctx.GetVariable(TableVariableName)
}

// Weights returns the first-order weights of the features, scaled by their values, shaped [batchSize, numFields].
//
// The weights variable is created in ctx (with ctx's initializer) as WeightsVariableName, shaped [featureSize, 1].
func Weights(ctx *context.Context, featIdx, featValue *Node, featureSize int) *Node {
	checkInputs(featIdx, featValue)
	g := featIdx.Graph()
	weightsVar := ctx.VariableWithShape(WeightsVariableName, shapes.Make(featValue.DType(), featureSize, 1))
	weights := Gather(weightsVar.ValueGraph(g), ExpandAxes(featIdx, -1)) // [batch, fields, 1]
	return Mul(Reshape(weights, featIdx.Shape().Dimensions...), featValue)
}

// WeightsVar returns the first-order weights variable created by Weights in ctx, or nil if it doesn't exist.
func WeightsVar(ctx *context.Context) *context.Variable {
	return ctx.GetVariable(WeightsVariableName)
}
