// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package product implements the product layer of Product-based Neural Networks (PNN).
//
// The product layer maps field embeddings e shaped [batchSize, numFields, embedSize] to D1 units, as the sum
// of a linear signal (lz), a quadratic signal (lp) and a bias:
//
//   - IPNN: lp_d = Σ_{i<j} θ_{d,i}·θ_{d,j}·<e_i, e_j>
//   - OPNN: lp_d = <W_d, f_Σ ⊗ f_Σ>, with f_Σ = Σ_f e_f.
package product

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Variable names used by the product layer.
const (
	LinearVariableName = "linear"
	InnerVariableName  = "inner"
	OuterVariableName  = "outer"
	BiasVariableName   = "bias"
)

// PairIndices returns the pairs (i, j), i < j, of numFields fields, in row-major order.
// There are numFields*(numFields-1)/2 pairs.
func PairIndices(numFields int) (rows, cols []int) {
	numPairs := numFields * (numFields - 1) / 2
	rows = make([]int, 0, numPairs)
	cols = make([]int, 0, numPairs)
	for i := range numFields - 1 {
		for j := i + 1; j < numFields; j++ {
			rows = append(rows, i)
			cols = append(cols, j)
		}
	}
	return
}

func checkEmbeddings(embeddings *Node) (batchSize, numFields, embedSize int) {
	if embeddings.Rank() != 3 {
		exceptions.Panicf("product layer requires embeddings shaped [batchSize, numFields, embedSize], got %s",
			embeddings.Shape())
	}
	dims := embeddings.Shape().Dimensions
	return dims[0], dims[1], dims[2]
}

// Linear returns the linear signal lz shaped [batchSize, d1]: each unit is a full dot-product with the
// flattened embeddings, with weights shaped [d1, numFields, embedSize].
func Linear(ctx *context.Context, embeddings *Node, d1 int) *Node {
	_, numFields, embedSize := checkEmbeddings(embeddings)
	g := embeddings.Graph()
	wVar := ctx.VariableWithShape(LinearVariableName, shapes.Make(embeddings.DType(), d1, numFields, embedSize))
	return Einsum("bfk,dfk->bd", embeddings, wVar.ValueGraph(g))
}

// Inner returns the IPNN quadratic signal shaped [batchSize, d1].
//
// The weights of the pair (i, j) for unit d are factorized as θ_{d,i}·θ_{d,j}, with θ shaped [d1, numFields].
func Inner(ctx *context.Context, embeddings *Node, d1 int) *Node {
	_, numFields, _ := checkEmbeddings(embeddings)
	if numFields < 2 {
		exceptions.Panicf("product.Inner requires at least 2 fields, got %d", numFields)
	}
	g := embeddings.Graph()
	thetaVar := ctx.VariableWithShape(InnerVariableName, shapes.Make(embeddings.DType(), d1, numFields))
	theta := thetaVar.ValueGraph(g)

	rows, cols := PairIndices(numFields)
	rowsIdx := Const(g, toInt32(rows))
	colsIdx := Const(g, toInt32(cols))

	// Embeddings of each side of the pairs: [numPairs, batch, embed].
	fieldsFirst := Transpose(embeddings, 0, 1) // [fields, batch, embed]
	fi := Gather(fieldsFirst, ExpandAxes(rowsIdx, -1))
	fj := Gather(fieldsFirst, ExpandAxes(colsIdx, -1))
	p := ReduceSum(Mul(fi, fj), -1) // [numPairs, batch]

	// Pair weights: [numPairs, d1].
	thetaT := Transpose(theta, 0, 1) // [fields, d1]
	wp := Mul(Gather(thetaT, ExpandAxes(rowsIdx, -1)), Gather(thetaT, ExpandAxes(colsIdx, -1)))
	return Einsum("pb,pd->bd", p, wp)
}

// Outer returns the OPNN quadratic signal shaped [batchSize, d1].
//
// The outer product is taken over the sum of the field embeddings (superposition), giving a [embedSize, embedSize]
// matrix per example, which is contracted with weights shaped [d1, embedSize, embedSize].
func Outer(ctx *context.Context, embeddings *Node, d1 int) *Node {
	_, _, embedSize := checkEmbeddings(embeddings)
	g := embeddings.Graph()
	wVar := ctx.VariableWithShape(OuterVariableName, shapes.Make(embeddings.DType(), d1, embedSize, embedSize))
	fSigma := ReduceSum(embeddings, 1) // [batch, embed]
	p := Einsum("bi,bj->bij", fSigma, fSigma)
	return Einsum("bij,dij->bd", p, wVar.ValueGraph(g))
}

// Bias returns a single learned scalar bias broadcast to [batchSize, dim], where batchSize and the dtype are
// taken from batchLike.
func Bias(ctx *context.Context, batchLike *Node, dim int) *Node {
	g := batchLike.Graph()
	dtype := batchLike.DType()
	biasVar := ctx.VariableWithShape(BiasVariableName, shapes.Make(dtype))
	return BroadcastToShape(biasVar.ValueGraph(g), shapes.Make(dtype, batchLike.Shape().Dimensions[0], dim))
}

func toInt32(values []int) []int32 {
	out := make([]int32, len(values))
	for ii, v := range values {
		out[ii] = int32(v)
	}
	return out
}
