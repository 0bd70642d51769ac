// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package product

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/stretchr/testify/assert"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestPairIndices(t *testing.T) {
	rows, cols := PairIndices(4)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 2}, rows)
	assert.Equal(t, []int{1, 2, 3, 2, 3, 3}, cols)
	rows, cols = PairIndices(1)
	assert.Empty(t, rows)
	assert.Empty(t, cols)
}

const (
	testBatch  = 2
	testFields = 3
	testEmbed  = 2
	testD1     = 4
)

var testEmbeddings = [][][]float32{
	{{1, 2}, {3, -1}, {0.5, 4}},
	{{-2, 1}, {0.3, 0.7}, {1, 1}},
}

func newTestContext() *context.Context {
	ctx := context.New()
	return ctx.WithInitializer(initializers.RandomNormalFn(ctx, 1.0))
}

func varData(ctx *context.Context, name string) []float32 {
	return tensors.MustCopyFlatData[float32](ctx.GetVariable(name).MustValue())
}

func TestLinear(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, emb *Node) *Node {
		return Linear(ctx, emb, testD1)
	})
	out := exec.MustExec(testEmbeddings)[0]
	assert.Equal(t, []int{testBatch, testD1}, out.Shape().Dimensions)
	got := tensors.MustCopyFlatData[float32](out)
	w := varData(ctx, LinearVariableName)
	for b := range testBatch {
		for d := range testD1 {
			var want float32
			for f := range testFields {
				for k := range testEmbed {
					want += testEmbeddings[b][f][k] * w[(d*testFields+f)*testEmbed+k]
				}
			}
			assert.InDelta(t, want, got[b*testD1+d], 1e-4)
		}
	}
}

func TestInner(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, emb *Node) *Node {
		return Inner(ctx, emb, testD1)
	})
	got := tensors.MustCopyFlatData[float32](exec.MustExec(testEmbeddings)[0])
	theta := varData(ctx, InnerVariableName)
	for b := range testBatch {
		for d := range testD1 {
			var want float32
			for i := range testFields {
				for j := i + 1; j < testFields; j++ {
					var dot float32
					for k := range testEmbed {
						dot += testEmbeddings[b][i][k] * testEmbeddings[b][j][k]
					}
					want += theta[d*testFields+i] * theta[d*testFields+j] * dot
				}
			}
			assert.InDelta(t, want, got[b*testD1+d], 1e-4)
		}
	}
}

func TestOuter(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, emb *Node) *Node {
		return Outer(ctx, emb, testD1)
	})
	got := tensors.MustCopyFlatData[float32](exec.MustExec(testEmbeddings)[0])
	w := varData(ctx, OuterVariableName)
	for b := range testBatch {
		fSigma := make([]float32, testEmbed)
		for f := range testFields {
			for k := range testEmbed {
				fSigma[k] += testEmbeddings[b][f][k]
			}
		}
		for d := range testD1 {
			var want float32
			for i := range testEmbed {
				for j := range testEmbed {
					want += fSigma[i] * fSigma[j] * w[(d*testEmbed+i)*testEmbed+j]
				}
			}
			assert.InDelta(t, want, got[b*testD1+d], 1e-3)
		}
	}
}

func TestBias(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(initializers.One)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, emb *Node) *Node {
		return Bias(ctx, emb, testD1)
	})
	out := exec.MustExec(testEmbeddings)[0]
	assert.Equal(t, []int{testBatch, testD1}, out.Shape().Dimensions)
	for _, v := range tensors.MustCopyFlatData[float32](out) {
		assert.Equal(t, float32(1), v)
	}
}
