// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/ctrmodels/pkg/layers/embedding"
	"github.com/gomlx/ctrmodels/pkg/layers/tower"
	"github.com/gomlx/ctrmodels/pkg/losses"

	_ "github.com/gomlx/gomlx/backends/default"
)

const (
	testFeatureSize = 12
	testFieldSize   = 3
	testEmbedSize   = 4
)

var (
	testFeatIdx   = [][]int32{{0, 5, 9}, {1, 5, 11}}
	testFeatValue = [][]float32{{0.5, 1, 1}, {-1, 1, 1}}
)

func newTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(Defaults())
	ctx.SetParams(map[string]any{
		ParamFeatureSize: testFeatureSize,
		ParamFieldSize:   testFieldSize,
		ParamEmbedSize:   testEmbedSize,
		ParamDeepLayers:  []int{8, 4},
		ParamDropout:     []float64{0.5, 0.5},
	})
	return ctx
}

func runModel(t *testing.T, ctx *context.Context, algorithm string) *tensors.Tensor {
	modelFn, err := ByName(algorithm)
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, featIdx, featValue *Node) *Node {
		return modelFn(ctx, nil, []*Node{featIdx, featValue})[0]
	})
	return exec.MustExec(testFeatIdx, testFeatValue)[0]
}

func TestAllModelsShape(t *testing.T) {
	for _, algorithm := range Names() {
		t.Run(algorithm, func(t *testing.T) {
			for _, batchNorm := range []bool{false, true} {
				ctx := newTestContext()
				ctx.SetParam(ParamBatchNorm, batchNorm)
				logits := runModel(t, ctx, algorithm)
				assert.Equal(t, []int{2, 1}, logits.Shape().Dimensions)
				assert.Greater(t, ctx.NumParameters(), 0)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"deepfm", "ipnn", "Opnn", "deepcrossing", " FNN "} {
		_, err := ByName(name)
		require.NoError(t, err, name)
	}
	_, err := ByName("wide_and_deep")
	require.ErrorContains(t, err, "wide_and_deep")

	ctx := newTestContext()
	ctx.SetParam(ParamAlgorithm, "opnn")
	_, err = FromContext(ctx)
	require.NoError(t, err)
}

func flat(t *testing.T, v *context.Variable) []float32 {
	require.NotNil(t, v)
	return tensors.MustCopyFlatData[float32](v.MustValue())
}

// TestFMOnly checks the FM variant against the closed form:
// logit = Σ_f w_f·x_f·p_f + Σ_k 0.5((Σ_f e_fk)² - Σ_f e_fk²)·p_{F+k} + b.
func TestFMOnly(t *testing.T) {
	ctx := newTestContext()
	logits := tensors.MustCopyFlatData[float32](runModel(t, ctx, "FM"))

	table := flat(t, embedding.TableVar(ctx.In(DeepFMEmbeddingsScope)))
	weights := flat(t, embedding.WeightsVar(ctx.In(DeepFMBiasScope)))
	projection := flat(t, ctx.In(DeepFMProjectionScope).GetVariable("weights"))
	bias := flat(t, ctx.In(DeepFMProjectionScope).GetVariable("bias"))
	assert.InDelta(t, 0.01, bias[0], 1e-7)
	require.Len(t, projection, testFieldSize+testEmbedSize)

	for b := range 2 {
		want := bias[0]
		for f := range testFieldSize {
			idx, val := testFeatIdx[b][f], testFeatValue[b][f]
			want += weights[idx] * val * projection[f]
		}
		for k := range testEmbedSize {
			var sum, sumSq float32
			for f := range testFieldSize {
				e := table[int(testFeatIdx[b][f])*testEmbedSize+k] * testFeatValue[b][f]
				sum += e
				sumSq += e * e
			}
			want += 0.5 * (sum*sum - sumSq) * projection[testFieldSize+k]
		}
		assert.InDelta(t, want, logits[b], 1e-4)
	}

	// No deep tower variables were created.
	assert.Empty(t, tower.WeightsVars(ctx.In(DeepFMDeepScope), 2))
}

func TestDeepFMRequiresAPart(t *testing.T) {
	ctx := newTestContext()
	ctx.SetParams(map[string]any{ParamUseFM: false, ParamUseDeep: false})
	assert.Panics(t, func() { runModel(t, ctx, "DeepFM") })
}

func TestFieldSizeMismatch(t *testing.T) {
	ctx := newTestContext()
	ctx.SetParam(ParamFieldSize, testFieldSize+1)
	assert.Panics(t, func() { runModel(t, ctx, "IPNN") })
}

func TestProductNetworkVariables(t *testing.T) {
	ctx := newTestContext()
	runModel(t, ctx, "IPNN")
	productCtx := ctx.In(ProductScope)
	assert.Equal(t, []int{8, testFieldSize, testEmbedSize}, productCtx.GetVariable("linear").Shape().Dimensions)
	assert.Equal(t, []int{8, testFieldSize}, productCtx.GetVariable("inner").Shape().Dimensions)
	assert.Nil(t, productCtx.GetVariable("outer"))
	assert.Len(t, tower.WeightsVars(ctx.In(DeepScope), 2), 3)

	ctx = newTestContext()
	runModel(t, ctx, "OPNN")
	assert.Equal(t, []int{8, testEmbedSize, testEmbedSize},
		ctx.In(ProductScope).GetVariable("outer").Shape().Dimensions)

	// FNN deep input: F first order weights + F*K embeddings + 1 bias.
	ctx = newTestContext()
	runModel(t, ctx, "FNN")
	first := tower.WeightsVars(ctx.In(DeepScope), 2)[0]
	assert.Equal(t, []int{testFieldSize + testFieldSize*testEmbedSize + 1, 8}, first.Shape().Dimensions)
}

func TestProductSize(t *testing.T) {
	const productSize = 5
	for _, algorithm := range []string{"IPNN", "OPNN"} {
		t.Run(algorithm, func(t *testing.T) {
			ctx := newTestContext()
			ctx.SetParam(ParamProductSize, productSize)
			logits := runModel(t, ctx, algorithm)
			assert.Equal(t, []int{2, 1}, logits.Shape().Dimensions)

			productCtx := ctx.In(ProductScope)
			assert.Equal(t, []int{productSize, testFieldSize, testEmbedSize},
				productCtx.GetVariable("linear").Shape().Dimensions)
			if algorithm == "IPNN" {
				assert.Equal(t, []int{productSize, testFieldSize}, productCtx.GetVariable("inner").Shape().Dimensions)
			} else {
				assert.Equal(t, []int{productSize, testEmbedSize, testEmbedSize},
					productCtx.GetVariable("outer").Shape().Dimensions)
			}

			// The tower still runs over all deep_layers, starting from the product layer units.
			weights := tower.WeightsVars(ctx.In(DeepScope), 2)
			require.Len(t, weights, 3)
			assert.Equal(t, []int{productSize, 8}, weights[0].Shape().Dimensions)
			assert.Equal(t, []int{8, 4}, weights[1].Shape().Dimensions)
		})
	}

	ctx := newTestContext()
	ctx.SetParam(ParamProductSize, -1)
	assert.Panics(t, func() { runModel(t, ctx, "IPNN") })
}

// TestL2AllLossModes checks the IPNN regularization term, l2_reg_lambda·Σw²/2 over the embeddings and the tower
// weights, is the same whatever the loss mode.
func TestL2AllLossModes(t *testing.T) {
	const l2 = 0.1
	backend := graphtest.BuildTestBackend()
	for _, mode := range losses.Modes {
		t.Run(mode, func(t *testing.T) {
			ctx := newTestContext()
			ctx.SetParams(map[string]any{ParamL2: l2, losses.ParamLossMode: mode})
			exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, featIdx, featValue *Node) *Node {
				IPNN(ctx, nil, []*Node{featIdx, featValue})
				return train.GetLosses(ctx, featIdx.Graph())
			})
			got := tensors.ToScalar[float32](exec.MustExec(testFeatIdx, testFeatValue)[0])

			vars := append([]*context.Variable{embedding.TableVar(ctx.In(EmbedScope))},
				tower.WeightsVars(ctx.In(DeepScope), 2)...)
			require.Len(t, vars, 4)
			var sumSq float32
			for _, v := range vars {
				for _, w := range flat(t, v) {
					sumSq += w * w
				}
			}
			assert.InDelta(t, l2/2*sumSq, got, 1e-3)
		})
	}
}
