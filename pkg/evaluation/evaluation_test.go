// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/ctrmodels/pkg/features"
	"github.com/gomlx/ctrmodels/pkg/losses"
	"github.com/gomlx/ctrmodels/pkg/models"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestAUC(t *testing.T) {
	labels := []float32{0, 0, 1, 1}

	auc, err := AUC(labels, []float32{0.1, 0.2, 0.8, 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, auc, 1e-9)

	auc, err = AUC(labels, []float32{0.9, 0.8, 0.2, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, auc, 1e-9)

	auc, err = AUC(labels, []float32{0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, auc, 1e-9)

	// 3 of the 4 (positive, negative) pairs are ordered correctly.
	auc, err = AUC(labels, []float32{0.1, 0.6, 0.4, 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, auc, 1e-9)

	auc, err = AUC([]float32{1, 1}, []float32{0.1, 0.2})
	require.Error(t, err)
	assert.True(t, math.IsNaN(auc))

	_, err = AUC(labels, []float32{0.1})
	require.Error(t, err)
}

func TestLogLoss(t *testing.T) {
	ll, err := LogLoss([]float32{1, 0}, []float32{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), ll, 1e-6)

	// Clipped: a confident wrong prediction is large but finite.
	ll, err = LogLoss([]float32{1}, []float32{0})
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(LogLossEpsilon), ll, 1e-3)

	_, err = LogLoss(nil, nil)
	require.Error(t, err)
}

func TestCompute(t *testing.T) {
	result, err := Compute([]float32{0, 0}, []float32{0.2, 0.4})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(result.AUC))
	assert.Equal(t, 2, result.N)
	assert.Greater(t, result.LogLoss, 0.0)
}

func TestBest(t *testing.T) {
	results := []float64{0.7, math.NaN(), 0.9, 0.8}
	assert.Equal(t, 2, Best(results, true))
	assert.Equal(t, 0, Best(results, false))
	assert.Equal(t, -1, Best(nil, true))

	mean, std := Mean([]float64{1, 3})
	assert.InDelta(t, 2.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt2, std, 1e-9)
}

func TestPredictor(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	examples := features.NewExamples(2, 5)
	for ii := range 5 {
		require.NoError(t, examples.Append([]int32{int32(ii), int32(5 + ii)}, []float32{1, 0.5}, float32(ii%2)))
	}

	for _, mode := range []string{losses.LogLoss, losses.MSE} {
		ctx := context.New()
		ctx.SetParams(models.Defaults())
		ctx.SetParams(map[string]any{
			models.ParamFeatureSize: 10,
			models.ParamFieldSize:   2,
			models.ParamEmbedSize:   3,
			models.ParamDeepLayers:  []int{4},
			losses.ParamLossMode:    mode,
		})
		// Batch size 2 forces a last incomplete batch.
		predictor, err := NewPredictor(backend, ctx, models.DeepFM, 2)
		require.NoError(t, err)
		predictions, err := predictor.Predict(examples)
		require.NoError(t, err)
		require.Len(t, predictions, 5)
		if mode == losses.LogLoss {
			for _, p := range predictions {
				assert.True(t, p > 0 && p < 1, "prediction %g not a probability", p)
			}
		}
		result, err := predictor.Evaluate(examples)
		require.NoError(t, err)
		assert.Equal(t, 5, result.N)
	}
}
