// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fit

import (
	"math/rand"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/ctrmodels/pkg/features"
	"github.com/gomlx/ctrmodels/pkg/models"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestShouldStop(t *testing.T) {
	// Exactly EarlyStoppingWindow results is not enough.
	assert.False(t, ShouldStop([]float64{0.9, 0.8, 0.7, 0.6, 0.5}, true))
	assert.True(t, ShouldStop([]float64{0.7, 0.9, 0.8, 0.7, 0.6, 0.5}, true))
	// Not strictly decreasing.
	assert.False(t, ShouldStop([]float64{0.7, 0.9, 0.8, 0.8, 0.6, 0.5}, true))
	assert.False(t, ShouldStop([]float64{0.7, 0.9, 0.8, 0.7, 0.6, 0.5}, false))
	assert.True(t, ShouldStop([]float64{0.7, 0.1, 0.2, 0.3, 0.4, 0.5}, false))
}

func TestReachedTarget(t *testing.T) {
	assert.True(t, ReachedTarget(0.7995, 0.8, true))
	assert.False(t, ReachedTarget(0.79, 0.8, true))
	assert.True(t, ReachedTarget(0.81, 0.8, true))
	assert.True(t, ReachedTarget(0.79, 0.8, false))
	assert.False(t, ReachedTarget(0.81, 0.8, false))
}

// syntheticExamples where the label is 1 iff the first field has an index < 5.
func syntheticExamples(rng *rand.Rand, n int) *features.Examples {
	examples := features.NewExamples(2, n)
	for range n {
		idx0, idx1 := rng.Intn(10), 10+rng.Intn(10)
		var label float32
		if idx0 < 5 {
			label = 1
		}
		_ = examples.Append([]int32{int32(idx0), int32(idx1)}, []float32{1, 1}, label)
	}
	return examples
}

func newSyntheticContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(models.Defaults())
	ctx.SetParams(map[string]any{
		models.ParamFeatureSize:      20,
		models.ParamFieldSize:        2,
		models.ParamEmbedSize:        4,
		models.ParamDeepLayers:       []int{8},
		models.ParamDropout:          []float64{0, 0},
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.01,
		ParamBatchSize:               32,
		ParamNumEpochs:               6,
	})
	return ctx
}

func TestFit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	backend := graphtest.BuildTestBackend()
	rng := rand.New(rand.NewSource(42))
	trainExamples, validExamples := syntheticExamples(rng, 640), syntheticExamples(rng, 200)

	ctx := newSyntheticContext()
	fitter, err := New(backend, ctx, models.DeepFM)
	require.NoError(t, err)
	assert.Equal(t, 32, fitter.BatchSize)
	history, err := fitter.Fit(trainExamples, validExamples)
	require.NoError(t, err)
	require.Len(t, history.Train, 6)
	require.Len(t, history.Valid, 6)
	assert.Greater(t, history.Valid[len(history.Valid)-1], 0.8)
	assert.Equal(t, int64(6*640/32), optimizers.GetGlobalStep(ctx))

	predictions, err := fitter.Predict(validExamples)
	require.NoError(t, err)
	require.Len(t, predictions, validExamples.Len())

	// Without valid examples, refit is skipped and only train results are recorded.
	ctx = newSyntheticContext()
	ctx.SetParams(map[string]any{ParamNumEpochs: 1, ParamRefit: true})
	fitter, err = New(backend, ctx, models.IPNN)
	require.NoError(t, err)
	history, err = fitter.Fit(trainExamples, nil)
	require.NoError(t, err)
	assert.Len(t, history.Train, 1)
	assert.Empty(t, history.Valid)
}

func TestFitRefit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	backend := graphtest.BuildTestBackend()
	rng := rand.New(rand.NewSource(7))
	trainExamples, validExamples := syntheticExamples(rng, 320), syntheticExamples(rng, 96)

	ctx := newSyntheticContext()
	ctx.SetParams(map[string]any{ParamNumEpochs: 2, ParamRefit: true, models.ParamBatchNorm: true})
	fitter, err := New(backend, ctx, models.FNN)
	require.NoError(t, err)
	_, err = fitter.Fit(trainExamples, validExamples)
	require.NoError(t, err)
	// Refit runs at least one epoch over train+valid (13 full batches) after the 2*10 steps of the main training.
	assert.GreaterOrEqual(t, optimizers.GetGlobalStep(ctx), int64(2*10+13))
}

func TestFitTooFewExamples(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newSyntheticContext()
	fitter, err := New(backend, ctx, models.FM)
	require.NoError(t, err)
	_, err = fitter.Fit(syntheticExamples(rand.New(rand.NewSource(1)), 10), nil)
	require.ErrorContains(t, err, "full batch")
}
