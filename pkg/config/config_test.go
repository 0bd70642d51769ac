// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/ctrmodels/pkg/fit"
	"github.com/gomlx/ctrmodels/pkg/models"
	"github.com/gomlx/ctrmodels/pkg/optimizers/classic"
)

func TestCreateDefaultContext(t *testing.T) {
	ctx := CreateDefaultContext()
	assert.Equal(t, 128, context.GetParamOr(ctx, fit.ParamBatchSize, 0))
	assert.Equal(t, 0.0005, context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))
	assert.Equal(t, []int{256, 128, 64}, context.GetParamOr(ctx, models.ParamDeepLayers, []int(nil)))
	assert.Equal(t, 1406, context.GetParamOr(ctx, fit.ParamLogSteps, 0))

	// The defaults build valid optimizers.
	for _, name := range []string{"adam", "adagrad", "momentum", "ftrl", "gd"} {
		_, err := classic.ByName(ctx, name)
		require.NoError(t, err, name)
	}
}

func writeFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	ctx := CreateDefaultContext()
	path := writeFile(t, `
algorithm: IPNN
deep_layers: [400, 400]
dropout: [0.2, 0.3]
learning_rate: 0.001
batch_norm: true
num_epochs: 2
/model/embed_size: 8
`)
	paramsSet, err := LoadYAML(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/model/embed_size", "algorithm", "batch_norm", "deep_layers", "dropout",
		"learning_rate", "num_epochs"}, paramsSet)
	assert.Equal(t, "IPNN", context.GetParamOr(ctx, models.ParamAlgorithm, ""))
	assert.Equal(t, []int{400, 400}, context.GetParamOr(ctx, models.ParamDeepLayers, []int(nil)))
	assert.Equal(t, []float64{0.2, 0.3}, context.GetParamOr(ctx, models.ParamDropout, []float64(nil)))
	assert.Equal(t, 0.001, context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))
	assert.True(t, context.GetParamOr(ctx, models.ParamBatchNorm, false))
	assert.Equal(t, 10, context.GetParamOr(ctx, models.ParamEmbedSize, 0))
	assert.Equal(t, 8, context.GetParamOr(ctx.In("model"), models.ParamEmbedSize, 0))

	_, err = LoadYAML(ctx, writeFile(t, "unknown_param: 1\n"))
	require.ErrorContains(t, err, "unknown_param")
	_, err = LoadYAML(ctx, writeFile(t, "num_epochs: ten\n"))
	require.ErrorContains(t, err, "num_epochs")
	_, err = LoadYAML(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultFileName(t *testing.T) {
	now := time.Date(2019, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "ch05_FNN_PNN_20190228", DefaultFileName("ch05_FNN_PNN", now))
}

func TestNewCheckpoint(t *testing.T) {
	ctx := CreateDefaultContext()
	dir := filepath.Join(t.TempDir(), "model")
	handler, err := NewCheckpoint(ctx, dir, []string{models.ParamAlgorithm})
	require.NoError(t, err)
	require.NoError(t, handler.Save())
	has, err := handler.HasCheckpoints()
	require.NoError(t, err)
	assert.True(t, has)
}
