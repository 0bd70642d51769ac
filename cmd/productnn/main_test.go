// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/ctrmodels/pkg/fit"
	"github.com/gomlx/ctrmodels/pkg/models"
	"github.com/gomlx/ctrmodels/pkg/report"
)

func init() {
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		must.M(os.Setenv(backends.ConfigEnvVar, "xla:cpu"))
	}
}

// writeCSV writes a Porto Seguro style CSV, where the target is 1 iff ps_car_01_cat < 3.
func writeCSV(t *testing.T, path string, rng *rand.Rand, firstID, n int, withTarget bool) {
	var sb strings.Builder
	if withTarget {
		sb.WriteString("id,target,ps_car_01_cat,ps_ind_02_cat,ps_reg_01,ps_car_13,ps_reg_03,ps_calc_01\n")
	} else {
		sb.WriteString("id,ps_car_01_cat,ps_ind_02_cat,ps_reg_01,ps_car_13,ps_reg_03,ps_calc_01\n")
	}
	for ii := range n {
		car01, ind02 := rng.Intn(6), rng.Intn(4)-1
		fmt.Fprintf(&sb, "%d,", firstID+ii)
		if withTarget {
			target := 0
			if car01 < 3 {
				target = 1
			}
			fmt.Fprintf(&sb, "%d,", target)
		}
		fmt.Fprintf(&sb, "%d,%d,%.1f,%.3f,%.3f,%.1f\n", car01, ind02, rng.Float64(), rng.Float64(), rng.Float64(),
			rng.Float64())
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	dataDir, workDir := t.TempDir(), t.TempDir()
	rng := rand.New(rand.NewSource(3))
	opts := &options{
		trainFile: filepath.Join(dataDir, "train.csv"),
		testFile:  filepath.Join(dataDir, "test.csv"),
		subDir:    filepath.Join(workDir, "sub"),
		figDir:    filepath.Join(workDir, "fig"),
		numSplits: 2,
		foldSeed:  2017,
	}
	writeCSV(t, opts.trainFile, rng, 0, 256, true)
	writeCSV(t, opts.testFile, rng, 1000, 40, false)

	ctx := createDefaultContext()
	ctx.SetParams(map[string]any{
		models.ParamDeepLayers: []int{8, 8},
		models.ParamDropout:    []float64{0, 0, 0},
		fit.ParamNumEpochs:     2,
		fit.ParamBatchSize:     16,
	})
	predictions, err := run(ctx, opts)
	require.NoError(t, err)
	require.Len(t, predictions, 40)
	for _, p := range predictions {
		assert.True(t, p >= 0 && p <= 1, "prediction %f out of range", p)
	}
	// 5 used columns, plus the missed feature count and the ps_car_13·ps_reg_03 product.
	assert.Equal(t, 7, context.GetParamOr(ctx, models.ParamFieldSize, 0))
	assert.Equal(t, 50, context.GetParamOr(ctx, models.ParamProductSize, 0))

	contents, err := os.ReadFile(filepath.Join(opts.subDir, report.SubmissionFileName(ModelName, 2)))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 41)
	assert.Equal(t, "id,target", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1000,"))

	_, err = os.Stat(filepath.Join(opts.figDir, ModelName+".png"))
	require.NoError(t, err)
}

func TestRunMissingFile(t *testing.T) {
	opts := &options{trainFile: filepath.Join(t.TempDir(), "missing.csv"), numSplits: 2}
	_, err := run(createDefaultContext(), opts)
	require.Error(t, err)
}
