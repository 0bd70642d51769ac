// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestSecondOrder(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	// [batch=2, fields=3, embed=2]
	emb := [][][]float32{
		{{1, 2}, {3, -1}, {0.5, 4}},
		{{-2, 1}, {0, 0}, {1, 1}},
	}
	exec := MustNewExec(backend, SecondOrder)
	got := tensors.MustCopyFlatData[float32](exec.MustExec(emb)[0])

	// Brute force: Σ_{i<j} e_i[k]*e_j[k].
	want := make([]float32, 0, 4)
	for _, fields := range emb {
		for k := range 2 {
			var sum float32
			for i := range fields {
				for j := i + 1; j < len(fields); j++ {
					sum += fields[i][k] * fields[j][k]
				}
			}
			want = append(want, sum)
		}
	}
	assert.InDeltaSlice(t, want, got, 1e-5)
}

func TestSecondOrderRank(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := MustNewExec(backend, SecondOrder)
	assert.Panics(t, func() { exec.MustExec([][]float32{{1, 2}}) })
}
