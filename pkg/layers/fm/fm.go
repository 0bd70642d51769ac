// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fm implements the factorization machine interaction terms.
package fm

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// SecondOrder returns the factorization machine pairwise interaction term, per embedding dimension:
//
//	0.5 * ((Σ_f e_f)² - Σ_f e_f²)
//
// It takes embeddings shaped [batchSize, numFields, embedSize] (already scaled by the feature values)
// and returns [batchSize, embedSize]. Summing over the last axis gives Σ_{i<j} <e_i, e_j>.
func SecondOrder(embeddings *Node) *Node {
	if embeddings.Rank() != 3 {
		exceptions.Panicf("fm.SecondOrder requires embeddings shaped [batchSize, numFields, embedSize], got %s",
			embeddings.Shape())
	}
	sumSquare := Square(ReduceSum(embeddings, 1))
	squareSum := ReduceSum(Square(embeddings), 1)
	return MulScalar(Sub(sumSquare, squareSum), 0.5)
}
