// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Fold holds the indices of one cross-validation split.
type Fold struct {
	Train, Valid []int
}

// StratifiedKFold splits the samples into k folds, keeping the proportion of each class (labels > 0.5
// vs the rest) in every fold, up to rounding.
//
// Each index is in the Valid set of exactly one fold. Indices within a fold are sorted.
// If shuffle is set, the samples of each class are shuffled (with the given seed) before being
// distributed.
func StratifiedKFold(labels []float32, k int, shuffle bool, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, errors.Errorf("StratifiedKFold requires k >= 2, got %d", k)
	}
	var classes [2][]int
	for ii, l := range labels {
		if l > 0.5 {
			classes[1] = append(classes[1], ii)
		} else {
			classes[0] = append(classes[0], ii)
		}
	}
	for class, members := range classes {
		if len(members) > 0 && len(members) < k {
			return nil, errors.Errorf("StratifiedKFold with k=%d folds, but class %d has only %d samples",
				k, class, len(members))
		}
	}

	foldOf := make([]int, len(labels))
	rng := rand.New(rand.NewSource(seed))
	offset := 0
	for _, members := range classes {
		if shuffle {
			rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		}
		// Continue dealing where the previous class stopped, so fold sizes stay balanced.
		for ii, sampleIdx := range members {
			foldOf[sampleIdx] = (offset + ii) % k
		}
		offset += len(members)
	}

	folds := make([]Fold, k)
	for sampleIdx, f := range foldOf {
		for ii := range folds {
			if ii == f {
				folds[ii].Valid = append(folds[ii].Valid, sampleIdx)
			} else {
				folds[ii].Train = append(folds[ii].Train, sampleIdx)
			}
		}
	}
	return folds, nil
}
