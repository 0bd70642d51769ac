// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
)

// Tensors converts the examples to the model inputs and labels:
//
//   - featIndex: int32 [N, NumFields]
//   - featValue: float32 [N, NumFields]
//   - labels: float32 [N, 1]
func (e *Examples) Tensors() (featIndex, featValue, labels *tensors.Tensor) {
	n := e.Len()
	featIndex = tensors.FromFlatDataAndDimensions(e.FeatIndex, n, e.NumFields)
	featValue = tensors.FromFlatDataAndDimensions(e.FeatValue, n, e.NumFields)
	labels = tensors.FromFlatDataAndDimensions(e.Labels, n, 1)
	return
}

// NewDataset creates an in-memory dataset yielding batches of ([featIndex, featValue], [labels]).
//
// The returned dataset is not batched yet, use BatchSize, Shuffle and Infinite to configure it.
func NewDataset(backend backends.Backend, name string, e *Examples) (*datasets.InMemoryDataset, error) {
	if e.Len() == 0 {
		return nil, errors.Errorf("dataset %q has no examples", name)
	}
	if len(name) < 3 {
		// The short name is taken from the first 3 characters.
		return nil, errors.Errorf("dataset name %q must have at least 3 characters", name)
	}
	featIndex, featValue, labels := e.Tensors()
	ds, err := datasets.InMemoryFromData(backend, name,
		[]any{featIndex, featValue},
		[]any{labels})
	if err != nil {
		return nil, errors.WithMessagef(err, "creating dataset %q", name)
	}
	return ds, nil
}
