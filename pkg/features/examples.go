// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package features implements the sparse field encoding shared by all CTR models:
// each sample is a fixed number of fields, and each field holds one feature index
// (into the embedding tables) and one feature value.
//
// Data is stored flat (row-major), so it can be converted to tensors without copying
// per sample.
package features

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Examples holds N samples over NumFields fields.
//
// FeatIndex and FeatValue are shaped [N, NumFields] (row-major), Labels is shaped [N].
// IDs is optional and, if present, has one entry per sample.
type Examples struct {
	NumFields int
	FeatIndex []int32
	FeatValue []float32
	Labels    []float32
	IDs       []string
}

// NewExamples creates an empty Examples for numFields fields, with capacity for
// capacity samples.
func NewExamples(numFields, capacity int) *Examples {
	return &Examples{
		NumFields: numFields,
		FeatIndex: make([]int32, 0, numFields*capacity),
		FeatValue: make([]float32, 0, numFields*capacity),
		Labels:    make([]float32, 0, capacity),
	}
}

// Len returns the number of samples.
func (e *Examples) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Labels)
}

// Append one sample. idx and val must have NumFields elements each.
func (e *Examples) Append(idx []int32, val []float32, label float32) error {
	if len(idx) != e.NumFields || len(val) != e.NumFields {
		return errors.Errorf("sample has %d indices and %d values, but examples have %d fields",
			len(idx), len(val), e.NumFields)
	}
	e.FeatIndex = append(e.FeatIndex, idx...)
	e.FeatValue = append(e.FeatValue, val...)
	e.Labels = append(e.Labels, label)
	return nil
}

// Row returns the indices and values of sample i. The slices share storage with e.
func (e *Examples) Row(i int) (idx []int32, val []float32) {
	start, end := i*e.NumFields, (i+1)*e.NumFields
	return e.FeatIndex[start:end], e.FeatValue[start:end]
}

// Validate checks the internal sizes are consistent, and that all indices are within [0, featureSize).
func (e *Examples) Validate(featureSize int) error {
	n := len(e.Labels)
	if len(e.FeatIndex) != n*e.NumFields || len(e.FeatValue) != n*e.NumFields {
		return errors.Errorf("inconsistent examples: %d labels, %d indices, %d values for %d fields",
			n, len(e.FeatIndex), len(e.FeatValue), e.NumFields)
	}
	if e.IDs != nil && len(e.IDs) != n {
		return errors.Errorf("inconsistent examples: %d labels but %d ids", n, len(e.IDs))
	}
	for ii, idx := range e.FeatIndex {
		if idx < 0 || int(idx) >= featureSize {
			return errors.Errorf("sample %d field %d has feature index %d out of range [0, %d)",
				ii/e.NumFields, ii%e.NumFields, idx, featureSize)
		}
	}
	return nil
}

// Subset returns a new Examples with the samples selected by indices, in the given order.
func (e *Examples) Subset(indices []int) *Examples {
	sub := NewExamples(e.NumFields, len(indices))
	if e.IDs != nil {
		sub.IDs = make([]string, 0, len(indices))
	}
	for _, i := range indices {
		idx, val := e.Row(i)
		sub.FeatIndex = append(sub.FeatIndex, idx...)
		sub.FeatValue = append(sub.FeatValue, val...)
		sub.Labels = append(sub.Labels, e.Labels[i])
		if e.IDs != nil {
			sub.IDs = append(sub.IDs, e.IDs[i])
		}
	}
	return sub
}

// Slice returns samples [start, end). Storage is shared with e.
func (e *Examples) Slice(start, end int) *Examples {
	s := &Examples{
		NumFields: e.NumFields,
		FeatIndex: e.FeatIndex[start*e.NumFields : end*e.NumFields],
		FeatValue: e.FeatValue[start*e.NumFields : end*e.NumFields],
		Labels:    e.Labels[start:end],
	}
	if e.IDs != nil {
		s.IDs = e.IDs[start:end]
	}
	return s
}

// Concat returns a new Examples with all samples of parts, in order.
// IDs are kept only if every part has them.
func Concat(parts ...*Examples) (*Examples, error) {
	if len(parts) == 0 {
		return nil, errors.New("features.Concat requires at least one Examples")
	}
	numFields := parts[0].NumFields
	total := 0
	keepIDs := true
	for ii, p := range parts {
		if p.NumFields != numFields {
			return nil, errors.Errorf("features.Concat: part #%d has %d fields, part #0 has %d",
				ii, p.NumFields, numFields)
		}
		total += p.Len()
		keepIDs = keepIDs && p.IDs != nil
	}
	all := NewExamples(numFields, total)
	if keepIDs {
		all.IDs = make([]string, 0, total)
	}
	for _, p := range parts {
		all.FeatIndex = append(all.FeatIndex, p.FeatIndex...)
		all.FeatValue = append(all.FeatValue, p.FeatValue...)
		all.Labels = append(all.Labels, p.Labels...)
		if keepIDs {
			all.IDs = append(all.IDs, p.IDs...)
		}
	}
	return all, nil
}

// Shuffle permutes the samples in place, keeping indices, values, labels and ids in unison.
func (e *Examples) Shuffle(rng *rand.Rand) {
	nf := e.NumFields
	rng.Shuffle(e.Len(), func(i, j int) {
		e.Labels[i], e.Labels[j] = e.Labels[j], e.Labels[i]
		if e.IDs != nil {
			e.IDs[i], e.IDs[j] = e.IDs[j], e.IDs[i]
		}
		for f := range nf {
			a, b := i*nf+f, j*nf+f
			e.FeatIndex[a], e.FeatIndex[b] = e.FeatIndex[b], e.FeatIndex[a]
			e.FeatValue[a], e.FeatValue[b] = e.FeatValue[b], e.FeatValue[a]
		}
	})
}

// PositiveRate returns the fraction of labels > 0.5.
func (e *Examples) PositiveRate() float64 {
	if e.Len() == 0 {
		return 0
	}
	var count int
	for _, l := range e.Labels {
		if l > 0.5 {
			count++
		}
	}
	return float64(count) / float64(e.Len())
}
