// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"fmt"
	"slices"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Reserved column names of the CSV datasets.
const (
	IDColumn     = "id"
	TargetColumn = "target"
)

// FeatureDictionary maps CSV columns (and categorical values) to feature indices.
//
// Numeric columns take one index each, and their value is the column value.
// Categorical columns take one index per distinct value (one-hot), and their value is 1.
type FeatureDictionary struct {
	// Columns used as fields, in order. Each column is one field.
	Columns []string

	// Numeric marks the columns that are numeric.
	Numeric map[string]bool

	// NumericIndex maps numeric columns to their feature index.
	NumericIndex map[string]int32

	// CategoricalIndex maps categorical column -> value -> feature index.
	CategoricalIndex map[string]map[string]int32

	// FeatureDim is the total number of feature indices.
	FeatureDim int
}

// NewFeatureDictionary builds the dictionary from the train and test frames.
//
// Columns in ignoreCols, as well as "id" and "target", are skipped. Columns in numericCols
// are numeric, every other column is categorical with the vocabulary from train ∪ test.
func NewFeatureDictionary(train, test dataframe.DataFrame, numericCols, ignoreCols []string) (*FeatureDictionary, error) {
	if train.Err != nil {
		return nil, errors.Wrap(train.Err, "invalid train DataFrame")
	}
	if test.Err != nil {
		return nil, errors.Wrap(test.Err, "invalid test DataFrame")
	}
	fd := &FeatureDictionary{
		Numeric:          make(map[string]bool),
		NumericIndex:     make(map[string]int32),
		CategoricalIndex: make(map[string]map[string]int32),
	}
	testNames := test.Names()
	var nextIdx int32
	for _, col := range train.Names() {
		if col == IDColumn || col == TargetColumn || slices.Contains(ignoreCols, col) {
			continue
		}
		fd.Columns = append(fd.Columns, col)
		if slices.Contains(numericCols, col) {
			fd.Numeric[col] = true
			fd.NumericIndex[col] = nextIdx
			nextIdx++
			continue
		}
		values := uniqueRecords(train.Col(col))
		if slices.Contains(testNames, col) {
			values = append(values, uniqueRecords(test.Col(col))...)
		}
		sort.Strings(values)
		values = slices.Compact(values)
		vocab := make(map[string]int32, len(values))
		for _, v := range values {
			vocab[v] = nextIdx
			nextIdx++
		}
		fd.CategoricalIndex[col] = vocab
	}
	fd.FeatureDim = int(nextIdx)
	return fd, nil
}

func uniqueRecords(s series.Series) []string {
	records := s.Records()
	sort.Strings(records)
	return slices.Compact(records)
}

// NumFields returns the number of fields, one per used column.
func (fd *FeatureDictionary) NumFields() int {
	return len(fd.Columns)
}

// String implements fmt.Stringer.
func (fd *FeatureDictionary) String() string {
	return fmt.Sprintf("FeatureDictionary(%d fields, %d numeric, %d features)",
		len(fd.Columns), len(fd.NumericIndex), fd.FeatureDim)
}

// DataParser converts DataFrames to Examples using a FeatureDictionary.
type DataParser struct {
	Dict *FeatureDictionary
}

// Parse converts df to Examples.
//
// If hasLabel, labels are read from the "target" column, otherwise they are left at 0.
// IDs are read from the "id" column, if present.
func (p *DataParser) Parse(df dataframe.DataFrame, hasLabel bool) (*Examples, error) {
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "invalid DataFrame")
	}
	fd := p.Dict
	numRows := df.Nrow()
	numFields := fd.NumFields()
	examples := &Examples{
		NumFields: numFields,
		FeatIndex: make([]int32, numRows*numFields),
		FeatValue: make([]float32, numRows*numFields),
		Labels:    make([]float32, numRows),
	}
	names := df.Names()
	for fieldIdx, col := range fd.Columns {
		if !slices.Contains(names, col) {
			return nil, errors.Errorf("column %q missing from DataFrame", col)
		}
		s := df.Col(col)
		if fd.Numeric[col] {
			featIdx := fd.NumericIndex[col]
			for row, v := range s.Float() {
				examples.FeatIndex[row*numFields+fieldIdx] = featIdx
				examples.FeatValue[row*numFields+fieldIdx] = float32(v)
			}
			continue
		}
		vocab := fd.CategoricalIndex[col]
		for row, record := range s.Records() {
			featIdx, found := vocab[record]
			if !found {
				return nil, errors.Errorf("column %q row %d: value %q not in the feature dictionary", col, row, record)
			}
			examples.FeatIndex[row*numFields+fieldIdx] = featIdx
			examples.FeatValue[row*numFields+fieldIdx] = 1
		}
	}
	if hasLabel {
		if !slices.Contains(names, TargetColumn) {
			return nil, errors.Errorf("column %q missing from labeled DataFrame", TargetColumn)
		}
		for row, v := range df.Col(TargetColumn).Float() {
			examples.Labels[row] = float32(v)
		}
	}
	if slices.Contains(names, IDColumn) {
		examples.IDs = df.Col(IDColumn).Records()
	}
	return examples, nil
}
