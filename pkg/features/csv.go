// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Derived columns added by Preprocess.
const (
	MissedFeatureNumColumn = "missed_feature_num"
	ProductColumn          = "ps_car_13_x_ps_reg_03"
)

// ColumnConfig lists how the CSV columns are used.
//
// Columns that are neither numeric nor ignored are one-hot encoded, whether listed in Categorical or not.
// Categorical documents the expected categorical columns, and Validate checks it doesn't overlap the other lists.
type ColumnConfig struct {
	Numeric     []string `yaml:"numeric"`
	Categorical []string `yaml:"categorical"`
	Ignore      []string `yaml:"ignore"`
}

// DefaultColumnConfig is the column configuration of the Porto Seguro safe driver dataset.
func DefaultColumnConfig() *ColumnConfig {
	return &ColumnConfig{
		Numeric: []string{
			"ps_reg_01", "ps_reg_02", "ps_reg_03",
			"ps_car_12", "ps_car_13", "ps_car_14", "ps_car_15",
			MissedFeatureNumColumn, ProductColumn,
		},
		Categorical: []string{
			"ps_car_01_cat", "ps_car_02_cat", "ps_car_03_cat", "ps_car_04_cat",
			"ps_car_05_cat", "ps_car_06_cat", "ps_car_07_cat", "ps_car_08_cat",
			"ps_car_09_cat", "ps_car_10_cat", "ps_car_11_cat",
			"ps_ind_02_cat", "ps_ind_04_cat", "ps_ind_05_cat",
		},
		Ignore: []string{
			"id", "target",
			"ps_calc_01", "ps_calc_02", "ps_calc_03", "ps_calc_04",
			"ps_calc_05", "ps_calc_06", "ps_calc_07", "ps_calc_08",
			"ps_calc_09", "ps_calc_10", "ps_calc_11", "ps_calc_12",
			"ps_calc_13", "ps_calc_14",
			"ps_calc_15_bin", "ps_calc_16_bin", "ps_calc_17_bin",
			"ps_calc_18_bin", "ps_calc_19_bin", "ps_calc_20_bin",
		},
	}
}

// Validate checks that no column is listed in more than one of Numeric, Categorical and Ignore.
func (c *ColumnConfig) Validate() error {
	listed := make(map[string]string)
	for _, list := range []struct {
		name    string
		columns []string
	}{
		{"numeric", c.Numeric},
		{"categorical", c.Categorical},
		{"ignore", c.Ignore},
	} {
		for _, col := range list.columns {
			if prev, found := listed[col]; found && prev != list.name {
				return errors.Errorf("column %q is listed as both %s and %s", col, prev, list.name)
			}
			listed[col] = list.name
		}
	}
	return nil
}

// LoadColumnConfig reads a ColumnConfig from a YAML file.
func LoadColumnConfig(path string) (*ColumnConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading column config %q", path)
	}
	cfg := &ColumnConfig{}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing column config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "in column config %q", path)
	}
	return cfg, nil
}

// LoadCSV reads a CSV file with header into a DataFrame.
func LoadCSV(path string) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.DetectTypes(true))
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "parsing CSV %q", path)
	}
	return df, nil
}

// Preprocess adds the derived columns:
//
//   - "missed_feature_num": number of columns (other than "id" and "target") with value -1.
//   - "ps_car_13_x_ps_reg_03": product of "ps_car_13" and "ps_reg_03", if both exist.
func Preprocess(df dataframe.DataFrame) dataframe.DataFrame {
	if df.Err != nil {
		return df
	}
	numRows := df.Nrow()
	missed := make([]int, numRows)
	for _, col := range df.Names() {
		if col == IDColumn || col == TargetColumn {
			continue
		}
		for row, v := range df.Col(col).Float() {
			if v == -1 {
				missed[row]++
			}
		}
	}
	df = df.Mutate(series.New(missed, series.Int, MissedFeatureNumColumn))

	names := df.Names()
	if slices.Contains(names, "ps_car_13") && slices.Contains(names, "ps_reg_03") {
		a, b := df.Col("ps_car_13").Float(), df.Col("ps_reg_03").Float()
		product := make([]float64, numRows)
		for row := range product {
			product[row] = a[row] * b[row]
		}
		df = df.Mutate(series.New(product, series.Float, ProductColumn))
	}
	return df
}
