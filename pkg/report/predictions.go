// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report writes the outputs of the CTR pipelines: predictions, submission files, training curves and
// parameters summaries.
package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"

	"github.com/gomlx/ctrmodels/pkg/features"
)

// PredictionsFileName is the name of the file written by the infer task in the input directory.
const PredictionsFileName = "tests_pred.txt"

// createFile creates the file and its parent directory.
func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating directory %q", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %q", path)
	}
	return f, nil
}

// WritePredictions writes one probability per line, formatted with "%f".
func WritePredictions(path string, probs []float32) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, p := range probs {
		if _, err = fmt.Fprintf(w, "%f\n", p); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "writing %q", path)
		}
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}

// WriteSubmission writes a CSV file with the columns "id" and "target", with the probabilities formatted with
// 5 decimal places.
func WriteSubmission(path string, ids []string, probs []float32) error {
	if len(ids) != len(probs) {
		return errors.Errorf("submission has %d ids but %d predictions", len(ids), len(probs))
	}
	targets := make([]string, len(probs))
	for ii, p := range probs {
		targets[ii] = fmt.Sprintf("%.5f", p)
	}
	df := dataframe.New(
		series.New(ids, series.String, features.IDColumn),
		series.New(targets, series.String, features.TargetColumn),
	)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building submission")
	}
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}

// SubmissionFileName returns the name of the submission file for a model trained for numEpochs epochs.
func SubmissionFileName(model string, numEpochs int) string {
	return fmt.Sprintf("%s_%dEpoch.csv", model, numEpochs)
}
