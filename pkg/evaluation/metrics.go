// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation computes the CTR evaluation metrics (AUC and log loss) and runs the models in inference
// mode to generate predictions.
package evaluation

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// LogLossEpsilon is the clipping used by LogLoss: probabilities are clipped to [ε, 1-ε].
const LogLossEpsilon = 1e-7

// AUC returns the area under the ROC curve of the scores, where labels > 0.5 are the positive class.
//
// Tied scores contribute a diagonal segment of the curve, so a constant score yields 0.5.
// It returns NaN and an error if all labels are of the same class.
func AUC(labels, scores []float32) (float64, error) {
	if len(labels) != len(scores) {
		return math.NaN(), errors.Errorf("AUC got %d labels but %d scores", len(labels), len(scores))
	}
	n := len(labels)
	y := make([]float64, n)
	classes := make([]bool, n)
	var numPositives int
	for ii := range n {
		y[ii] = float64(scores[ii])
		classes[ii] = labels[ii] > 0.5
		if classes[ii] {
			numPositives++
		}
	}
	if numPositives == 0 || numPositives == n {
		return math.NaN(), errors.Errorf("AUC is undefined when only one class is present (%d positives out of %d)",
			numPositives, n)
	}

	// stat.ROC requires the scores sorted in ascending order.
	order := make([]int, n)
	floats.Argsort(y, order)
	sortedClasses := make([]bool, n)
	for ii, from := range order {
		sortedClasses[ii] = classes[from]
	}
	tpr, fpr, _ := stat.ROC(nil, y, sortedClasses, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// LogLoss returns the mean binary cross-entropy of the predicted probabilities, clipped by LogLossEpsilon.
func LogLoss(labels, probs []float32) (float64, error) {
	if len(labels) != len(probs) {
		return math.NaN(), errors.Errorf("LogLoss got %d labels but %d probabilities", len(labels), len(probs))
	}
	if len(labels) == 0 {
		return math.NaN(), errors.New("LogLoss of an empty set")
	}
	var sum float64
	for ii, label := range labels {
		p := min(max(float64(probs[ii]), LogLossEpsilon), 1-LogLossEpsilon)
		y := float64(label)
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(len(labels)), nil
}

// Result of an evaluation.
type Result struct {
	AUC, LogLoss float64
	N            int
}

// Compute returns the Result for the given labels and predicted probabilities.
//
// If only one class is present, the AUC is NaN but no error is returned.
func Compute(labels, probs []float32) (Result, error) {
	logLoss, err := LogLoss(labels, probs)
	if err != nil {
		return Result{}, err
	}
	// Lengths were checked by LogLoss, so the only AUC error is a single class, reported as NaN.
	auc, _ := AUC(labels, probs)
	return Result{AUC: auc, LogLoss: logLoss, N: len(labels)}, nil
}

// Best returns the index of the best value in results, or -1 if it is empty. NaN values are ignored.
func Best(results []float64, greaterIsBetter bool) int {
	best := -1
	for ii, v := range results {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || (greaterIsBetter && v > results[best]) || (!greaterIsBetter && v < results[best]) {
			best = ii
		}
	}
	return best
}

// Mean and standard deviation of the results, e.g. of the best score of each fold.
func Mean(results []float64) (mean, std float64) {
	if len(results) == 0 {
		return math.NaN(), math.NaN()
	}
	if len(results) == 1 {
		return results[0], 0
	}
	return stat.MeanStdDev(results, nil)
}
