// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models implements the CTR models as train.ModelFn functions.
//
// All models take the inputs [featIdx, featValue], shaped [batchSize, field_size] (int32 and float32), and return
// the logits shaped [batchSize, 1]. Their hyperparameters are read from the context, see Defaults.
//
// E.g.:
//
//	ctx := context.New()
//	ctx.SetParams(models.Defaults())
//	modelFn, err := models.ByName("IPNN")
//	...
//	trainer := train.NewTrainer(backend, ctx, modelFn, lossFn, optimizer, trainMetrics, evalMetrics)
package models

import (
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Algorithms maps the algorithm names to their model functions.
var Algorithms = map[string]train.ModelFn{
	"DeepFM":       DeepFM,
	"FM":           FM,
	"DNN":          DNN,
	"FNN":          FNN,
	"IPNN":         IPNN,
	"OPNN":         OPNN,
	"DeepCrossing": DeepCrossing,
}

// Names returns the sorted list of algorithm names.
func Names() []string {
	names := make([]string, 0, len(Algorithms))
	for name := range Algorithms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Canonical returns the registered spelling of algorithm, matched case-insensitively.
func Canonical(algorithm string) (string, error) {
	for name := range Algorithms {
		if strings.EqualFold(name, strings.TrimSpace(algorithm)) {
			return name, nil
		}
	}
	return "", errors.Errorf("unknown algorithm %q, valid values are %v", algorithm, Names())
}

// ByName returns the model function for the given algorithm name, matched case-insensitively.
func ByName(algorithm string) (train.ModelFn, error) {
	name, err := Canonical(algorithm)
	if err != nil {
		return nil, err
	}
	return Algorithms[name], nil
}

// FromContext returns the model function selected by ParamAlgorithm.
func FromContext(ctx *context.Context) (train.ModelFn, error) {
	return ByName(context.GetParamOr(ctx, ParamAlgorithm, "DeepFM"))
}
