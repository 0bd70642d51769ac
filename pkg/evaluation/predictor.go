// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/ctrmodels/pkg/features"
	"github.com/gomlx/ctrmodels/pkg/losses"
)

// DefaultBatchSize used by the Predictor if none is given.
const DefaultBatchSize = 1024

// Predictor runs a model in inference mode and converts its outputs to predictions (see losses.Activate).
//
// The model variables are taken from the context if they exist already (after training) or are loadable
// from a checkpoint attached to the context. Otherwise they are created with their initial values.
type Predictor struct {
	exec      *context.Exec
	batchSize int
}

// NewPredictor compiles the model function for inference. The loss mode (losses.ParamLossMode) is read from
// the context, and it defines how the model output is activated.
//
// batchSize is the maximum number of examples per call to the model; if <= 0, DefaultBatchSize is used.
func NewPredictor(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn, batchSize int) (*Predictor, error) {
	mode, err := losses.Normalize(losses.ModeFromContext(ctx))
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	exec, err := context.NewExec(backend, ctx.Checked(false), func(ctx *context.Context, featIdx, featValue *Node) *Node {
		return losses.Activate(mode, modelFn(ctx, nil, []*Node{featIdx, featValue})[0])
	})
	if err != nil {
		return nil, errors.WithMessage(err, "compiling predictor")
	}
	return &Predictor{exec: exec, batchSize: batchSize}, nil
}

// Predict returns one prediction per example.
func (p *Predictor) Predict(examples *features.Examples) (predictions []float32, err error) {
	n := examples.Len()
	predictions = make([]float32, 0, n)
	for start := 0; start < n; start += p.batchSize {
		end := min(start+p.batchSize, n)
		featIndex, featValue, _ := examples.Slice(start, end).Tensors()
		var outputs []*tensors.Tensor
		err = exceptions.TryCatch[error](func() {
			outputs = p.exec.MustExec(featIndex, featValue)
		})
		featIndex.FinalizeAll()
		featValue.FinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "predicting examples [%d, %d)", start, end)
		}
		predictions = append(predictions, tensors.MustCopyFlatData[float32](outputs[0])...)
		outputs[0].FinalizeAll()
	}
	klog.V(1).Infof("predicted %d examples", n)
	return predictions, nil
}

// Evaluate predicts the examples and compares them to their labels.
func (p *Predictor) Evaluate(examples *features.Examples) (Result, error) {
	predictions, err := p.Predict(examples)
	if err != nil {
		return Result{}, err
	}
	return Compute(examples.Labels, predictions)
}
