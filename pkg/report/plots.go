// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotFolds saves a PNG (or any format gonum/plot infers from the path extension) with the per-epoch results
// of each fold: a solid line for train and a dashed line for valid, with the same color for each fold.
//
// train and valid are indexed by fold then by epoch. valid can be shorter than train (or empty), e.g. if
// no validation was done.
func PlotFolds(path, title, metricName string, train, valid [][]float64) error {
	if len(train) == 0 {
		return errors.New("PlotFolds requires at least one fold")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = metricName
	p.Add(plotter.NewGrid())

	addLine := func(results []float64, fold int, dashed bool, name string) error {
		if len(results) == 0 {
			return nil
		}
		points := make(plotter.XYs, len(results))
		for ii, v := range results {
			points[ii].X = float64(ii + 1)
			points[ii].Y = v
		}
		line, scatter, err := plotter.NewLinePoints(points)
		if err != nil {
			return errors.Wrapf(err, "plotting %s", name)
		}
		line.Color = plotutil.Color(fold)
		scatter.Color = plotutil.Color(fold)
		if dashed {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line, scatter)
		p.Legend.Add(name, line)
		return nil
	}
	for fold := range train {
		if err := addLine(train[fold], fold, false, fmt.Sprintf("train-%d", fold+1)); err != nil {
			return err
		}
		if fold < len(valid) {
			if err := addLine(valid[fold], fold, true, fmt.Sprintf("valid-%d", fold+1)); err != nil {
				return err
			}
		}
	}
	p.Legend.Top = false
	p.Legend.Left = false
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot to %q", path)
	}
	return nil
}
