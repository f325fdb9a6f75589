// Package traceplot draws optimizer traces and site rate
// distributions.
package traceplot

import (
	"errors"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Size is the width and the height of saved plots.
var Size = 4 * vg.Inch

// Trace plots log-likelihood against the iteration. Infinite values are
// skipped. The format is chosen from the file extension.
func Trace(trace []float64, title, fn string) error {
	pts := make(plotter.XYs, 0, len(trace))
	for i, l := range trace {
		if math.IsInf(l, 0) || math.IsNaN(l) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: l})
	}
	if len(pts) == 0 {
		return errors.New("nothing to plot")
	}

	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "lnL"

	if err := plotutil.AddLinePoints(p, "lnL", pts); err != nil {
		return err
	}
	return p.Save(Size, Size, fn)
}

// Rates plots the cumulative proportion of categories against their
// rates.
func Rates(rates, proportions []float64, fn string) error {
	if len(rates) == 0 || len(rates) != len(proportions) {
		return errors.New("rates and proportions differ in length")
	}
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.X.Label.Text = "rate"
	p.Y.Label.Text = "cumulative proportion"

	pts := make(plotter.XYs, len(rates))
	x := 0.0
	for i, v := range rates {
		pts[i].X = v
		pts[i].Y = x
		x += proportions[i]
	}

	if err := plotutil.AddLinePoints(p, "categories", pts); err != nil {
		return err
	}
	return p.Save(Size, Size, fn)
}
