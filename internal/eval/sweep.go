// Package eval sweeps the decision threshold over independently labeled rows
// to produce coverage and hallucination-rate curves, and picks operating points.
package eval

import (
	"math"
	"slices"

	"github.com/danielpatrickdp/riskgate/internal/gate"
)

// #region sweep
// Sweep computes one CoveragePoint per tau, in ascending tau order. The policy's
// overlap and dispersion cutoffs stay fixed; only Tau varies. Duplicate taus are kept.
func Sweep(rows []CalibrationRow, taus []float64, policy gate.PolicyConfig) []CoveragePoint {
	sorted := slices.Clone(taus)
	slices.Sort(sorted)

	points := make([]CoveragePoint, 0, len(sorted))
	for _, tau := range sorted {
		points = append(points, pointAt(rows, policy.WithTau(tau)))
	}
	return points
}

func pointAt(rows []CalibrationRow, cfg gate.PolicyConfig) CoveragePoint {
	var answered, errs int
	for _, r := range rows {
		if gate.Decide(r.Probability, r.Signature, cfg) != gate.VerdictAnswer {
			continue
		}
		answered++
		if r.IndependentLabel {
			errs++
		}
	}

	pt := CoveragePoint{Threshold: cfg.Tau}
	if len(rows) > 0 {
		pt.Coverage = float64(answered) / float64(len(rows))
	}
	if answered > 0 {
		pt.HallucinationRate = float64(errs) / float64(answered)
	}
	return pt
}

// #endregion sweep

// #region taus
// Linspace returns n evenly spaced values from lo to hi inclusive, rounded to two decimals.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{round(lo, 2)}
	}
	step := (hi - lo) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = round(lo+float64(i)*step, 2)
	}
	out[n-1] = round(hi, 2)
	return out
}

// DefaultTaus is the standard 15-point grid from 0.1 to 0.8.
func DefaultTaus() []float64 {
	return Linspace(0.1, 0.8, 15)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// #endregion taus
