package disagree

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// nParams is three weights plus the intercept.
const nParams = 4

// #region solver

// fitLogistic minimises
//
//	0.5*|w|^2 + C * sum_i s_i * logloss(y_i, sigmoid(w.x_i + b))
//
// with balanced sample weights s_i = n / (2*n_class(y_i)), by damped Newton steps.
func fitLogistic(sigs []signals.RiskSignature, labels []bool, cfg FitConfig) (Params, TrainingMeta, error) {
	n := len(sigs)
	var nPos int
	for _, y := range labels {
		if y {
			nPos++
		}
	}
	nNeg := n - nPos
	classW := [2]float64{
		float64(n) / (2 * float64(nNeg)),
		float64(n) / (2 * float64(nPos)),
	}

	xs := make([][nParams]float64, n)
	ys := make([]float64, n)
	sw := make([]float64, n)
	for i, s := range sigs {
		v := s.Vector()
		xs[i] = [nParams]float64{v[0], v[1], v[2], 1}
		if labels[i] {
			ys[i] = 1
			sw[i] = classW[1]
		} else {
			sw[i] = classW[0]
		}
	}

	c := cfg.C
	if c <= 0 {
		c = DefaultFitConfig().C
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultFitConfig().MaxIterations
	}

	var theta [nParams]float64
	meta := TrainingMeta{
		Samples:      n,
		PositiveRate: float64(nPos) / float64(n),
		ClassWeights: classW,
	}

	loss := objective(theta, xs, ys, sw, c)
	for iter := 1; iter <= maxIter; iter++ {
		grad, hess := derivatives(theta, xs, ys, sw, c)
		meta.Iterations = iter
		if maxAbs(grad) < cfg.Tolerance {
			meta.Converged = true
			break
		}

		step, err := solve4(hess, grad)
		if err != nil {
			return Params{}, TrainingMeta{}, fmt.Errorf("fit: newton step: %w", err)
		}

		// Backtrack until the objective does not increase.
		alpha := 1.0
		var next [nParams]float64
		var nextLoss float64
		for {
			for k := range theta {
				next[k] = theta[k] - alpha*step[k]
			}
			nextLoss = objective(next, xs, ys, sw, c)
			if nextLoss <= loss || alpha < 1e-6 {
				break
			}
			alpha /= 2
		}
		theta = next
		if math.Abs(loss-nextLoss) < cfg.Tolerance*math.Max(1, math.Abs(loss)) {
			loss = nextLoss
			meta.Converged = true
			break
		}
		loss = nextLoss
	}

	for _, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Params{}, TrainingMeta{}, fmt.Errorf("fit: solver diverged: %w", ErrInvalidInput)
		}
	}

	return Params{
		Weights:   [3]float64{theta[0], theta[1], theta[2]},
		Intercept: theta[3],
	}, meta, nil
}

func objective(theta [nParams]float64, xs [][nParams]float64, ys, sw []float64, c float64) float64 {
	reg := 0.5 * (theta[0]*theta[0] + theta[1]*theta[1] + theta[2]*theta[2])
	var ll float64
	for i, x := range xs {
		z := dot(theta, x)
		// log(1+exp(z)) - y*z, written to avoid overflow.
		ll += sw[i] * (softplus(z) - ys[i]*z)
	}
	return reg + c*ll
}

func derivatives(theta [nParams]float64, xs [][nParams]float64, ys, sw []float64, c float64) ([nParams]float64, [nParams][nParams]float64) {
	var grad [nParams]float64
	var hess [nParams][nParams]float64

	for i, x := range xs {
		p := sigmoid(dot(theta, x))
		r := c * sw[i] * (p - ys[i])
		d := c * sw[i] * p * (1 - p)
		for a := 0; a < nParams; a++ {
			grad[a] += r * x[a]
			for b := a; b < nParams; b++ {
				hess[a][b] += d * x[a] * x[b]
			}
		}
	}
	for a := 0; a < nParams; a++ {
		for b := 0; b < a; b++ {
			hess[a][b] = hess[b][a]
		}
	}
	// L2 on weights only.
	for a := 0; a < 3; a++ {
		grad[a] += theta[a]
		hess[a][a] += 1
	}
	hess[3][3] += 1e-10
	return grad, hess
}

// solve4 solves H x = g with partial pivoting.
func solve4(h [nParams][nParams]float64, g [nParams]float64) ([nParams]float64, error) {
	var m [nParams][nParams + 1]float64
	for i := 0; i < nParams; i++ {
		copy(m[i][:nParams], h[i][:])
		m[i][nParams] = g[i]
	}

	for col := 0; col < nParams; col++ {
		pivot := col
		for r := col + 1; r < nParams; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-300 {
			return [nParams]float64{}, fmt.Errorf("singular hessian at column %d", col)
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := col + 1; r < nParams; r++ {
			f := m[r][col] / m[col][col]
			for k := col; k <= nParams; k++ {
				m[r][k] -= f * m[col][k]
			}
		}
	}

	var x [nParams]float64
	for i := nParams - 1; i >= 0; i-- {
		sum := m[i][nParams]
		for k := i + 1; k < nParams; k++ {
			sum -= m[i][k] * x[k]
		}
		x[i] = sum / m[i][i]
	}
	return x, nil
}

// #endregion solver

// #region math

func dot(a, b [nParams]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] + a[3]*b[3]
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}

func maxAbs(v [nParams]float64) float64 {
	var m float64
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// #endregion math
