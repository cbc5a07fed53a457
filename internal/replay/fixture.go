package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/gate"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a calibration fixture: recorded
// rows plus the curve they are expected to produce.
type Fixture struct {
	Description string                `json:"description"`
	Policy      *gate.PolicyConfig    `json:"policy,omitempty"` // nil uses gate.DefaultPolicyConfig
	Taus        []float64             `json:"taus,omitempty"`   // empty uses eval.DefaultTaus
	Rows        []eval.CalibrationRow `json:"rows"`
	Expected    []eval.CoveragePoint  `json:"expected,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// PolicyConfig returns the fixture policy or the default one.
func (f *Fixture) PolicyConfig() gate.PolicyConfig {
	if f.Policy == nil {
		return gate.DefaultPolicyConfig()
	}
	return *f.Policy
}

// Thresholds returns the fixture taus or the default grid.
func (f *Fixture) Thresholds() []float64 {
	if len(f.Taus) == 0 {
		return eval.DefaultTaus()
	}
	return f.Taus
}

// #endregion fixture-loader

// #region fixture-replay

// Replay sweeps the fixture rows. Operates entirely in memory.
func (f *Fixture) Replay() []eval.CoveragePoint {
	return eval.Sweep(f.Rows, f.Thresholds(), f.PolicyConfig())
}

// Drift lists every point where got differs from the fixture's expectation by
// more than tol. No expectation means no drift.
func (f *Fixture) Drift(got []eval.CoveragePoint, tol float64) []string {
	if len(f.Expected) == 0 {
		return nil
	}
	if len(got) != len(f.Expected) {
		return []string{fmt.Sprintf("expected %d points, got %d", len(f.Expected), len(got))}
	}
	var out []string
	for i, want := range f.Expected {
		g := got[i]
		if math.Abs(g.Threshold-want.Threshold) > tol ||
			math.Abs(g.Coverage-want.Coverage) > tol ||
			math.Abs(g.HallucinationRate-want.HallucinationRate) > tol {
			out = append(out, fmt.Sprintf("tau %.2f: expected coverage=%.3f rate=%.3f, got tau %.2f coverage=%.3f rate=%.3f",
				want.Threshold, want.Coverage, want.HallucinationRate, g.Threshold, g.Coverage, g.HallucinationRate))
		}
	}
	return out
}

// #endregion fixture-replay
