package eval

import (
	"errors"

	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// ErrMalformedCurve is returned by ReadCurve for a missing or wrong header or unparsable rows.
var ErrMalformedCurve = errors.New("malformed coverage curve")

// #region calibration-row
// CalibrationRow is one held-out item scored by the head and labeled independently.
type CalibrationRow struct {
	Probability      float64               `json:"p_disagree"`
	Signature        signals.RiskSignature `json:"signature"`
	IndependentLabel bool                  `json:"hallucinated"` // true = unsupported per the independent check
}

// #endregion calibration-row

// #region coverage-point
// CoveragePoint is the trade-off at one threshold.
type CoveragePoint struct {
	Threshold         float64 `json:"tau"`
	Coverage          float64 `json:"coverage"`
	HallucinationRate float64 `json:"hallucination_rate"`
}

// #endregion coverage-point

// #region labeler-config
// LabelerConfig configures the independent entailment labeler.
type LabelerConfig struct {
	Threshold     float64 // best entailment below this marks the answer unsupported
	MinClaimChars int
	MaxClaimChars int
	PremiseBudget int // passages beyond this many are ignored; 0 = all
}

// DefaultLabelerConfig returns the hallucination threshold used by the curve tooling.
func DefaultLabelerConfig() LabelerConfig {
	return LabelerConfig{
		Threshold:     0.35,
		MinClaimChars: 3,
		MaxClaimChars: 300,
	}
}

// #endregion labeler-config

// #region entailment-pair
// EntailmentPair is a (premise, hypothesis) input to an NLI model.
type EntailmentPair struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

// #endregion entailment-pair
