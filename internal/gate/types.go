package gate

import "github.com/danielpatrickdp/riskgate/internal/signals"

// #region verdict
// Verdict is the final answer/abstain outcome.
type Verdict string

const (
	VerdictAnswer  Verdict = "answer"
	VerdictAbstain Verdict = "abstain"
)

// #endregion verdict

// #region veto-type
// VetoType enumerates the conditions that force abstention.
type VetoType string

const (
	VetoProbability VetoType = "probability_at_or_above_tau"
	VetoOverlap     VetoType = "overlap_below_min"
	VetoDispersion  VetoType = "dispersion_above_max"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents one failed answer condition.
type VetoSignal struct {
	Type   VetoType `json:"type"`
	Reason string   `json:"reason"`
}

// #endregion veto-signal

// #region policy-config
// PolicyConfig holds the three decision cutoffs.
type PolicyConfig struct {
	Tau           float64 `json:"tau" yaml:"tau"`                       // abstain when p >= Tau
	MinOverlap    float64 `json:"min_overlap" yaml:"min_overlap"`       // abstain when overlap < MinOverlap
	MaxDispersion float64 `json:"max_dispersion" yaml:"max_dispersion"` // abstain when dispersion > MaxDispersion
}

// DefaultPolicyConfig returns the cutoffs used for evaluation runs.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Tau:           0.3,
		MinOverlap:    0.35,
		MaxDispersion: 0.30,
	}
}

// WithTau returns a copy of c with Tau replaced.
func (c PolicyConfig) WithTau(tau float64) PolicyConfig {
	c.Tau = tau
	return c
}

// #endregion policy-config

// #region gate-decision
// GateDecision is the output of Gate.Evaluate.
type GateDecision struct {
	Verdict     Verdict
	Reason      string
	VetoSignals []VetoSignal // non-empty iff Verdict is abstain
}

// #endregion gate-decision

// #region decision-record
// DecisionRecord is the derived per-query result.
type DecisionRecord struct {
	Verdict      Verdict               `json:"decision"`
	Probability  float64               `json:"p_disagree"`
	Signature    signals.RiskSignature `json:"signature"`
	NeutralPrior bool                  `json:"neutral_prior"` // probability is the 0.5 stand-in for a missing head
}

// Answered reports whether the record answers.
func (r DecisionRecord) Answered() bool {
	return r.Verdict == VerdictAnswer
}

// #endregion decision-record
