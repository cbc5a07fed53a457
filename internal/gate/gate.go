package gate

import (
	"fmt"

	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// #region decide
// Decide answers only when the head is confident enough, grounding is strong
// enough and sampling is stable enough. Pure; ties at the cutoffs resolve as
// written: p == Tau abstains, overlap == MinOverlap and dispersion == MaxDispersion answer.
func Decide(p float64, sig signals.RiskSignature, cfg PolicyConfig) Verdict {
	if p < cfg.Tau && sig.Overlap >= cfg.MinOverlap && sig.Dispersion <= cfg.MaxDispersion {
		return VerdictAnswer
	}
	return VerdictAbstain
}

// #endregion decide

// #region gate
// Gate evaluates the policy and explains abstentions.
type Gate struct {
	config PolicyConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config PolicyConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the policy the gate applies.
func (g *Gate) Config() PolicyConfig {
	return g.config
}

// Evaluate collects every failed answer condition. The verdict always equals Decide.
func (g *Gate) Evaluate(p float64, sig signals.RiskSignature) GateDecision {
	var vetoes []VetoSignal

	// 1. Head probability
	if !(p < g.config.Tau) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoProbability,
			Reason: fmt.Sprintf("p_disagree %.4f >= tau %.4f", p, g.config.Tau),
		})
	}

	// 2. Evidence overlap
	if !(sig.Overlap >= g.config.MinOverlap) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoOverlap,
			Reason: fmt.Sprintf("overlap %.4f < min %.4f", sig.Overlap, g.config.MinOverlap),
		})
	}

	// 3. Sample dispersion
	if !(sig.Dispersion <= g.config.MaxDispersion) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoDispersion,
			Reason: fmt.Sprintf("dispersion %.4f > max %.4f", sig.Dispersion, g.config.MaxDispersion),
		})
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Verdict:     VerdictAbstain,
			Reason:      fmt.Sprintf("abstain: %s", vetoes[0].Reason),
			VetoSignals: vetoes,
		}
	}

	return GateDecision{
		Verdict: VerdictAnswer,
		Reason:  fmt.Sprintf("answer: p_disagree=%.4f overlap=%.4f dispersion=%.4f", p, sig.Overlap, sig.Dispersion),
	}
}

// Record builds the DecisionRecord for p and sig.
func (g *Gate) Record(p float64, sig signals.RiskSignature, neutralPrior bool) DecisionRecord {
	return DecisionRecord{
		Verdict:      Decide(p, sig, g.config),
		Probability:  p,
		Signature:    sig,
		NeutralPrior: neutralPrior,
	}
}

// #endregion gate
