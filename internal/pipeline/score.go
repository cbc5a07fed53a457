package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/gate"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// #region score-and-decide
// ScoreAndDecide extracts the signature, asks model for p_disagree and applies
// policy. A nil or untrained model yields the neutral prior: probability 0.5 and
// an answer verdict, flagged on the record and logged at WARN.
func ScoreAndDecide(
	ctx context.Context,
	extractor FeatureExtractor,
	answer string,
	evidence, alternates []string,
	model *disagree.Head,
	policy gate.PolicyConfig,
) (Scored, error) {
	return scoreAndDecide(ctx, slog.Default(), extractor, answer, evidence, alternates, model, policy)
}

func scoreAndDecide(
	ctx context.Context,
	logger *slog.Logger,
	extractor FeatureExtractor,
	answer string,
	evidence, alternates []string,
	model *disagree.Head,
	policy gate.PolicyConfig,
) (Scored, error) {
	ex, err := extractor.ExtractDetailed(ctx, answer, evidence, alternates)
	if err != nil {
		return Scored{}, externalError(ctx, "extract features", err)
	}
	return decide(logger, ex, model, policy)
}

// decide applies model and policy to an already extracted signature.
func decide(logger *slog.Logger, ex signals.Extraction, model *disagree.Head, policy gate.PolicyConfig) (Scored, error) {
	p, neutral, err := predict(model, ex.Signature)
	if err != nil {
		return Scored{}, fmt.Errorf("predict: %w", err)
	}

	g := gate.NewGate(policy)
	if neutral {
		logger.Warn("no trained head, answering with neutral prior",
			"p_disagree", p,
			"overlap", ex.Signature.Overlap,
			"dispersion", ex.Signature.Dispersion)
		return Scored{
			Record: gate.DecisionRecord{
				Verdict:      gate.VerdictAnswer,
				Probability:  p,
				Signature:    ex.Signature,
				NeutralPrior: true,
			},
			Gate: gate.GateDecision{
				Verdict: gate.VerdictAnswer,
				Reason:  "answer: neutral prior, no trained head",
			},
			Extraction: ex,
			Policy:     policy,
		}, nil
	}

	decision := g.Evaluate(p, ex.Signature)
	logger.Debug("gate evaluated",
		"p_disagree", p,
		"verdict", decision.Verdict,
		"vetoes", len(decision.VetoSignals),
		"uncertainty_source", ex.UncertaintySource)

	return Scored{
		Record:     g.Record(p, ex.Signature, false),
		Gate:       decision,
		Extraction: ex,
		Policy:     policy,
	}, nil
}

// predict reports neutral=true when model cannot produce a probability yet.
func predict(model *disagree.Head, sig signals.RiskSignature) (p float64, neutral bool, err error) {
	if model == nil {
		return NeutralProbability, true, nil
	}
	p, err = model.PredictProbability(sig)
	if errors.Is(err, disagree.ErrNotTrained) {
		return NeutralProbability, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return p, false, nil
}

// externalError tags a dependency failure with signals.ErrExternalDependency.
// Cancellation of the caller's own context is passed through untagged.
func externalError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, signals.ErrExternalDependency) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, signals.ErrExternalDependency, err)
}

// #endregion score-and-decide
