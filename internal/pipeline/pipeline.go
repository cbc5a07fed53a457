// Package pipeline wires the sampler, feature extractor, disagreement head and
// decision gate into one answer-or-abstain call per query.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/gate"
	"github.com/danielpatrickdp/riskgate/internal/logging"
	"github.com/danielpatrickdp/riskgate/internal/retrieval"
)

// #region pipeline-struct

// Pipeline is the top-level coordinator for one query: answer, evidence
// hygiene, resampling, feature extraction, risk prediction and gating.
type Pipeline struct {
	sampler   retrieval.Sampler
	extractor FeatureExtractor
	head      atomic.Pointer[ActiveHead]
	config    Config
	logger    *slog.Logger
	recorder  DecisionRecorder
}

// #endregion

// #region constructor

// NewPipeline creates a pipeline with no head; queries answer on the neutral
// prior until SetModel is called.
func NewPipeline(sampler retrieval.Sampler, extractor FeatureExtractor, config Config) *Pipeline {
	p := &Pipeline{
		sampler:   sampler,
		extractor: extractor,
		config:    config,
		logger:    slog.Default(),
	}
	p.head.Store(&ActiveHead{})
	return p
}

// SetLogger replaces the pipeline logger.
func (p *Pipeline) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

// SetRecorder enables decision provenance. nil disables it.
func (p *Pipeline) SetRecorder(r DecisionRecorder) {
	p.recorder = r
}

// #endregion

// #region model

// SetModel swaps the active head. Safe while requests are in flight; each
// request scores with the head it loaded at start.
func (p *Pipeline) SetModel(head *disagree.Head, versionID string) {
	p.head.Store(&ActiveHead{Head: head, VersionID: versionID})
	p.logger.Info("active head swapped", "version", versionID, "trained", head != nil && head.Trained())
}

// Model returns the active head.
func (p *Pipeline) Model() ActiveHead {
	return *p.head.Load()
}

// Config returns the pipeline limits.
func (p *Pipeline) Config() Config {
	return p.config
}

// Policy returns the cutoffs requests currently score under.
func (p *Pipeline) Policy() gate.PolicyConfig {
	return p.policyFor(p.head.Load().Head)
}

// policyFor uses a trained head's own threshold as Tau unless PinTau is set.
func (p *Pipeline) policyFor(head *disagree.Head) gate.PolicyConfig {
	policy := p.config.Policy
	if !p.config.PinTau && head != nil && head.Trained() {
		policy = policy.WithTau(head.Threshold())
	}
	return policy
}

// #endregion

// #region run

// Run answers query and decides whether the answer should be released.
func (p *Pipeline) Run(ctx context.Context, query string) (Result, error) {
	start := time.Now()
	active := p.head.Load()
	requestID := uuid.NewString()

	obs, err := p.Observe(ctx, query)
	if err != nil {
		p.logger.Error("pipeline failed", "request_id", requestID, "error", err)
		return Result{}, err
	}

	scored, err := decide(p.logger, obs.Extraction, active.Head, p.policyFor(active.Head))
	if err != nil {
		p.logger.Error("scoring failed", "request_id", requestID, "error", err)
		return Result{}, err
	}

	res := Result{
		RequestID: requestID,
		Answer:    obs.Answer,
		Sources:   retrieval.Snippets(obs.Evidence, p.config.Evidence.SnippetLen),
		VersionID: active.VersionID,
		Scored:    scored,
	}

	p.logger.Info("decision",
		"request_id", requestID,
		"verdict", scored.Record.Verdict,
		"p_disagree", scored.Record.Probability,
		"neutral_prior", scored.Record.NeutralPrior,
		"version", active.VersionID,
		"latency_ms", time.Since(start).Milliseconds())

	p.record(ctx, query, res)
	return res, nil
}

// Observe answers query, filters its evidence, draws alternates and extracts
// the risk signature. The head is not consulted.
func (p *Pipeline) Observe(ctx context.Context, query string) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}

	ans, err := p.answer(ctx, query)
	if err != nil {
		return Observation{}, err
	}

	filtered := retrieval.Filter(ans.Evidence, p.config.Evidence)
	p.logger.Debug("evidence filtered", "reason", filtered.Reason)

	alternates, err := p.alternates(ctx, query, ans.Text)
	if err != nil {
		return Observation{}, err
	}

	ex, err := p.extractor.ExtractDetailed(ctx, ans.Text, retrieval.Passages(filtered.Kept), alternates)
	if err != nil {
		return Observation{}, externalError(ctx, "extract features", err)
	}

	return Observation{
		Query:      query,
		Answer:     ans.Text,
		Evidence:   filtered.Kept,
		Alternates: alternates,
		Extraction: ex,
	}, nil
}

// Score runs ScoreAndDecide against the active head with this pipeline's
// policy and logger, for callers that already hold answer and evidence.
func (p *Pipeline) Score(ctx context.Context, answer string, evidence, alternates []string) (Scored, error) {
	active := p.head.Load()
	return scoreAndDecide(ctx, p.logger, p.extractor, answer, evidence, alternates, active.Head, p.policyFor(active.Head))
}

func (p *Pipeline) answer(ctx context.Context, query string) (retrieval.Answer, error) {
	callCtx, cancel := p.bounded(ctx)
	defer cancel()

	ans, err := p.sampler.Answer(callCtx, query)
	if err != nil {
		return retrieval.Answer{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(ans.Text) == "" {
		return retrieval.Answer{}, fmt.Errorf("%w: empty answer", ErrGenerationFailed)
	}
	return ans, nil
}

func (p *Pipeline) alternates(ctx context.Context, query, answer string) ([]string, error) {
	if p.config.SampleCount < 2 {
		return []string{answer}, nil
	}
	callCtx, cancel := p.bounded(ctx)
	defer cancel()

	samples, err := p.sampler.Sample(callCtx, query, p.config.SampleCount)
	if err != nil {
		return nil, externalError(ctx, "sample alternates", err)
	}
	return samples, nil
}

func (p *Pipeline) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.CallTimeout)
}

// #endregion

// #region provenance

func (p *Pipeline) record(ctx context.Context, query string, res Result) {
	if p.recorder == nil {
		return
	}
	sources := make([]string, len(res.Sources))
	for i, s := range res.Sources {
		sources[i] = s.SourceID
	}
	sig := res.Record.Signature
	trace := logging.DecisionTrace{
		RequestID: res.RequestID,
		QueryHash: logging.QueryHash(query),
		Signals: logging.TraceSignals{
			Dispersion:        sig.Dispersion,
			Overlap:           sig.Overlap,
			Uncertainty:       sig.Uncertainty,
			UncertaintySource: string(res.Extraction.UncertaintySource),
			EvidenceRunes:     res.Extraction.EvidenceRunes,
		},
		Thresholds:   res.Policy,
		Sources:      sources,
		Probability:  res.Record.Probability,
		NeutralPrior: res.Record.NeutralPrior,
		Decision:     string(res.Record.Verdict),
		Reason:       res.Gate.Reason,
		Vetoes:       res.Gate.VetoSignals,
	}
	if err := p.recorder.Record(ctx, res.VersionID, trace); err != nil {
		p.logger.Warn("decision not recorded", "request_id", res.RequestID, "error", err)
	}
}

// #endregion
