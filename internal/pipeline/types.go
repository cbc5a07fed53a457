package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/gate"
	"github.com/danielpatrickdp/riskgate/internal/logging"
	"github.com/danielpatrickdp/riskgate/internal/retrieval"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// ErrGenerationFailed means the sampler could not produce a primary answer.
// No verdict is fabricated in that case.
var ErrGenerationFailed = errors.New("generation failed")

// NeutralProbability stands in for the head's output when no trained head is available.
const NeutralProbability = 0.5

// #region config
// Config holds the per-request limits of the pipeline.
type Config struct {
	Policy      gate.PolicyConfig
	Evidence    retrieval.EvidenceConfig
	SampleCount int           // alternates drawn per query; below 2 the answer is its own alternate
	CallTimeout time.Duration // bound on each sampler call; 0 leaves the request deadline in charge

	// PinTau keeps Policy.Tau even when the active head carries its own threshold.
	PinTau bool
}

// DefaultConfig returns the serving defaults.
func DefaultConfig() Config {
	return Config{
		Policy:      gate.DefaultPolicyConfig(),
		Evidence:    retrieval.DefaultConfig(),
		SampleCount: 1,
		CallTimeout: 30 * time.Second,
	}
}

// #endregion config

// #region handles
// FeatureExtractor computes the risk signature of one answer.
type FeatureExtractor interface {
	ExtractDetailed(ctx context.Context, primary string, passages, alternates []string) (signals.Extraction, error)
}

// DecisionRecorder persists one decision trace.
type DecisionRecorder interface {
	Record(ctx context.Context, versionID string, trace logging.DecisionTrace) error
}

// ActiveHead is the head a pipeline scores with, plus its registry version.
type ActiveHead struct {
	Head      *disagree.Head
	VersionID string // empty when the head did not come from the registry
}

// #endregion handles

// #region results
// Observation is everything gathered for a query before the head is consulted.
type Observation struct {
	Query      string
	Answer     string
	Evidence   []retrieval.Evidence // kept passages, untruncated
	Alternates []string
	Extraction signals.Extraction
}

// Scored is the outcome of ScoreAndDecide.
type Scored struct {
	Record     gate.DecisionRecord
	Gate       gate.GateDecision
	Extraction signals.Extraction
	Policy     gate.PolicyConfig // cutoffs the verdict was taken under
}

// Result is the outcome of Pipeline.Run for one query.
type Result struct {
	RequestID string
	Answer    string
	Sources   []retrieval.Evidence // kept evidence cut to the snippet length
	VersionID string
	Scored
}

// #endregion results
