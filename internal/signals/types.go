package signals

import (
	"context"
	"errors"
	"time"
)

// ErrExternalDependency marks a failed embedding call on the dispersion path.
// Overlap and dispersion failures are never degraded; they surface to the caller.
var ErrExternalDependency = errors.New("external dependency failure")

// #region signature

// RiskSignature is the fixed-size risk fingerprint of one answer.
type RiskSignature struct {
	Dispersion  float64 `json:"dispersion"`  // 1 - mean pairwise cosine of alternates, >= 0
	Overlap     float64 `json:"overlap"`     // ROUGE-L F against truncated evidence, [0,1]
	Uncertainty float64 `json:"uncertainty"` // mean token entropy or length/dispersion proxy
}

// Vector returns the features in the order the classifier was trained on.
func (s RiskSignature) Vector() [3]float64 {
	return [3]float64{s.Dispersion, s.Overlap, s.Uncertainty}
}

// #endregion signature

// #region handles

// Embedder maps texts to sentence-level vectors. One vector per input, same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EntropyScorer returns the generator's per-position output logits for text.
// Implementations without access to token distributions return an error.
type EntropyScorer interface {
	TokenLogits(ctx context.Context, text string) ([][]float32, error)
}

// #endregion handles

// #region config

// ExtractorConfig holds the bounds for feature extraction.
type ExtractorConfig struct {
	EvidenceCharBudget int           // max runes of joined evidence scored for overlap
	CallTimeout        time.Duration // per external call; 0 disables
}

// DefaultExtractorConfig returns the budget the downstream thresholds were tuned against.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		EvidenceCharBudget: 4000,
		CallTimeout:        10 * time.Second,
	}
}

// #endregion config

// #region extraction

// UncertaintySource names which branch produced the uncertainty feature.
type UncertaintySource string

const (
	SourceEntropy  UncertaintySource = "entropy"
	SourceFallback UncertaintySource = "fallback"
)

// Extraction is a signature plus how it was obtained.
type Extraction struct {
	Signature         RiskSignature
	UncertaintySource UncertaintySource
	EvidenceRunes     int // runes of evidence actually scored after truncation
}

// #endregion extraction
