package signals

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"
)

// #region extractor

// Extractor turns an answer, its evidence, and resampled alternates into a RiskSignature.
type Extractor struct {
	embedder Embedder
	entropy  EntropyScorer
	config   ExtractorConfig
	logger   *slog.Logger
}

// NewExtractor creates an Extractor. embedder is required once two or more
// alternates are supplied; entropy may be nil (uncertainty uses the fallback).
func NewExtractor(embedder Embedder, entropy EntropyScorer, config ExtractorConfig) *Extractor {
	return &Extractor{
		embedder: embedder,
		entropy:  entropy,
		config:   config,
		logger:   slog.Default(),
	}
}

// SetLogger replaces the logger used for degraded-path reporting.
func (e *Extractor) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// #endregion extractor

// #region extract

// Extract computes the signature for one answer.
func (e *Extractor) Extract(ctx context.Context, primary string, passages, alternates []string) (RiskSignature, error) {
	ex, err := e.ExtractDetailed(ctx, primary, passages, alternates)
	if err != nil {
		return RiskSignature{}, err
	}
	return ex.Signature, nil
}

// ExtractDetailed is Extract plus the branch taken for uncertainty.
func (e *Extractor) ExtractDetailed(ctx context.Context, primary string, passages, alternates []string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	dispersion, err := e.dispersion(ctx, alternates)
	if err != nil {
		return Extraction{}, err
	}

	evidence := JoinEvidence(passages, e.config.EvidenceCharBudget)
	overlap := RougeLF(evidence, primary)

	uncertainty, source := e.uncertainty(ctx, primary, dispersion)

	return Extraction{
		Signature: RiskSignature{
			Dispersion:  dispersion,
			Overlap:     overlap,
			Uncertainty: uncertainty,
		},
		UncertaintySource: source,
		EvidenceRunes:     utf8.RuneCountInString(evidence),
	}, nil
}

// #endregion extract

// #region dispersion

// dispersion is 1 - mean pairwise cosine similarity across alternates.
// Fewer than two alternates carry no disagreement information and yield exactly 0.
func (e *Extractor) dispersion(ctx context.Context, alternates []string) (float64, error) {
	if len(alternates) < 2 {
		return 0, nil
	}
	if e.embedder == nil {
		return 0, fmt.Errorf("dispersion: no embedder configured: %w", ErrExternalDependency)
	}

	callCtx, cancel := e.bounded(ctx)
	vecs, err := e.embedder.Embed(callCtx, alternates)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("dispersion: embed %d alternates: %w: %w", len(alternates), ErrExternalDependency, err)
	}
	if len(vecs) != len(alternates) {
		return 0, fmt.Errorf("dispersion: embedder returned %d vectors for %d texts: %w", len(vecs), len(alternates), ErrExternalDependency)
	}

	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return 0, fmt.Errorf("dispersion: vector %d has dim %d, want %d: %w", i, len(v), dim, ErrExternalDependency)
		}
	}

	var sum float64
	var pairs int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += cosineSimilarity(vecs[i], vecs[j])
			pairs++
		}
	}
	d := 1 - sum/float64(pairs)
	// cosine can exceed 1 by an ulp after normalisation
	if d < 0 {
		d = 0
	}
	return d, nil
}

// #endregion dispersion

// #region uncertainty

// uncertainty prefers mean token entropy and falls back to len/1000 + dispersion.
// The fallback scale is what downstream thresholds were tuned against; keep it exact.
func (e *Extractor) uncertainty(ctx context.Context, primary string, dispersion float64) (float64, UncertaintySource) {
	if ent, ok := e.tokenEntropy(ctx, primary); ok {
		return ent, SourceEntropy
	}
	return FallbackUncertainty(primary, dispersion), SourceFallback
}

func (e *Extractor) tokenEntropy(ctx context.Context, primary string) (float64, bool) {
	if e.entropy == nil || primary == "" {
		return 0, false
	}
	callCtx, cancel := e.bounded(ctx)
	defer cancel()

	logits, err := e.entropy.TokenLogits(callCtx, primary)
	if err != nil {
		e.logger.Debug("token entropy unavailable, using fallback", "error", err)
		return 0, false
	}
	ent, ok := MeanTokenEntropy(logits)
	if !ok {
		e.logger.Debug("token entropy returned no rows, using fallback")
	}
	return ent, ok
}

// FallbackUncertainty is the length/instability proxy used when token
// distributions are unavailable.
func FallbackUncertainty(primary string, dispersion float64) float64 {
	return float64(utf8.RuneCountInString(primary))/1000.0 + dispersion
}

// #endregion uncertainty

// #region helpers

func (e *Extractor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.CallTimeout)
}

// JoinEvidence concatenates passages with newlines and truncates to budget runes.
// budget <= 0 disables truncation.
func JoinEvidence(passages []string, budget int) string {
	joined := strings.Join(passages, "\n")
	if budget <= 0 || utf8.RuneCountInString(joined) <= budget {
		return joined
	}
	n := 0
	for i := range joined {
		if n == budget {
			return joined[:i]
		}
		n++
	}
	return joined
}

// cosineSimilarity computes cosine similarity between two equal-length vectors.
// Zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// #endregion helpers
