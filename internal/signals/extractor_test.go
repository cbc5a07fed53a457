package signals

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// #region mocks

// mockEmbedder returns pre-configured embeddings or errors.
type mockEmbedder struct {
	embeddings map[string][]float32
	err        error
	calls      int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		emb, ok := m.embeddings[t]
		if !ok {
			return nil, errors.New("no embedding for: " + t)
		}
		out[i] = emb
	}
	return out, nil
}

// blockingEmbedder waits for cancellation.
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockScorer struct {
	logits [][]float32
	err    error
}

func (m *mockScorer) TokenLogits(_ context.Context, _ string) ([][]float32, error) {
	return m.logits, m.err
}

// #endregion mocks

// #region dispersion-tests

func TestDispersion_ZeroAlternates(t *testing.T) {
	emb := &mockEmbedder{}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "answer", []string{"answer"}, nil)
	require.NoError(t, err)
	assert.Zero(t, sig.Dispersion)
	assert.Zero(t, emb.calls, "embedder should not be called")
}

func TestDispersion_OneAlternate(t *testing.T) {
	e := NewExtractor(nil, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "answer", nil, []string{"only one"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sig.Dispersion)
}

func TestDispersion_IdenticalAnswers(t *testing.T) {
	emb := &mockEmbedder{embeddings: map[string][]float32{
		"a": {1, 0, 0},
		"b": {2, 0, 0},
	}}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "x", nil, []string{"a", "b"})
	require.NoError(t, err)
	assert.Zero(t, sig.Dispersion, "parallel vectors")
}

func TestDispersion_MeanOfPairs(t *testing.T) {
	emb := &mockEmbedder{embeddings: map[string][]float32{
		"a": {1, 0},
		"b": {1, 0},
		"c": {0, 1},
	}}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "x", nil, []string{"a", "b", "c"})
	require.NoError(t, err)
	// pairs: ab=1, ac=0, bc=0 -> mean 1/3
	assert.InDelta(t, 2.0/3.0, sig.Dispersion, 1e-9)
}

func TestDispersion_OppositeExceedsOne(t *testing.T) {
	emb := &mockEmbedder{embeddings: map[string][]float32{
		"yes": {1, 0},
		"no":  {-1, 0},
	}}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "x", nil, []string{"yes", "no"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sig.Dispersion, 1e-9)
}

func TestDispersion_EmbedErrorSurfaces(t *testing.T) {
	emb := &mockEmbedder{err: errors.New("encoder down")}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	_, err := e.Extract(context.Background(), "x", nil, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrExternalDependency)
}

func TestDispersion_DimensionMismatch(t *testing.T) {
	emb := &mockEmbedder{embeddings: map[string][]float32{
		"a": {1, 0},
		"b": {1, 0, 0},
	}}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	_, err := e.Extract(context.Background(), "x", nil, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrExternalDependency)
}

func TestDispersion_NoEmbedder(t *testing.T) {
	e := NewExtractor(nil, nil, DefaultExtractorConfig())
	_, err := e.Extract(context.Background(), "x", nil, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrExternalDependency)
}

func TestDispersion_CallTimeout(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	e := NewExtractor(blockingEmbedder{}, nil, cfg)

	_, err := e.Extract(context.Background(), "x", nil, []string{"a", "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtract_CancelledContextStartsNothing(t *testing.T) {
	emb := &mockEmbedder{}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, "x", nil, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, emb.calls, "no embed calls expected")
}

// #endregion dispersion-tests

// #region overlap-tests

func TestOverlap_IdenticalText(t *testing.T) {
	e := NewExtractor(nil, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "the quick brown fox", []string{"the quick brown fox"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sig.Overlap, 1e-9)
}

func TestOverlap_NoEvidence(t *testing.T) {
	e := NewExtractor(nil, nil, DefaultExtractorConfig())
	sig, err := e.Extract(context.Background(), "some answer", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, sig.Overlap)
}

func TestOverlap_EvidenceBudgetTruncates(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.EvidenceCharBudget = 5
	e := NewExtractor(nil, nil, cfg)

	ex, err := e.ExtractDetailed(context.Background(), "zebra", []string{"alpha", "zebra"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, ex.EvidenceRunes)
	assert.Zero(t, ex.Signature.Overlap, "second passage should be cut off")
}

// #endregion overlap-tests

// #region uncertainty-tests

func TestUncertainty_FallbackWithoutScorer(t *testing.T) {
	emb := &mockEmbedder{embeddings: map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
	}}
	e := NewExtractor(emb, nil, DefaultExtractorConfig())
	ex, err := e.ExtractDetailed(context.Background(), "abcde", nil, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, ex.UncertaintySource)
	// 5/1000 + dispersion(1)
	assert.InDelta(t, 1.005, ex.Signature.Uncertainty, 1e-9)
}

func TestUncertainty_FallbackOnScorerError(t *testing.T) {
	e := NewExtractor(nil, &mockScorer{err: errors.New("no logits")}, DefaultExtractorConfig())
	ex, err := e.ExtractDetailed(context.Background(), "héllo", nil, nil)
	require.NoError(t, err, "scorer failure must not surface")
	assert.Equal(t, SourceFallback, ex.UncertaintySource)
	// rune count, not byte count
	assert.InDelta(t, 0.005, ex.Signature.Uncertainty, 1e-9)
}

func TestUncertainty_FallbackOnEmptyLogits(t *testing.T) {
	e := NewExtractor(nil, &mockScorer{logits: nil}, DefaultExtractorConfig())
	ex, err := e.ExtractDetailed(context.Background(), "ab", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, ex.UncertaintySource)
}

func TestUncertainty_EntropyPath(t *testing.T) {
	scorer := &mockScorer{logits: [][]float32{
		{0, 0, 0, 0},
		{5, 5, 5, 5},
	}}
	e := NewExtractor(nil, scorer, DefaultExtractorConfig())
	ex, err := e.ExtractDetailed(context.Background(), "answer", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceEntropy, ex.UncertaintySource)
	assert.InDelta(t, math.Log(4), ex.Signature.Uncertainty, 1e-6)
}

func TestMeanTokenEntropy_PeakedIsLow(t *testing.T) {
	ent, ok := MeanTokenEntropy([][]float32{{100, 0, 0, 0}})
	require.True(t, ok)
	assert.Less(t, ent, 1e-6)
}

func TestMeanTokenEntropy_LargeLogitsStable(t *testing.T) {
	ent, ok := MeanTokenEntropy([][]float32{{1e30, 1e30}})
	require.True(t, ok)
	require.False(t, math.IsNaN(ent))
	assert.InDelta(t, math.Log(2), ent, 1e-6)
}

// #endregion uncertainty-tests

// #region helper-tests

func TestJoinEvidence(t *testing.T) {
	assert.Equal(t, "aaaa\nb", JoinEvidence([]string{"aaaa", "bbbb"}, 6))
	assert.Equal(t, "hé", JoinEvidence([]string{"héllo"}, 2))
	assert.Equal(t, "abc", JoinEvidence([]string{"abc"}, 0))
}

// #endregion helper-tests

// #region properties

func TestProperty_DispersionZeroBelowTwoAlternates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alts := rapid.SliceOfN(rapid.String(), 0, 1).Draw(t, "alternates")
		e := NewExtractor(nil, nil, DefaultExtractorConfig())
		sig, err := e.Extract(context.Background(), "answer", []string{"evidence"}, alts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sig.Dispersion != 0 {
			t.Fatalf("dispersion %f with %d alternates", sig.Dispersion, len(alts))
		}
	})
}

func TestProperty_SignatureBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "n")
		emb := &mockEmbedder{embeddings: map[string][]float32{}}
		alts := make([]string, n)
		for i := range alts {
			alts[i] = string(rune('a' + i))
			emb.embeddings[alts[i]] = []float32{
				float32(rapid.Float64Range(-1, 1).Draw(t, "x")),
				float32(rapid.Float64Range(-1, 1).Draw(t, "y")),
				1,
			}
		}
		answer := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "answer")
		evidence := rapid.StringMatching(`[a-z ]{0,80}`).Draw(t, "evidence")

		e := NewExtractor(emb, nil, DefaultExtractorConfig())
		sig, err := e.Extract(context.Background(), answer, []string{evidence}, alts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sig.Dispersion < 0 {
			t.Fatalf("negative dispersion %f", sig.Dispersion)
		}
		if sig.Overlap < 0 || sig.Overlap > 1 {
			t.Fatalf("overlap out of range: %f", sig.Overlap)
		}
	})
}

// #endregion properties
