package eval

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Entailer scores each pair with the probability that the premise entails the hypothesis.
type Entailer interface {
	Entail(ctx context.Context, pairs []EntailmentPair) ([]float64, error)
}

// #region labeler
// EntailmentLabeler is the independent hallucination check used for curves. It
// looks only at answer text and evidence passages, never at risk signatures.
type EntailmentLabeler struct {
	entailer Entailer
	config   LabelerConfig
}

// NewEntailmentLabeler creates a labeler around an NLI backend.
func NewEntailmentLabeler(entailer Entailer, config LabelerConfig) *EntailmentLabeler {
	return &EntailmentLabeler{entailer: entailer, config: config}
}

// BestEntailment returns the maximum entailment probability of any claim in
// answer against any passage. No passages yields 0.
func (l *EntailmentLabeler) BestEntailment(ctx context.Context, answer string, passages []string) (float64, error) {
	if l.config.PremiseBudget > 0 && len(passages) > l.config.PremiseBudget {
		passages = passages[:l.config.PremiseBudget]
	}
	if len(passages) == 0 {
		return 0, nil
	}

	claims := SplitClaims(answer, l.config.MinClaimChars, l.config.MaxClaimChars)
	pairs := make([]EntailmentPair, 0, len(passages)*len(claims))
	for _, p := range passages {
		for _, c := range claims {
			pairs = append(pairs, EntailmentPair{Premise: p, Hypothesis: c})
		}
	}

	scores, err := l.entailer.Entail(ctx, pairs)
	if err != nil {
		return 0, fmt.Errorf("entailment: %w", err)
	}
	if len(scores) != len(pairs) {
		return 0, fmt.Errorf("entailment: got %d scores for %d pairs", len(scores), len(pairs))
	}

	var best float64
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	return best, nil
}

// Label reports whether answer is unsupported (true) and the best entailment behind it.
func (l *EntailmentLabeler) Label(ctx context.Context, answer string, passages []string) (bool, float64, error) {
	best, err := l.BestEntailment(ctx, answer, passages)
	if err != nil {
		return false, 0, err
	}
	return best < l.config.Threshold, best, nil
}

// #endregion labeler

// #region claims
// SplitClaims splits text after '.', '?' or '!' followed by whitespace and keeps
// trimmed sentences whose length lies in [minChars, maxChars]. When none
// qualify, the whole trimmed text is the single claim.
func SplitClaims(text string, minChars, maxChars int) []string {
	var claims []string
	keep := func(s string) {
		s = strings.TrimSpace(s)
		n := utf8.RuneCountInString(s)
		if n >= minChars && (maxChars <= 0 || n <= maxChars) {
			claims = append(claims, s)
		}
	}

	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		j := i
		for j < len(text) {
			ws, wsize := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(ws) {
				break
			}
			j += wsize
		}
		if j == i {
			continue
		}
		keep(text[start:i])
		start = j
		i = j
	}
	if start < len(text) {
		keep(text[start:])
	}

	if len(claims) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return claims
}

// #endregion claims
