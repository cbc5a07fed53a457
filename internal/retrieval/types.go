package retrieval

import "context"

// #region config
// EvidenceConfig holds limits applied to sampler evidence before scoring.
type EvidenceConfig struct {
	TopK           int // passages kept for overlap scoring; 0 keeps all
	MaxEvidenceLen int // drop passages longer than this many runes; 0 = no cap
	SnippetLen     int // rune cap for source text shown to clients
}

// DefaultConfig keeps the top three passages and 500-rune source snippets.
func DefaultConfig() EvidenceConfig {
	return EvidenceConfig{
		TopK:           3,
		MaxEvidenceLen: 0,
		SnippetLen:     500,
	}
}

// #endregion config

// #region evidence
// Evidence is one retrieved passage.
type Evidence struct {
	SourceID string  `json:"source"`
	Text     string  `json:"text"`
	Score    float32 `json:"score,omitempty"`
}

// Answer is the sampler's primary output for a query.
type Answer struct {
	Text     string
	Evidence []Evidence
}

// #endregion evidence

// #region sampler
// Sampler is the retrieval-and-generation boundary. Answer produces the primary
// answer with its evidence; Sample draws k alternate answers for the same query.
type Sampler interface {
	Answer(ctx context.Context, query string) (Answer, error)
	Sample(ctx context.Context, query string, k int) ([]string, error)
}

// #endregion sampler

// #region filter-result
// FilterResult captures what the consistency check kept.
type FilterResult struct {
	InputCount int
	Kept       []Evidence
	Reason     string
}

// #endregion filter-result
