// Package retrieval defines the answer sampler boundary and the evidence
// hygiene applied before passages reach the feature extractor.
package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// #region filter
// Filter drops unusable evidence and keeps at most TopK passages in rank order:
//   - Non-empty text after trimming
//   - Text within MaxEvidenceLen
//   - No duplicate source IDs (passages without an ID are never deduplicated)
func Filter(evidence []Evidence, cfg EvidenceConfig) FilterResult {
	result := FilterResult{InputCount: len(evidence)}
	seen := make(map[string]bool)

	for _, ev := range evidence {
		if strings.TrimSpace(ev.Text) == "" {
			continue
		}
		if cfg.MaxEvidenceLen > 0 && utf8.RuneCountInString(ev.Text) > cfg.MaxEvidenceLen {
			continue
		}
		if ev.SourceID != "" {
			if seen[ev.SourceID] {
				continue
			}
			seen[ev.SourceID] = true
		}
		result.Kept = append(result.Kept, ev)
		if cfg.TopK > 0 && len(result.Kept) == cfg.TopK {
			break
		}
	}

	if len(result.Kept) == 0 {
		result.Reason = "no usable evidence"
	} else {
		result.Reason = fmt.Sprintf("kept %d of %d passages", len(result.Kept), result.InputCount)
	}
	return result
}

// #endregion filter

// #region passages
// Passages returns the evidence texts in order.
func Passages(evidence []Evidence) []string {
	out := make([]string, len(evidence))
	for i, ev := range evidence {
		out[i] = ev.Text
	}
	return out
}

// Snippets returns evidence with text cut to n runes, for client display.
func Snippets(evidence []Evidence, n int) []Evidence {
	out := make([]Evidence, len(evidence))
	for i, ev := range evidence {
		ev.Text = Truncate(ev.Text, n)
		out[i] = ev
	}
	return out
}

// Truncate cuts s to at most n runes. n <= 0 returns s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// #endregion passages
