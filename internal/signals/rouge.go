package signals

import (
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
)

// #region rouge-l

// RougeLF returns the ROUGE-L F-measure of candidate against reference:
// LCS length over token sequences, balanced between precision and recall.
// Result is in [0, 1]; either side empty yields 0.
func RougeLF(reference, candidate string) float64 {
	ref := Tokenize(reference)
	cand := Tokenize(candidate)
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}
	lcs := lcsLength(ref, cand)
	if lcs == 0 {
		return 0
	}
	precision := float64(lcs) / float64(len(cand))
	recall := float64(lcs) / float64(len(ref))
	return 2 * precision * recall / (precision + recall)
}

// lcsLength computes the longest common subsequence length with two rows,
// so memory stays O(len(b)) for long evidence.
func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// #endregion rouge-l

// #region tokenize

// Tokenize lowercases, splits on anything outside [a-z0-9] and stems tokens
// longer than three characters. Non-ASCII letters are separators, so "café"
// yields "caf", as in the rouge-score tokenizer the cutoffs were tuned with.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for i, f := range fields {
		if len(f) > 3 {
			fields[i] = porterstemmer.StemString(f)
		}
	}
	return fields
}

// #endregion tokenize
