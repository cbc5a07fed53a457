package eval

import (
	"sort"
)

// AUROC is the probability that a randomly chosen unsupported row scores a
// higher disagreement probability than a supported one, ties counting half.
// Returns ok=false when either class is absent.
func AUROC(rows []CalibrationRow) (float64, bool) {
	type scored struct {
		p   float64
		pos bool
	}
	items := make([]scored, len(rows))
	var nPos int
	for i, r := range rows {
		items[i] = scored{r.Probability, r.IndependentLabel}
		if r.IndependentLabel {
			nPos++
		}
	}
	nNeg := len(rows) - nPos
	if nPos == 0 || nNeg == 0 {
		return 0, false
	}

	sort.Slice(items, func(i, j int) bool { return items[i].p < items[j].p })

	// Mann-Whitney U with average ranks for ties.
	var rankSumPos float64
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].p == items[i].p {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if items[k].pos {
				rankSumPos += avgRank
			}
		}
		i = j
	}
	u := rankSumPos - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), true
}

// OperatingPoint picks the point with the highest coverage whose hallucination
// rate is within maxHallucination, preferring the lower tau on ties. Points with
// zero coverage are never chosen.
func OperatingPoint(points []CoveragePoint, maxHallucination float64) (CoveragePoint, bool) {
	var best CoveragePoint
	found := false
	for _, p := range points {
		if p.Coverage == 0 || p.HallucinationRate > maxHallucination {
			continue
		}
		if !found || p.Coverage > best.Coverage || (p.Coverage == best.Coverage && p.Threshold < best.Threshold) {
			best = p
			found = true
		}
	}
	return best, found
}
