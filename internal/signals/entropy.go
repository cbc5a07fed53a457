package signals

import "math"

// MeanTokenEntropy averages Shannon entropy (nats) over logit rows.
// Returns false when there is nothing to average.
func MeanTokenEntropy(logits [][]float32) (float64, bool) {
	var sum float64
	var n int
	for _, row := range logits {
		if len(row) == 0 {
			continue
		}
		sum += rowEntropy(row)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// rowEntropy computes -sum(p*ln p) over a max-shifted softmax of one row.
func rowEntropy(row []float32) float64 {
	maxLogit := math.Inf(-1)
	for _, v := range row {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	probs := make([]float64, len(row))
	var total float64
	for i, v := range row {
		probs[i] = math.Exp(float64(v) - maxLogit)
		total += probs[i]
	}

	var h float64
	for _, e := range probs {
		p := e / (total + 1e-12)
		h -= p * math.Log(p+1e-12)
	}
	return h
}
