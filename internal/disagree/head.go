// Package disagree implements the disagreement head: a small logistic model
// from a risk signature to the probability that an answer is unsupported or
// unstable.
package disagree

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// #region head

// Head is safe for concurrent PredictProbability calls once trained or loaded.
// Fit solves outside the lock and swaps the parameters under the write lock, so
// predictions made during a fit see the previous parameters. A second concurrent
// Fit is rejected with ErrTrainingInProgress.
type Head struct {
	mu        sync.RWMutex
	training  atomic.Bool
	params    *Params
	meta      TrainingMeta
	threshold float64
	fitConfig FitConfig
}

// NewHead returns an untrained head with the default threshold.
func NewHead() *Head {
	return &Head{threshold: DefaultThreshold, fitConfig: DefaultFitConfig()}
}

// NewHeadWithConfig returns an untrained head using cfg for Fit.
func NewHeadWithConfig(cfg FitConfig) *Head {
	return &Head{threshold: DefaultThreshold, fitConfig: cfg}
}

// Train is NewHead followed by Fit.
func Train(sigs []signals.RiskSignature, labels []bool) (*Head, error) {
	h := NewHead()
	if err := h.Fit(sigs, labels); err != nil {
		return nil, err
	}
	return h, nil
}

// #endregion head

// #region fit

// Fit trains the head from scratch. Labels mark high disagreement (true).
// On error the head keeps its previous state.
func (h *Head) Fit(sigs []signals.RiskSignature, labels []bool) error {
	if !h.training.CompareAndSwap(false, true) {
		return ErrTrainingInProgress
	}
	defer h.training.Store(false)

	if err := validateTraining(sigs, labels); err != nil {
		return err
	}

	h.mu.RLock()
	cfg := h.fitConfig
	h.mu.RUnlock()

	params, meta, err := fitLogistic(sigs, labels, cfg)
	if err != nil {
		return err
	}
	meta.TrainedAt = time.Now().UTC()

	h.mu.Lock()
	h.params = &params
	h.meta = meta
	h.mu.Unlock()
	return nil
}

func validateTraining(sigs []signals.RiskSignature, labels []bool) error {
	if len(sigs) == 0 {
		return fmt.Errorf("fit: no samples: %w", ErrInvalidInput)
	}
	if len(sigs) != len(labels) {
		return fmt.Errorf("fit: %d signatures but %d labels: %w", len(sigs), len(labels), ErrInvalidInput)
	}
	var pos int
	for i, s := range sigs {
		for _, v := range s.Vector() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("fit: sample %d has non-finite feature: %w", i, ErrInvalidInput)
			}
		}
		if labels[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return fmt.Errorf("fit: need both classes, got %d positives of %d: %w", pos, len(labels), ErrInvalidInput)
	}
	return nil
}

// #endregion fit

// #region predict

// PredictProbability returns P(high disagreement | sig).
func (h *Head) PredictProbability(sig signals.RiskSignature) (float64, error) {
	h.mu.RLock()
	p := h.params
	h.mu.RUnlock()
	if p == nil {
		return 0, ErrNotTrained
	}
	x := sig.Vector()
	z := p.Intercept
	for i := range x {
		z += p.Weights[i] * x[i]
	}
	return sigmoid(z), nil
}

// #endregion predict

// #region accessors

// Trained reports whether parameters are bound.
func (h *Head) Trained() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.params != nil
}

// Params returns a copy of the learned parameters.
func (h *Head) Params() (Params, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.params == nil {
		return Params{}, false
	}
	return *h.params, true
}

// Meta returns training metadata for the current parameters.
func (h *Head) Meta() TrainingMeta {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.meta
}

// Threshold returns the abstention cutoff stored with the head.
func (h *Head) Threshold() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.threshold
}

// SetThreshold replaces the abstention cutoff; it must lie in [0, 1].
func (h *Head) SetThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("threshold %v outside [0,1]: %w", t, ErrInvalidInput)
	}
	h.mu.Lock()
	h.threshold = t
	h.mu.Unlock()
	return nil
}

// #endregion accessors

// #region proxy-label

// ProxyLabel marks a training sample as high disagreement when grounding is
// weak or sampling is unstable. It is used for training only; evaluation labels
// come from an independent check.
func ProxyLabel(sig signals.RiskSignature, cfg ProxyLabelConfig) bool {
	return sig.Overlap < cfg.MaxOverlap || sig.Dispersion > cfg.MinDispersion
}

// ProxyLabels applies ProxyLabel to every signature.
func ProxyLabels(sigs []signals.RiskSignature, cfg ProxyLabelConfig) []bool {
	out := make([]bool, len(sigs))
	for i, s := range sigs {
		out[i] = ProxyLabel(s, cfg)
	}
	return out
}

// #endregion proxy-label
