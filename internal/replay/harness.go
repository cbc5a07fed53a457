package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/pipeline"
	"github.com/danielpatrickdp/riskgate/internal/retrieval"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// ErrNoObservations means every question in a batch failed.
var ErrNoObservations = errors.New("no question produced an observation")

// #region types
// Observer gathers answer, evidence, alternates and signature for one question.
// *pipeline.Pipeline satisfies it.
type Observer interface {
	Observe(ctx context.Context, query string) (pipeline.Observation, error)
}

// Labeler is the independent hallucination check. *eval.EntailmentLabeler satisfies it.
type Labeler interface {
	Label(ctx context.Context, answer string, passages []string) (bool, float64, error)
}

// HarnessConfig bounds a batch run.
type HarnessConfig struct {
	Concurrency int // parallel questions; <= 0 means 4
}

// Harness runs question batches through an Observer.
type Harness struct {
	observer Observer
	config   HarnessConfig
	logger   *slog.Logger
}

// BatchStats summarises a Collect run.
type BatchStats struct {
	Questions int
	Observed  int
	Failed    int
}

// #endregion types

// #region constructor
// NewHarness creates a harness around observer.
func NewHarness(observer Observer, config HarnessConfig) *Harness {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Harness{observer: observer, config: config, logger: slog.Default()}
}

// SetLogger replaces the harness logger.
func (h *Harness) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// #endregion constructor

// #region collect
// Collect observes every question in parallel. Results keep question order.
// A failing question is logged and skipped; cancellation aborts the batch.
func (h *Harness) Collect(ctx context.Context, questions []string) ([]pipeline.Observation, BatchStats, error) {
	slots := make([]*pipeline.Observation, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)
	for i, q := range questions {
		g.Go(func() error {
			obs, err := h.observer.Observe(gctx, q)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				h.logger.Warn("question skipped", "index", i, "error", err)
				return nil
			}
			slots[i] = &obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, BatchStats{}, fmt.Errorf("collect: %w", err)
	}

	stats := BatchStats{Questions: len(questions)}
	out := make([]pipeline.Observation, 0, len(questions))
	for _, s := range slots {
		if s == nil {
			stats.Failed++
			continue
		}
		out = append(out, *s)
	}
	stats.Observed = len(out)
	h.logger.Info("batch collected", "questions", stats.Questions, "observed", stats.Observed, "failed", stats.Failed)

	if len(questions) > 0 && len(out) == 0 {
		return nil, stats, ErrNoObservations
	}
	return out, stats, nil
}

// #endregion collect

// #region training-set
// TrainingSet labels observations with the proxy rule.
func TrainingSet(observations []pipeline.Observation, cfg disagree.ProxyLabelConfig) ([]signals.RiskSignature, []bool) {
	sigs := make([]signals.RiskSignature, len(observations))
	for i, o := range observations {
		sigs[i] = o.Extraction.Signature
	}
	return sigs, disagree.ProxyLabels(sigs, cfg)
}

// PositiveRate is the fraction of true labels; 0 for none.
func PositiveRate(labels []bool) float64 {
	if len(labels) == 0 {
		return 0
	}
	var n int
	for _, l := range labels {
		if l {
			n++
		}
	}
	return float64(n) / float64(len(labels))
}

// #endregion training-set

// #region calibrate
// Calibrate scores each observation with head and labels it with labeler,
// in parallel, keeping observation order. Any failure aborts the run.
func (h *Harness) Calibrate(ctx context.Context, observations []pipeline.Observation, head *disagree.Head, labeler Labeler) ([]eval.CalibrationRow, error) {
	rows := make([]eval.CalibrationRow, len(observations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)
	for i, o := range observations {
		g.Go(func() error {
			p, err := head.PredictProbability(o.Extraction.Signature)
			if err != nil {
				return fmt.Errorf("row %d: predict: %w", i, err)
			}
			unsupported, _, err := labeler.Label(gctx, o.Answer, retrieval.Passages(o.Evidence))
			if err != nil {
				return fmt.Errorf("row %d: label: %w", i, err)
			}
			rows[i] = eval.CalibrationRow{
				Probability:      p,
				Signature:        o.Extraction.Signature,
				IndependentLabel: unsupported,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}
	return rows, nil
}

// #endregion calibrate
