package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/riskgate/internal/app"
	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/modelstore"
	"github.com/danielpatrickdp/riskgate/internal/replay"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Coverage / hallucination-rate curve on held-out questions",
		Long:  "Score held-out questions with the active head, label them with the entailment check, sweep tau and write the curve",
		Example: `
# Default tau grid, curve to a local TSV
riskctl sweep -q data/heldout -o data/coverage_curve.tsv

# Custom taus, curve to S3, keep the scored rows for offline replay
riskctl sweep -q data/heldout --taus 0.1,0.2,0.3 -o s3://evals/curve.tsv --fixture-out rows.json

# Adopt the highest-coverage tau within a 5% hallucination budget
riskctl sweep -q data/heldout --max-halluc 0.05 --apply
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			outURI, _ := cmd.Flags().GetString("out")
			fixtureOut, _ := cmd.Flags().GetString("fixture-out")
			maxHalluc, _ := cmd.Flags().GetFloat64("max-halluc")
			tausFlag, _ := cmd.Flags().GetString("taus")
			apply, _ := cmd.Flags().GetBool("apply")

			taus, err := parseTaus(tausFlag)
			if err != nil {
				return err
			}
			if len(taus) == 0 {
				taus = eval.DefaultTaus()
			}

			a, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			head, version, err := a.LoadHead(cmd.Context())
			if errors.Is(err, app.ErrNoHead) {
				return fmt.Errorf("sweep needs a trained head; run riskctl train first: %w", err)
			}
			if err != nil {
				return err
			}

			questions, err := loadBatch(cmd, a.Config)
			if err != nil {
				return err
			}

			h := replay.NewHarness(a.Pipeline, replay.HarnessConfig{Concurrency: concurrency})
			h.SetLogger(a.Logger)
			obs, stats, err := h.Collect(cmd.Context(), questions)
			if err != nil {
				return err
			}
			rows, err := h.Calibrate(cmd.Context(), obs, head, a.Labeler())
			if err != nil {
				return err
			}

			policy := a.Config.PolicyConfig()
			points := eval.Sweep(rows, taus, policy)

			var buf bytes.Buffer
			if err := eval.WriteCurve(&buf, points, '\t'); err != nil {
				return err
			}
			if err := a.Artifacts.Write(cmd.Context(), outURI, buf.Bytes()); err != nil {
				return err
			}

			if fixtureOut != "" {
				fixture := replay.Fixture{
					Description: fmt.Sprintf("sweep of head %s over %d questions", version, len(rows)),
					Policy:      &policy,
					Taus:        taus,
					Rows:        rows,
					Expected:    points,
				}
				data, err := json.MarshalIndent(fixture, "", "  ")
				if err != nil {
					return err
				}
				if err := a.Artifacts.Write(cmd.Context(), fixtureOut, data); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scored %d of %d questions with head %s\n", len(rows), stats.Questions, displayVersion(version))
			if auc, ok := eval.AUROC(rows); ok {
				fmt.Fprintf(out, "AUROC (p_disagree vs unsupported): %.3f\n", auc)
			} else {
				fmt.Fprintln(out, "AUROC undefined: labels have a single class")
			}
			op, ok := eval.OperatingPoint(points, maxHalluc)
			if ok {
				fmt.Fprintf(out, "Operating point (rate <= %.2f): tau=%.2f coverage=%.3f rate=%.3f\n",
					maxHalluc, op.Threshold, op.Coverage, op.HallucinationRate)
			} else {
				fmt.Fprintf(out, "No tau keeps the hallucination rate <= %.2f\n", maxHalluc)
			}
			fmt.Fprintf(out, "Curve written to %s\n", outURI)

			if !apply {
				return nil
			}
			if !ok {
				return fmt.Errorf("--apply: no operating point within budget %.2f, head unchanged", maxHalluc)
			}
			hv, err := applyOperatingPoint(cmd, a, head, version, op, rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Published %s with threshold %.2f\n", hv.VersionID, op.Threshold)
			return nil
		},
	}
	questionFlags(cmd, 5)
	cmd.Flags().String("taus", "", "Comma-separated thresholds (default: 15 points over [0.1, 0.8])")
	cmd.Flags().StringP("out", "o", "data/coverage_curve.tsv", "Curve destination (path or s3://bucket/key)")
	cmd.Flags().String("fixture-out", "", "Also write the scored rows as a replay fixture")
	cmd.Flags().Float64("max-halluc", 0.1, "Hallucination budget for the reported operating point")
	cmd.Flags().Bool("apply", false, "Publish the head with the operating point's tau as its threshold")
	return cmd
}

// sweepMetrics is stored with a version published by --apply.
type sweepMetrics struct {
	SourceVersion     string  `json:"source_version,omitempty"`
	Rows              int     `json:"rows"`
	AUROC             float64 `json:"auroc,omitempty"`
	Coverage          float64 `json:"coverage"`
	HallucinationRate float64 `json:"hallucination_rate"`
}

// applyOperatingPoint sets the head's threshold to the operating tau and
// publishes it as a new active version.
func applyOperatingPoint(cmd *cobra.Command, a *app.App, head *disagree.Head, version string, op eval.CoveragePoint, rows []eval.CalibrationRow) (modelstore.HeadVersion, error) {
	if err := head.SetThreshold(op.Threshold); err != nil {
		return modelstore.HeadVersion{}, err
	}
	m := sweepMetrics{
		SourceVersion:     version,
		Rows:              len(rows),
		Coverage:          op.Coverage,
		HallucinationRate: op.HallucinationRate,
	}
	if auc, ok := eval.AUROC(rows); ok {
		m.AUROC = auc
	}
	metrics, err := json.Marshal(m)
	if err != nil {
		return modelstore.HeadVersion{}, err
	}
	return a.PublishHead(cmd.Context(), head, string(metrics))
}

func displayVersion(v string) string {
	if v == "" {
		return "(head path)"
	}
	return v
}
