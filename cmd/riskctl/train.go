package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/replay"
)

// trainMetrics is stored with the registry version.
type trainMetrics struct {
	Questions    int     `json:"questions"`
	Alternates   int     `json:"alternates"`
	Samples      int     `json:"samples"`
	Failed       int     `json:"failed"`
	PositiveRate float64 `json:"positive_rate"`
	Iterations   int     `json:"iterations"`
	Converged    bool    `json:"converged"`
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a head on proxy-labeled questions",
		Long:  "Answer and resample each question, extract risk signatures, label them with the proxy rule, fit the head, publish the bundle and activate it in the registry",
		Example: `
# Train on up to 300 questions and publish to the configured head path
riskctl train -q data/questions -n 300

# Five alternates per question, stronger regularisation
riskctl train -q data/questions --samples 5 --reg 0.5

# Publish to S3 instead
HEAD_PATH=s3://models/riskgate/head.json riskctl train -q data/questions
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			fitCfg := disagree.DefaultFitConfig()
			fitCfg.C, _ = cmd.Flags().GetFloat64("reg")
			fitCfg.MaxIterations, _ = cmd.Flags().GetInt("max-iter")
			if fitCfg.C <= 0 || fitCfg.MaxIterations <= 0 {
				return fmt.Errorf("--reg and --max-iter must be positive")
			}

			a, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			questions, err := loadBatch(cmd, a.Config)
			if err != nil {
				return err
			}

			start := time.Now()
			h := replay.NewHarness(a.Pipeline, replay.HarnessConfig{Concurrency: concurrency})
			h.SetLogger(a.Logger)
			obs, stats, err := h.Collect(cmd.Context(), questions)
			if err != nil {
				return err
			}

			sigs, labels := replay.TrainingSet(obs, a.Config.ProxyLabelConfig())
			rate := replay.PositiveRate(labels)

			head := disagree.NewHeadWithConfig(fitCfg)
			if err := head.Fit(sigs, labels); err != nil {
				if errors.Is(err, disagree.ErrInvalidInput) {
					return fmt.Errorf("fit on %d samples (proxy positive rate %.3f): %w", len(sigs), rate, err)
				}
				return err
			}
			if err := head.SetThreshold(a.Config.Tau); err != nil {
				return err
			}

			meta := head.Meta()
			metrics, _ := json.Marshal(trainMetrics{
				Questions:    stats.Questions,
				Alternates:   a.Config.SampleCount,
				Samples:      len(sigs),
				Failed:       stats.Failed,
				PositiveRate: rate,
				Iterations:   meta.Iterations,
				Converged:    meta.Converged,
			})
			hv, err := a.PublishHead(cmd.Context(), head, string(metrics))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trained on %d samples (%d failed) in %s\n", len(sigs), stats.Failed, time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "Proxy positive rate: %.3f\n", rate)
			fmt.Fprintf(out, "Converged:           %v after %d iterations\n", meta.Converged, meta.Iterations)
			fmt.Fprintf(out, "Version:             %s\n", hv.VersionID)
			if hv.ArtifactURI != "" {
				fmt.Fprintf(out, "Bundle:              %s\n", hv.ArtifactURI)
			}
			return nil
		},
	}
	questionFlags(cmd, 3)
	cmd.Flags().Float64("reg", disagree.DefaultFitConfig().C, "Inverse L2 regularisation strength C")
	cmd.Flags().Int("max-iter", disagree.DefaultFitConfig().MaxIterations, "Newton iteration cap")
	return cmd
}
