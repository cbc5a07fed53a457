package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/replay"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Offline sweep over recorded calibration rows",
		Long:  "Replay a calibration fixture through the sweep without any model calls and report drift from its recorded curve",
		Example: `
riskctl replay --fixture rows.json
riskctl replay --fixture rows.json --taus 0.2,0.4
riskctl replay --fixture rows.json --baseline data/coverage_curve.tsv
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("fixture")
			tausFlag, _ := cmd.Flags().GetString("taus")
			tol, _ := cmd.Flags().GetFloat64("tolerance")
			baseline, _ := cmd.Flags().GetString("baseline")

			f, err := replay.LoadFixture(path)
			if err != nil {
				return err
			}
			taus, err := parseTaus(tausFlag)
			if err != nil {
				return err
			}
			if len(taus) > 0 {
				// a different grid cannot be compared with the recorded curve
				f.Taus = taus
				f.Expected = nil
			}
			if baseline != "" {
				expected, err := readBaseline(baseline)
				if err != nil {
					return err
				}
				f.Expected = expected
				// persisted curves carry three decimals
				if !cmd.Flags().Changed("tolerance") {
					tol = 5e-4
				}
			}

			points := f.Replay()
			out := cmd.OutOrStdout()
			if f.Description != "" {
				fmt.Fprintf(out, "# %s\n", f.Description)
			}
			if err := eval.WriteCurve(out, points, '\t'); err != nil {
				return err
			}

			if drift := f.Drift(points, tol); len(drift) > 0 {
				return fmt.Errorf("curve drifted from fixture:\n  %s", strings.Join(drift, "\n  "))
			}
			return nil
		},
	}
	cmd.Flags().StringP("fixture", "f", "", "Calibration fixture JSON (required)")
	cmd.Flags().String("taus", "", "Override the fixture's thresholds")
	cmd.Flags().Float64("tolerance", 1e-9, "Allowed difference from the recorded curve")
	cmd.Flags().String("baseline", "", "Compare against a curve file written by sweep instead of the fixture's curve")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

// readBaseline loads a tab-separated curve written by sweep.
func readBaseline(path string) ([]eval.CoveragePoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open baseline: %w", err)
	}
	defer file.Close()
	return eval.ReadCurve(file, '\t')
}
