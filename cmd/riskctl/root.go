package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/riskgate/internal/app"
	"github.com/danielpatrickdp/riskgate/internal/config"
	"github.com/danielpatrickdp/riskgate/internal/logging"
	"github.com/danielpatrickdp/riskgate/internal/replay"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Disagreement head operations",
		Long:          "Train, evaluate, replay and manage the disagreement heads behind the answer-or-abstain gate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML config file (env and .env still apply)")

	root.AddCommand(
		newTrainCmd(),
		newSweepCmd(),
		newReplayCmd(),
		newInspectCmd(),
		newRollbackCmd(),
	)
	return root
}

// loadConfig merges the --config file with .env and the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp wires every component. The cleanup closes them and the log file.
func openApp(cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	applyBatchFlags(cmd, &cfg)
	logger, logCloser, err := logging.NewLogger(cfg.LogConfig())
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		logCloser.Close()
	}, nil
}

// questionFlags registers the batch selection flags shared by train and sweep.
// samples is the default number of alternates drawn per question.
func questionFlags(cmd *cobra.Command, samples int) {
	cmd.Flags().StringP("questions", "q", "", "Directory of *.txt files with 'Question:' lines (required)")
	cmd.Flags().IntP("limit", "n", 0, "Maximum questions (default: eval_limit)")
	cmd.Flags().Int64("seed", 13, "Shuffle seed")
	cmd.Flags().Int("concurrency", 4, "Questions processed in parallel")
	cmd.Flags().Int("samples", samples, "Alternates drawn per question for dispersion (sample_count applies to serving only)")
	_ = cmd.MarkFlagRequired("questions")
}

// applyBatchFlags overrides serving settings with the batch flags of cmd, if any.
func applyBatchFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Lookup("samples") == nil {
		return
	}
	samples, _ := cmd.Flags().GetInt("samples")
	cfg.SampleCount = samples
}

// loadBatch reads the question batch selected by questionFlags.
func loadBatch(cmd *cobra.Command, cfg config.Config) ([]string, error) {
	dir, _ := cmd.Flags().GetString("questions")
	limit, _ := cmd.Flags().GetInt("limit")
	seed, _ := cmd.Flags().GetInt64("seed")
	if limit <= 0 {
		limit = cfg.EvalLimit
	}
	qs, err := replay.LoadQuestions(dir, limit, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("no questions found under %s", dir)
	}
	return qs, nil
}

// parseTaus reads a comma-separated threshold list.
func parseTaus(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("tau %q: %w", p, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("tau %v outside [0,1]", v)
		}
		out = append(out, v)
	}
	return out, nil
}
