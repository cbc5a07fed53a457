package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/riskgate/internal/app"
	"github.com/danielpatrickdp/riskgate/internal/config"
	"github.com/danielpatrickdp/riskgate/internal/logging"
	"github.com/danielpatrickdp/riskgate/internal/server"
)

// #region main
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("RISKGATE_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.NewLogger(cfg.LogConfig())
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := activateHead(ctx, a, logger); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(a.Pipeline, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("riskgate controller ready", "addr", cfg.ListenAddr, "db", cfg.DBPath, "codec", cfg.CodecAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// #endregion main

// #region head
// activateHead installs the registry's active head, else the bundle at
// head_path. With neither, requests answer on the neutral prior. A head that
// exists but cannot be read stops startup.
func activateHead(ctx context.Context, a *app.App, logger *slog.Logger) error {
	head, version, err := a.LoadHead(ctx)
	switch {
	case errors.Is(err, app.ErrNoHead):
		logger.Warn("no trained head found, serving with neutral prior", "head_path", a.Config.HeadPath)
		return nil
	case err != nil:
		return fmt.Errorf("load head: %w", err)
	}

	a.Pipeline.SetModel(head, version)
	logger.Info("head loaded",
		"version", version,
		"threshold", head.Threshold(),
		"tau", a.Pipeline.Policy().Tau,
		"tau_pinned", a.Config.TauPinned)
	return nil
}

// #endregion head
