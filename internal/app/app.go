// Package app wires configuration into the concrete components shared by the
// HTTP service and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/riskgate/internal/artifact"
	"github.com/danielpatrickdp/riskgate/internal/codec"
	"github.com/danielpatrickdp/riskgate/internal/config"
	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/embedcache"
	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/logging"
	"github.com/danielpatrickdp/riskgate/internal/modelstore"
	"github.com/danielpatrickdp/riskgate/internal/pipeline"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// ErrNoHead means neither the registry nor the head path holds a trained head.
var ErrNoHead = errors.New("no trained head available")

// embedModel namespaces cache keys for the side-car's embedding model.
const embedModel = "codec"

// #region app
// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Codec     *codec.CodecClient
	Extractor *signals.Extractor
	Pipeline  *pipeline.Pipeline
	Store     *modelstore.Store
	Artifacts *artifact.Resolver

	cleanupFuncs []func() error
}

// New connects the side-car client, the embedding cache, the registry and the
// pipeline. The pipeline starts without a head; call LoadHead and SetModel.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	client, err := codec.NewCodecClient(cfg.CodecAddr, a.codecConfig())
	if err != nil {
		return nil, err
	}
	a.Codec = client
	a.cleanupFuncs = append(a.cleanupFuncs, client.Close)

	cache, err := a.embedCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	embedder := embedcache.New(client, cache, embedModel)
	embedder.SetLogger(logger)

	a.Extractor = signals.NewExtractor(embedder, client, cfg.ExtractorConfig())
	a.Extractor.SetLogger(logger)

	if dir := filepath.Dir(cfg.DBPath); dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := modelstore.NewStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	a.cleanupFuncs = append(a.cleanupFuncs, store.Close)

	a.Artifacts = artifact.NewResolver(artifact.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}, nil)

	a.Pipeline = pipeline.NewPipeline(client, a.Extractor, cfg.PipelineConfig())
	a.Pipeline.SetLogger(logger)
	a.Pipeline.SetRecorder(logging.NewDBRecorder(store.DB()))
	return a, nil
}

// Close releases every component in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		if err := a.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanupFuncs = nil
	return errors.Join(errs...)
}

func (a *App) codecConfig() codec.ClientConfig {
	cc := codec.DefaultClientConfig()
	cc.CallTimeout = a.Config.CallTimeout
	return cc
}

// embedCache prefers Redis when configured and reachable, else an in-process LRU.
func (a *App) embedCache(ctx context.Context) (embedcache.Cache, error) {
	if a.Config.RedisAddr != "" {
		rc := embedcache.NewRedisCache(embedcache.RedisOptions{Address: a.Config.RedisAddr})
		err := rc.Ping(ctx)
		if err == nil {
			a.cleanupFuncs = append(a.cleanupFuncs, rc.Close)
			a.Logger.Info("embedding cache: redis", "addr", a.Config.RedisAddr)
			return rc, nil
		}
		rc.Close()
		a.Logger.Warn("redis unreachable, using in-process cache", "addr", a.Config.RedisAddr, "error", err)
	}
	lru, err := embedcache.NewLRUCache(a.Config.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return lru, nil
}

// #endregion app

// #region heads
// LoadHead returns the registry's active head, else the bundle at HeadPath.
// ErrNoHead when neither exists. versionID is empty for a head read from HeadPath.
func (a *App) LoadHead(ctx context.Context) (head *disagree.Head, versionID string, err error) {
	head, hv, err := a.Store.LoadActive()
	switch {
	case err == nil:
		return head, hv.VersionID, nil
	case !errors.Is(err, modelstore.ErrNoActiveHead):
		return nil, "", err
	}

	if a.Config.HeadPath == "" {
		return nil, "", ErrNoHead
	}
	data, err := a.Artifacts.Read(ctx, a.Config.HeadPath)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, "", ErrNoHead
	}
	if err != nil {
		return nil, "", fmt.Errorf("read head %s: %w", a.Config.HeadPath, err)
	}
	head, err = disagree.UnmarshalBundle(data)
	if err != nil {
		return nil, "", err
	}
	return head, "", nil
}

// PublishHead writes the bundle to HeadPath and commits it to the registry as
// the active version.
func (a *App) PublishHead(ctx context.Context, head *disagree.Head, metricsJSON string) (modelstore.HeadVersion, error) {
	bundle, err := head.MarshalBundle()
	if err != nil {
		return modelstore.HeadVersion{}, err
	}
	uri := a.Config.HeadPath
	if uri != "" {
		if err := a.Artifacts.Write(ctx, uri, bundle); err != nil {
			return modelstore.HeadVersion{}, fmt.Errorf("publish head: %w", err)
		}
	}
	return a.Store.CommitHead(head, uri, metricsJSON)
}

// Labeler returns the entailment labeler backed by the side-car.
func (a *App) Labeler() *eval.EntailmentLabeler {
	return eval.NewEntailmentLabeler(a.Codec, a.Config.LabelerConfig())
}

// #endregion heads
