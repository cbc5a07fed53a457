// Package config loads riskgate settings: defaults, then an optional YAML file,
// then a .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/gate"
	"github.com/danielpatrickdp/riskgate/internal/logging"
	"github.com/danielpatrickdp/riskgate/internal/pipeline"
	"github.com/danielpatrickdp/riskgate/internal/retrieval"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = ".env"

// #region config
// Config is the merged settings for the service and the CLI.
type Config struct {
	// decision policy
	Tau           float64 `yaml:"tau"`
	MinOverlap    float64 `yaml:"min_overlap"`
	MaxDispersion float64 `yaml:"max_dispersion"`
	// TauPinned is set when tau came from the YAML file or RISK_TAU. Otherwise
	// a trained head's own threshold is the serving cutoff.
	TauPinned bool `yaml:"-"`

	// sampling and features
	SampleCount        int           `yaml:"sample_count"`
	EvidenceCharBudget int           `yaml:"evidence_char_budget"`
	EvidenceTopK       int           `yaml:"evidence_top_k"`
	SourceSnippetLen   int           `yaml:"source_snippet_len"`
	CallTimeout        time.Duration `yaml:"call_timeout"`

	// labeling and evaluation
	HallucinationThreshold float64 `yaml:"hallucination_threshold"`
	ProxyMaxOverlap        float64 `yaml:"proxy_max_overlap"`
	ProxyMinDispersion     float64 `yaml:"proxy_min_dispersion"`
	EvalLimit              int     `yaml:"eval_limit"`

	// endpoints and storage
	CodecAddr      string `yaml:"codec_addr"`
	DBPath         string `yaml:"db_path"`
	HeadPath       string `yaml:"head_path"` // file path or s3://bucket/key
	ListenAddr     string `yaml:"listen_addr"`
	RedisAddr      string `yaml:"redis_addr"` // empty uses the in-process LRU
	EmbedCacheSize int    `yaml:"embed_cache_size"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`

	// logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the built-in settings.
func Default() Config {
	policy := pipeline.DefaultConfig().Policy
	proxy := disagree.DefaultProxyLabelConfig()
	return Config{
		Tau:                    policy.Tau,
		MinOverlap:             policy.MinOverlap,
		MaxDispersion:          policy.MaxDispersion,
		SampleCount:            1,
		EvidenceCharBudget:     signals.DefaultExtractorConfig().EvidenceCharBudget,
		EvidenceTopK:           retrieval.DefaultConfig().TopK,
		SourceSnippetLen:       retrieval.DefaultConfig().SnippetLen,
		CallTimeout:            30 * time.Second,
		HallucinationThreshold: eval.DefaultLabelerConfig().Threshold,
		ProxyMaxOverlap:        proxy.MaxOverlap,
		ProxyMinDispersion:     proxy.MinDispersion,
		EvalLimit:              200,
		CodecAddr:              "localhost:50051",
		DBPath:                 "data/riskgate.db",
		HeadPath:               "data/disagree_head.json",
		ListenAddr:             ":8080",
		EmbedCacheSize:         4096,
		LogLevel:               "info",
	}
}

// #endregion config

// #region load
// Load merges defaults, the YAML file at path (skipped when empty), ./.env and
// the environment, then validates.
func Load(path string) (Config, error) {
	return LoadFrom(path, DefaultEnvFile, os.LookupEnv)
}

// LoadFrom is Load with an explicit .env path and environment lookup.
// Variables from envFile never override ones lookup already knows.
func LoadFrom(path, envFile string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		var explicit struct {
			Tau *float64 `yaml:"tau"`
		}
		if err := yaml.Unmarshal(data, &explicit); err == nil && explicit.Tau != nil {
			cfg.TauPinned = true
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := applyEnv(&cfg, get); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, get func(string) (string, bool)) error {
	var errs []error
	float := func(key string, dst *float64) {
		if v, ok := get(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok && v != "" {
			*dst = v
		}
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := get(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		v = strings.TrimSpace(v)
		// bare numbers are seconds
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(secs * float64(time.Second))
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if v, ok := get("RISK_TAU"); ok && strings.TrimSpace(v) != "" {
		cfg.TauPinned = true
	}
	float("RISK_TAU", &cfg.Tau)
	float("DEC_MIN_OVERLAP", &cfg.MinOverlap)
	float("DEC_MAX_SC", &cfg.MaxDispersion)
	integer("SC_SAMPLES", &cfg.SampleCount)
	float("HALLUC_THRESHOLD", &cfg.HallucinationThreshold)
	float("PROXY_MAX_OVERLAP", &cfg.ProxyMaxOverlap)
	float("PROXY_MIN_DISPERSION", &cfg.ProxyMinDispersion)
	integer("EVAL_LIMIT", &cfg.EvalLimit)
	duration("CALL_TIMEOUT", &cfg.CallTimeout)
	str("CODEC_ADDR", &cfg.CodecAddr)
	str("RISKGATE_DB", &cfg.DBPath)
	str("HEAD_PATH", &cfg.HeadPath)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("S3_ENDPOINT", &cfg.S3Endpoint)
	str("S3_REGION", &cfg.S3Region)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	boolean("LOG_JSON", &cfg.LogJSON)

	return errors.Join(errs...)
}

// #endregion load

// #region validate
// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if !(v >= 0 && v <= 1) {
			errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", name, v))
		}
	}
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	unit("tau", c.Tau)
	unit("min_overlap", c.MinOverlap)
	unit("hallucination_threshold", c.HallucinationThreshold)
	unit("proxy_max_overlap", c.ProxyMaxOverlap)
	if !(c.MaxDispersion >= 0) {
		errs = append(errs, fmt.Errorf("max_dispersion must be >= 0, got %v", c.MaxDispersion))
	}
	if !(c.ProxyMinDispersion >= 0) {
		errs = append(errs, fmt.Errorf("proxy_min_dispersion must be >= 0, got %v", c.ProxyMinDispersion))
	}
	positive("sample_count", c.SampleCount)
	positive("evidence_char_budget", c.EvidenceCharBudget)
	positive("evidence_top_k", c.EvidenceTopK)
	positive("source_snippet_len", c.SourceSnippetLen)
	positive("eval_limit", c.EvalLimit)
	positive("embed_cache_size", c.EmbedCacheSize)
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// #endregion validate

// #region views
// PolicyConfig returns the decision cutoffs.
func (c Config) PolicyConfig() gate.PolicyConfig {
	return gate.PolicyConfig{Tau: c.Tau, MinOverlap: c.MinOverlap, MaxDispersion: c.MaxDispersion}
}

// PipelineConfig returns the per-request limits.
func (c Config) PipelineConfig() pipeline.Config {
	ev := retrieval.DefaultConfig()
	ev.TopK = c.EvidenceTopK
	ev.SnippetLen = c.SourceSnippetLen
	return pipeline.Config{
		Policy:      c.PolicyConfig(),
		Evidence:    ev,
		SampleCount: c.SampleCount,
		CallTimeout: c.CallTimeout,
		PinTau:      c.TauPinned,
	}
}

// ExtractorConfig returns the feature extraction bounds.
func (c Config) ExtractorConfig() signals.ExtractorConfig {
	return signals.ExtractorConfig{EvidenceCharBudget: c.EvidenceCharBudget, CallTimeout: c.CallTimeout}
}

// ProxyLabelConfig returns the training label rule.
func (c Config) ProxyLabelConfig() disagree.ProxyLabelConfig {
	return disagree.ProxyLabelConfig{MaxOverlap: c.ProxyMaxOverlap, MinDispersion: c.ProxyMinDispersion}
}

// LabelerConfig returns the independent labeler settings.
func (c Config) LabelerConfig() eval.LabelerConfig {
	l := eval.DefaultLabelerConfig()
	l.Threshold = c.HallucinationThreshold
	return l
}

// LogConfig returns the process logger settings.
func (c Config) LogConfig() logging.LogConfig {
	l := logging.DefaultLogConfig()
	l.Level = c.LogLevel
	l.File = c.LogFile
	l.JSON = c.LogJSON
	return l
}

// #endregion views
