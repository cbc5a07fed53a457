package logging

import (
	"time"

	"github.com/danielpatrickdp/riskgate/internal/gate"
)

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	RequestID    string
	VersionID    string // active head version, empty when no head is committed
	QueryHash    string
	Decision     string // "answer" | "abstain"
	Probability  float64
	NeutralPrior bool
	Reason       string
	SignalsJSON  string
	CreatedAt    time.Time
}

// #endregion decision-entry

// #region decision-trace
// DecisionTrace captures every gate input for a single query.
// Serialized as JSON into decision_log.signals_json for deterministic replay.
type DecisionTrace struct {
	RequestID string `json:"request_id"`
	QueryHash string `json:"query_hash"`

	// Exact features as extracted at runtime
	Signals TraceSignals `json:"signals"`

	// Policy thresholds active at decision time
	Thresholds gate.PolicyConfig `json:"thresholds"`

	Sources []string `json:"sources,omitempty"` // evidence source IDs scored for overlap

	// Gate output
	Probability  float64           `json:"p_disagree"`
	NeutralPrior bool              `json:"neutral_prior"`
	Decision     string            `json:"decision"`
	Reason       string            `json:"reason"`
	Vetoes       []gate.VetoSignal `json:"vetoes,omitempty"`
}

// TraceSignals is the feature triple plus the uncertainty branch taken.
type TraceSignals struct {
	Dispersion        float64 `json:"dispersion"`
	Overlap           float64 `json:"overlap"`
	Uncertainty       float64 `json:"uncertainty"`
	UncertaintySource string  `json:"uncertainty_source"`
	EvidenceRunes     int     `json:"evidence_runes"`
}

// #endregion decision-trace

// #region log-config
// LogConfig selects the process logger's level, format and sink.
type LogConfig struct {
	Level      string `yaml:"level"`       // debug | info | warn | error
	JSON       bool   `yaml:"json"`        // JSON handler instead of text
	File       string `yaml:"file"`        // rotate into this file; empty writes to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotation size
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultLogConfig logs text at info level to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

// #endregion log-config
