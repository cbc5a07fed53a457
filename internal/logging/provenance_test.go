package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/riskgate/internal/gate"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "open db")
	_, err = db.Exec(`CREATE TABLE decision_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id    TEXT NOT NULL,
		version_id    TEXT,
		query_hash    TEXT,
		decision      TEXT NOT NULL,
		p_disagree    REAL NOT NULL,
		neutral_prior INTEGER NOT NULL DEFAULT 0,
		reason        TEXT,
		signals_json  TEXT,
		created_at    TEXT NOT NULL
	)`)
	require.NoError(t, err, "create table")
	return db
}

// #endregion helpers

// #region log-decision-tests
func TestLogDecision_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := DecisionEntry{
		RequestID:   "req-1",
		VersionID:   "v1",
		QueryHash:   "abc123",
		Decision:    "answer",
		Probability: 0.12,
		Reason:      "answer: low risk",
		SignalsJSON: `{"overlap":0.6}`,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, LogDecision(db, entry))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM decision_log").Scan(&count))
	assert.Equal(t, 1, count)

	var versionID, decision, createdAt string
	var p float64
	require.NoError(t, db.QueryRow("SELECT version_id, decision, p_disagree, created_at FROM decision_log").
		Scan(&versionID, &decision, &p, &createdAt))
	assert.Equal(t, "v1", versionID)
	assert.Equal(t, "answer", decision)
	assert.Equal(t, 0.12, p)
	assert.Equal(t, "2026-01-01T00:00:00.000000000Z", createdAt)
}

func TestLogDecision_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := DecisionEntry{RequestID: "req-2", Decision: "abstain", Probability: 0.5, NeutralPrior: true}
	require.NoError(t, LogDecision(db, entry))

	var createdAt string
	var neutral int
	require.NoError(t, db.QueryRow("SELECT created_at, neutral_prior FROM decision_log").Scan(&createdAt, &neutral))
	assert.NotEmpty(t, createdAt)
	assert.Equal(t, 1, neutral)
}

func TestLogDecision_NullableFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	require.NoError(t, LogDecision(db, DecisionEntry{RequestID: "req-3", Decision: "answer"}))

	var versionID, reason, signalsJSON sql.NullString
	require.NoError(t, db.QueryRow("SELECT version_id, reason, signals_json FROM decision_log").
		Scan(&versionID, &reason, &signalsJSON))
	assert.False(t, versionID.Valid, "version_id should be NULL")
	assert.False(t, reason.Valid, "reason should be NULL")
	assert.False(t, signalsJSON.Valid, "signals_json should be NULL")
}

func TestLogDecision_ClosedDB(t *testing.T) {
	db := setupDB(t)
	db.Close()

	assert.Error(t, LogDecision(db, DecisionEntry{RequestID: "r", Decision: "answer"}))
}

// #endregion log-decision-tests

// #region recorder-tests
func TestDBRecorder_StoresTrace(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	trace := DecisionTrace{
		RequestID:   "req-9",
		QueryHash:   QueryHash("what is the capital of France?"),
		Signals:     TraceSignals{Dispersion: 0.1, Overlap: 0.7, Uncertainty: 0.2, UncertaintySource: "fallback"},
		Thresholds:  gate.DefaultPolicyConfig(),
		Sources:     []string{"fr.txt"},
		Probability: 0.8,
		Decision:    "abstain",
		Reason:      "abstain: p_disagree 0.8000 >= tau 0.3000",
		Vetoes:      []gate.VetoSignal{{Type: gate.VetoProbability, Reason: "p_disagree 0.8000 >= tau 0.3000"}},
	}
	require.NoError(t, NewDBRecorder(db).Record(context.Background(), "v7", trace))

	var raw, versionID string
	require.NoError(t, db.QueryRow("SELECT signals_json, version_id FROM decision_log WHERE request_id = 'req-9'").
		Scan(&raw, &versionID))
	assert.Equal(t, "v7", versionID)

	var got DecisionTrace
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, 0.7, got.Signals.Overlap)
	assert.Equal(t, 0.3, got.Thresholds.Tau)
	require.Len(t, got.Vetoes, 1)
	assert.Equal(t, gate.VetoProbability, got.Vetoes[0].Type)
}

func TestDBRecorder_CancelledContext(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewDBRecorder(db).Record(ctx, "", DecisionTrace{RequestID: "r", Decision: "answer"}))
}

func TestQueryHash_StableAndOpaque(t *testing.T) {
	a := QueryHash("hello world")
	assert.Equal(t, a, QueryHash("hello world"))
	assert.NotEqual(t, a, QueryHash("hello world!"))
	assert.Len(t, a, 16)
	assert.NotContains(t, a, "hello")
}

func TestQueryHash_NormalizesUnicodeForms(t *testing.T) {
	composed := "caf\u00e9 opening hours"
	decomposed := "cafe\u0301 opening hours"
	require.NotEqual(t, composed, decomposed)
	assert.Equal(t, QueryHash(composed), QueryHash(decomposed))
	assert.NotEqual(t, QueryHash(composed), QueryHash("cafe opening hours"))
}

// #endregion recorder-tests

// #region logger-tests
func TestParseLevel(t *testing.T) {
	cases := map[string]string{"": "INFO", "debug": "DEBUG", "WARN": "WARN", "warning": "WARN", "error": "ERROR"}
	for in, want := range cases {
		lvl, err := ParseLevel(in)
		require.NoError(t, err, "ParseLevel(%q)", in)
		assert.Equal(t, want, lvl.String(), "ParseLevel(%q)", in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger_WritesRotatingFile(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.JSON = true
	cfg.File = filepath.Join(t.TempDir(), "riskgate.log")

	logger, closer, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("decision", "verdict", "abstain")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"verdict":"abstain"`)
	assert.NotContains(t, string(data), "hidden", "debug record should be filtered at info level")
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, _, err := NewLogger(LogConfig{Level: "chatty"})
	assert.Error(t, err)
}

// #endregion logger-tests
