package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/unicode/norm"
)

// timeLayout matches the head_versions created_at layout so rows sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region log-decision
// LogDecision writes a decision entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	neutral := 0
	if entry.NeutralPrior {
		neutral = 1
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (request_id, version_id, query_hash, decision, p_disagree, neutral_prior, reason, signals_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		nullIfEmpty(entry.VersionID),
		nullIfEmpty(entry.QueryHash),
		entry.Decision,
		entry.Probability,
		neutral,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.SignalsJSON),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region recorder
// DBRecorder appends decisions to decision_log.
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder wraps a database that already carries the decision_log table.
func NewDBRecorder(db *sql.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

// Record builds the entry from trace and writes it.
func (r *DBRecorder) Record(ctx context.Context, versionID string, trace DecisionTrace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := EntryFromTrace(versionID, trace)
	if err != nil {
		return err
	}
	return LogDecision(r.db, entry)
}

// EntryFromTrace flattens a trace into a decision_log row.
func EntryFromTrace(versionID string, trace DecisionTrace) (DecisionEntry, error) {
	raw, err := json.Marshal(trace)
	if err != nil {
		return DecisionEntry{}, fmt.Errorf("marshal trace: %w", err)
	}
	return DecisionEntry{
		RequestID:    trace.RequestID,
		VersionID:    versionID,
		QueryHash:    trace.QueryHash,
		Decision:     trace.Decision,
		Probability:  trace.Probability,
		NeutralPrior: trace.NeutralPrior,
		Reason:       trace.Reason,
		SignalsJSON:  string(raw),
	}, nil
}

// #endregion recorder

// #region helpers
// QueryHash fingerprints a query so the log never stores raw user text.
// The query is NFC-normalized first so composed and decomposed spellings
// share a hash.
func QueryHash(query string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(norm.NFC.String(query)))
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
