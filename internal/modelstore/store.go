// Package modelstore keeps trained disagreement heads in SQLite with an active
// pointer, so a service can load the current head and operators can roll back.
package modelstore

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS head_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	weights       BLOB NOT NULL,
	threshold     REAL NOT NULL,
	bundle        TEXT NOT NULL,
	artifact_uri  TEXT,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	FOREIGN KEY (parent_id) REFERENCES head_versions(version_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT NOT NULL,
	version_id    TEXT,
	query_hash    TEXT,
	decision      TEXT NOT NULL,
	p_disagree    REAL NOT NULL,
	neutral_prior INTEGER NOT NULL DEFAULT 0,
	reason        TEXT,
	signals_json  TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES head_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_head (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES head_versions(version_id)
);
`

// #endregion schema

// #region store-struct
// Store manages versioned heads in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region commit-head
// CommitHead stores a trained head as a new version and makes it active.
// The previously active version, if any, becomes its parent.
func (s *Store) CommitHead(h *disagree.Head, artifactURI, metricsJSON string) (HeadVersion, error) {
	bundle, err := h.MarshalBundle()
	if err != nil {
		return HeadVersion{}, fmt.Errorf("commit head: %w", err)
	}
	params, _ := h.Params()

	rec := HeadVersion{
		VersionID:   uuid.New().String(),
		Weights:     []float64{params.Weights[0], params.Weights[1], params.Weights[2], params.Intercept},
		Threshold:   h.Threshold(),
		Bundle:      bundle,
		ArtifactURI: artifactURI,
		CreatedAt:   time.Now().UTC(),
		MetricsJSON: metricsJSON,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return HeadVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_head WHERE id = 1`).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return HeadVersion{}, fmt.Errorf("get active: %w", err)
	}
	if parent.Valid {
		rec.ParentID = parent.String
	}

	_, err = tx.Exec(
		`INSERT INTO head_versions (version_id, parent_id, weights, threshold, bundle, artifact_uri, created_at, metrics_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(rec.ParentID), encodeWeights(rec.Weights), rec.Threshold,
		string(rec.Bundle), nullIfEmpty(rec.ArtifactURI),
		rec.CreatedAt.Format(timeLayout), nullIfEmpty(rec.MetricsJSON),
	)
	if err != nil {
		return HeadVersion{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_head (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return HeadVersion{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return HeadVersion{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion commit-head

// #region get-current
// GetCurrent reads the active head version.
func (s *Store) GetCurrent() (HeadVersion, error) {
	id, err := s.activeID()
	if err != nil {
		return HeadVersion{}, err
	}
	return s.GetVersion(id)
}

// LoadActive returns the active head ready for prediction.
func (s *Store) LoadActive() (*disagree.Head, HeadVersion, error) {
	rec, err := s.GetCurrent()
	if err != nil {
		return nil, HeadVersion{}, err
	}
	h, err := disagree.UnmarshalBundle(rec.Bundle)
	if err != nil {
		return nil, HeadVersion{}, fmt.Errorf("version %s: %w", rec.VersionID, err)
	}
	return h, rec, nil
}

func (s *Store) activeID() (string, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_head WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoActiveHead
	}
	if err != nil {
		return "", fmt.Errorf("get active: %w", err)
	}
	return versionID, nil
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific head version by ID.
func (s *Store) GetVersion(id string) (HeadVersion, error) {
	var rec HeadVersion
	var parentID, artifactURI, metricsJSON sql.NullString
	var weightsBlob []byte
	var bundle, createdStr string

	err := s.db.QueryRow(
		`SELECT version_id, parent_id, weights, threshold, bundle, artifact_uri, created_at, metrics_json
		 FROM head_versions WHERE version_id = ?`, id,
	).Scan(&rec.VersionID, &parentID, &weightsBlob, &rec.Threshold, &bundle, &artifactURI, &createdStr, &metricsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return HeadVersion{}, fmt.Errorf("get version %s: %w", id, ErrVersionNotFound)
	}
	if err != nil {
		return HeadVersion{}, fmt.Errorf("get version %s: %w", id, err)
	}

	rec.ParentID = parentID.String
	rec.ArtifactURI = artifactURI.String
	rec.MetricsJSON = metricsJSON.String
	rec.Bundle = []byte(bundle)
	rec.Weights, err = decodeWeights(weightsBlob)
	if err != nil {
		return HeadVersion{}, fmt.Errorf("get version %s: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return rec, nil
}

// #endregion get-version

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM head_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("rollback to %s: %w", targetVersionID, ErrVersionNotFound)
	}

	_, err = s.db.Exec(
		`INSERT INTO active_head (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		targetVersionID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent head versions, newest first.
func (s *Store) ListVersions(limit int) ([]VersionSummary, error) {
	active, err := s.activeID()
	if err != nil && !errors.Is(err, ErrNoActiveHead) {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT v.version_id, v.parent_id, v.threshold, v.artifact_uri, v.created_at,
		        (SELECT COUNT(*) FROM decision_log d WHERE d.version_id = v.version_id)
		 FROM head_versions v ORDER BY v.created_at DESC, v.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionSummary
	for rows.Next() {
		var rec VersionSummary
		var parentID, artifactURI sql.NullString
		var createdStr string
		if err := rows.Scan(&rec.VersionID, &parentID, &rec.Threshold, &artifactURI, &createdStr, &rec.Decisions); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.ParentID = parentID.String
		rec.ArtifactURI = artifactURI.String
		rec.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		rec.Active = rec.VersionID == active
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion list-versions

// #region weight-encoding
func encodeWeights(w []float64) []byte {
	buf := make([]byte, len(w)*8)
	for i, f := range w {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeWeights(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("weights blob length %d not a multiple of 8", len(b))
	}
	w := make([]float64, len(b)/8)
	for i := range w {
		w[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return w, nil
}

// #endregion weight-encoding

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
