package modelstore

import (
	"errors"
	"time"
)

var (
	// ErrNoActiveHead means no head version has been committed or activated yet.
	ErrNoActiveHead = errors.New("no active head")

	// ErrVersionNotFound is returned for unknown version IDs.
	ErrVersionNotFound = errors.New("head version not found")
)

// #region head-version
// HeadVersion is one committed disagreement head.
type HeadVersion struct {
	VersionID   string
	ParentID    string    // active version at commit time, empty for the first
	Weights     []float64 // dispersion, overlap, uncertainty, intercept
	Threshold   float64
	Bundle      []byte // serialized head, loadable with disagree.UnmarshalBundle
	ArtifactURI string // where the bundle was also published, if anywhere
	CreatedAt   time.Time
	MetricsJSON string
}

// #endregion head-version

// #region version-summary
// VersionSummary is a HeadVersion without the bundle, for listings.
type VersionSummary struct {
	VersionID   string
	ParentID    string
	Threshold   float64
	ArtifactURI string
	CreatedAt   time.Time
	Active      bool
	Decisions   int // rows in decision_log attributed to this version
}

// #endregion version-summary
