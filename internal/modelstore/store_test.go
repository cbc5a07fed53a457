package modelstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "NewStore")
	t.Cleanup(func() { s.Close() })
	return s
}

func trainedHead(t *testing.T, threshold float64) *disagree.Head {
	t.Helper()
	sigs := []signals.RiskSignature{
		{Dispersion: 0.1, Overlap: 0.7, Uncertainty: 0.2},
		{Dispersion: 0.15, Overlap: 0.6, Uncertainty: 0.3},
		{Dispersion: 0.6, Overlap: 0.2, Uncertainty: 0.7},
		{Dispersion: 0.7, Overlap: 0.1, Uncertainty: 0.8},
	}
	h, err := disagree.Train(sigs, []bool{false, false, true, true})
	require.NoError(t, err, "Train")
	require.NoError(t, h.SetThreshold(threshold))
	return h
}

func TestCommitAndGetCurrent(t *testing.T) {
	s := tempDB(t)
	h := trainedHead(t, 0.3)

	rec, err := s.CommitHead(h, "file:///tmp/head.json", `{"positive_rate":0.5}`)
	require.NoError(t, err)
	require.NotEmpty(t, rec.VersionID)
	assert.Empty(t, rec.ParentID)

	cur, err := s.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, rec.VersionID, cur.VersionID)
	assert.Equal(t, 0.3, cur.Threshold)
	assert.Len(t, cur.Weights, 4)
	assert.Equal(t, "file:///tmp/head.json", cur.ArtifactURI)
	assert.Equal(t, `{"positive_rate":0.5}`, cur.MetricsJSON)
	assert.True(t, cur.CreatedAt.Equal(rec.CreatedAt), "created_at %v vs %v", cur.CreatedAt, rec.CreatedAt)
}

func TestLoadActivePredictsLikeOriginal(t *testing.T) {
	s := tempDB(t)
	h := trainedHead(t, 0.25)
	_, err := s.CommitHead(h, "", "")
	require.NoError(t, err)

	loaded, _, err := s.LoadActive()
	require.NoError(t, err)
	sig := signals.RiskSignature{Dispersion: 0.4, Overlap: 0.4, Uncertainty: 0.4}
	want, err := h.PredictProbability(sig)
	require.NoError(t, err)
	got, err := loaded.PredictProbability(sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 0.25, loaded.Threshold())
}

func TestCommitChainsParentAndRollback(t *testing.T) {
	s := tempDB(t)
	v1, err := s.CommitHead(trainedHead(t, 0.3), "", "")
	require.NoError(t, err)
	v2, err := s.CommitHead(trainedHead(t, 0.4), "", "")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, v2.ParentID)

	cur, err := s.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, cur.VersionID)

	require.NoError(t, s.Rollback(v1.VersionID))
	cur, err = s.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, cur.VersionID)
}

func TestRollbackNonExistent(t *testing.T) {
	s := tempDB(t)
	_, err := s.CommitHead(trainedHead(t, 0.3), "", "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Rollback("nonexistent-id"), ErrVersionNotFound)
}

func TestGetCurrentNoActiveHead(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetCurrent()
	assert.ErrorIs(t, err, ErrNoActiveHead)
	_, _, err = s.LoadActive()
	assert.ErrorIs(t, err, ErrNoActiveHead)
}

func TestGetVersionNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetVersion("nonexistent-id")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestCommitUntrainedHeadFails(t *testing.T) {
	s := tempDB(t)
	_, err := s.CommitHead(disagree.NewHead(), "", "")
	assert.ErrorIs(t, err, disagree.ErrNotTrained)
	_, err = s.GetCurrent()
	assert.ErrorIs(t, err, ErrNoActiveHead, "failed commit must not activate anything")
}

func TestListVersions(t *testing.T) {
	s := tempDB(t)
	v1, err := s.CommitHead(trainedHead(t, 0.3), "", "")
	require.NoError(t, err)
	v2, err := s.CommitHead(trainedHead(t, 0.4), "s3://bucket/head.json", "")
	require.NoError(t, err)

	_, err = s.DB().Exec(
		`INSERT INTO decision_log (request_id, version_id, decision, p_disagree, created_at)
		 VALUES ('r1', ?, 'answer', 0.1, ?)`, v1.VersionID, time.Now().UTC().Format(timeLayout),
	)
	require.NoError(t, err, "seed decision")

	versions, err := s.ListVersions(10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v2.VersionID, versions[0].VersionID, "newest first")
	assert.True(t, versions[0].Active)
	assert.Equal(t, "s3://bucket/head.json", versions[0].ArtifactURI)
	assert.Equal(t, 1, versions[1].Decisions)
	assert.False(t, versions[1].Active)
}

func TestLoadActiveCorruptBundle(t *testing.T) {
	s := tempDB(t)
	rec, err := s.CommitHead(trainedHead(t, 0.3), "", "")
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE head_versions SET bundle = '{}' WHERE version_id = ?`, rec.VersionID)
	require.NoError(t, err)

	_, _, err = s.LoadActive()
	assert.ErrorIs(t, err, disagree.ErrPersistence)
}

func TestWeightsRoundTrip(t *testing.T) {
	in := []float64{0.1, -2.5, 3e-9, 42}
	out, err := decodeWeights(encodeWeights(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeWeights([]byte{1, 2, 3})
	assert.Error(t, err, "truncated blob")
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	assert.Error(t, err)
}

func TestOperationsOnClosedDB(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	v1, err := s.CommitHead(trainedHead(t, 0.3), "", "")
	require.NoError(t, err)
	s.Close()

	_, err = s.CommitHead(trainedHead(t, 0.3), "", "")
	assert.Error(t, err, "CommitHead")
	assert.Error(t, s.Rollback(v1.VersionID), "Rollback")
	_, err = s.ListVersions(10)
	assert.Error(t, err, "ListVersions")
	_, err = s.GetCurrent()
	assert.Error(t, err, "GetCurrent")
}
