package replay

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/pipeline"
	"github.com/danielpatrickdp/riskgate/internal/retrieval"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// #region questions-tests
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadQuestions_ParsesPrefixCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Question: What is the capital of France?\nAnswer: Paris\nquestion:   Who wrote Hamlet?  \n")
	writeFile(t, filepath.Join(dir, "sub", "b.TXT"), "QUESTION: Why?\nQuestion: How tall is Everest?\n")
	writeFile(t, filepath.Join(dir, "notes.md"), "Question: Ignored because not txt\n")

	qs, err := LoadQuestions(dir, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"What is the capital of France?",
		"Who wrote Hamlet?",
		"How tall is Everest?",
	}, qs)
}

func TestLoadQuestions_LimitAndShuffle(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Question: question number " + string(rune('a'+i)) + "\n")
	}
	writeFile(t, filepath.Join(dir, "q.txt"), b.String())

	all, err := LoadQuestions(dir, 0, nil)
	require.NoError(t, err)
	require.Len(t, all, 20)

	first, err := LoadQuestions(dir, 5, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	second, err := LoadQuestions(dir, 5, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Len(t, first, 5)
	assert.Equal(t, first, second, "same seed must give the same sample")
	for _, q := range first {
		assert.Contains(t, all, q)
	}
}

func TestLoadQuestions_MissingDir(t *testing.T) {
	_, err := LoadQuestions(filepath.Join(t.TempDir(), "nope"), 0, nil)
	require.Error(t, err)
}

// #endregion questions-tests

// #region harness-tests
type fakeObserver struct {
	fail  map[string]error
	calls atomic.Int32
}

func (f *fakeObserver) Observe(_ context.Context, q string) (pipeline.Observation, error) {
	f.calls.Add(1)
	if err := f.fail[q]; err != nil {
		return pipeline.Observation{}, err
	}
	overlap := 0.8
	if strings.HasPrefix(q, "risky") {
		overlap = 0.1
	}
	return pipeline.Observation{
		Query:    q,
		Answer:   "answer to " + q,
		Evidence: []retrieval.Evidence{{SourceID: q + ".txt", Text: "evidence for " + q}},
		Extraction: signals.Extraction{
			Signature: signals.RiskSignature{Dispersion: 0.1, Overlap: overlap, Uncertainty: 0.2},
		},
	}, nil
}

type fakeLabeler struct{ err error }

func (f fakeLabeler) Label(_ context.Context, answer string, passages []string) (bool, float64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	if len(passages) != 1 {
		return false, 0, errors.New("expected one passage")
	}
	unsupported := strings.Contains(answer, "risky")
	return unsupported, 0.5, nil
}

func TestCollect_PreservesOrderAndSkipsFailures(t *testing.T) {
	obs := &fakeObserver{fail: map[string]error{"q2": pipeline.ErrGenerationFailed}}
	h := NewHarness(obs, HarnessConfig{Concurrency: 3})

	qs := []string{"q0", "q1", "q2", "q3", "q4"}
	out, stats, err := h.Collect(context.Background(), qs)
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Questions: 5, Observed: 4, Failed: 1}, stats)
	var got []string
	for _, o := range out {
		got = append(got, o.Query)
	}
	assert.Equal(t, []string{"q0", "q1", "q3", "q4"}, got)
	assert.EqualValues(t, 5, obs.calls.Load())
}

func TestCollect_AllFailed(t *testing.T) {
	obs := &fakeObserver{fail: map[string]error{"a": errors.New("x"), "b": errors.New("y")}}
	_, stats, err := NewHarness(obs, HarnessConfig{}).Collect(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrNoObservations)
	assert.Equal(t, 2, stats.Failed)
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs := &fakeObserver{fail: map[string]error{"a": context.Canceled}}
	_, _, err := NewHarness(obs, HarnessConfig{}).Collect(ctx, []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTrainingSet_ProxyLabels(t *testing.T) {
	obs := &fakeObserver{}
	out, _, err := NewHarness(obs, HarnessConfig{}).Collect(context.Background(), []string{"safe one", "risky one", "safe two", "risky two"})
	require.NoError(t, err)

	sigs, labels := TrainingSet(out, disagree.DefaultProxyLabelConfig())
	require.Len(t, sigs, 4)
	assert.Equal(t, []bool{false, true, false, true}, labels)
	assert.Equal(t, 0.5, PositiveRate(labels))
	assert.Equal(t, 0.0, PositiveRate(nil))

	head, err := disagree.Train(sigs, labels)
	require.NoError(t, err)
	assert.True(t, head.Trained())
}

func TestCalibrate_RowsInOrder(t *testing.T) {
	h := NewHarness(&fakeObserver{}, HarnessConfig{Concurrency: 2})
	out, _, err := h.Collect(context.Background(), []string{"safe a", "risky b", "safe c", "risky d"})
	require.NoError(t, err)

	sigs, labels := TrainingSet(out, disagree.DefaultProxyLabelConfig())
	head, err := disagree.Train(sigs, labels)
	require.NoError(t, err)

	rows, err := h.Calibrate(context.Background(), out, head, fakeLabeler{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []bool{false, true, false, true}, []bool{rows[0].IndependentLabel, rows[1].IndependentLabel, rows[2].IndependentLabel, rows[3].IndependentLabel})
	assert.Less(t, rows[0].Probability, rows[1].Probability)

	auc, ok := eval.AUROC(rows)
	require.True(t, ok)
	assert.Equal(t, 1.0, auc)
}

func TestCalibrate_UntrainedHead(t *testing.T) {
	h := NewHarness(&fakeObserver{}, HarnessConfig{})
	out, _, err := h.Collect(context.Background(), []string{"safe a"})
	require.NoError(t, err)

	_, err = h.Calibrate(context.Background(), out, disagree.NewHead(), fakeLabeler{})
	require.ErrorIs(t, err, disagree.ErrNotTrained)
}

func TestCalibrate_LabelerError(t *testing.T) {
	h := NewHarness(&fakeObserver{}, HarnessConfig{})
	out, _, err := h.Collect(context.Background(), []string{"safe a", "risky b"})
	require.NoError(t, err)
	sigs, labels := TrainingSet(out, disagree.DefaultProxyLabelConfig())
	head, err := disagree.Train(sigs, labels)
	require.NoError(t, err)

	nli := errors.New("nli down")
	_, err = h.Calibrate(context.Background(), out, head, fakeLabeler{err: nli})
	require.ErrorIs(t, err, nli)
}

// #endregion harness-tests

// #region fixture-tests

// TestFixture_Calibration loads the calibration fixture, replays the sweep and
// compares each point with the recorded curve. If gate cutoffs or sweep
// semantics change, this catches drift.
func TestFixture_Calibration(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "calibration.json"))
	require.NoError(t, err)

	got := f.Replay()
	require.Len(t, got, 3)
	assert.Equal(t, 0.2, got[0].Threshold, "taus are swept in ascending order")
	assert.Empty(t, f.Drift(got, 1e-9))
}

func TestFixture_DriftReported(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "calibration.json"))
	require.NoError(t, err)

	got := f.Replay()
	got[1].Coverage += 0.1
	drift := f.Drift(got, 1e-9)
	require.Len(t, drift, 1)
	assert.Contains(t, drift[0], "tau 0.40")

	assert.NotEmpty(t, f.Drift(got[:2], 1e-9))
}

func TestFixture_Defaults(t *testing.T) {
	f := &Fixture{}
	assert.Equal(t, eval.DefaultTaus(), f.Thresholds())
	assert.Equal(t, 0.3, f.PolicyConfig().Tau)
	assert.Empty(t, f.Drift(nil, 0))
	assert.Len(t, f.Replay(), len(eval.DefaultTaus()))
}

func TestLoadFixture_Errors(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, bad, "{not json")
	_, err = LoadFixture(bad)
	require.Error(t, err)
}

// #endregion fixture-tests
