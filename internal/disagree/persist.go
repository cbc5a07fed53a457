package disagree

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/xxh3"
)

// #region bundle-format

const (
	// BundleFormat identifies a serialized disagreement head.
	BundleFormat = "riskgate.disagreement-head"
	// BundleVersion is the newest layout this build reads and the one it writes.
	BundleVersion = 1

	maxBundleBytes = 1 << 20
	schemaURL      = "https://riskgate.local/schema/head.schema.json"
)

// FeatureOrder is the signature layout the weights are bound to.
var FeatureOrder = []string{"dispersion", "overlap", "uncertainty"}

//go:embed head.schema.json
var headSchema []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(headSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

type bundle struct {
	Format    string         `json:"format"`
	Version   int            `json:"version"`
	Features  []string       `json:"features"`
	Weights   []float64      `json:"weights"`
	Intercept float64        `json:"intercept"`
	Threshold float64        `json:"threshold"`
	Training  bundleTraining `json:"training"`
	Checksum  string         `json:"checksum"`
}

type bundleTraining struct {
	Samples      int        `json:"samples"`
	PositiveRate float64    `json:"positive_rate"`
	ClassWeights [2]float64 `json:"class_weights"`
	Iterations   int        `json:"iterations"`
	Converged    bool       `json:"converged"`
	TrainedAt    time.Time  `json:"trained_at"`
}

// checksum covers every value that affects predictions or decisions.
func checksum(weights []float64, intercept, threshold float64) string {
	var b strings.Builder
	for _, w := range weights {
		b.WriteString(strconv.FormatFloat(w, 'g', -1, 64))
		b.WriteByte(',')
	}
	b.WriteString(strconv.FormatFloat(intercept, 'g', -1, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(threshold, 'g', -1, 64))
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}

// #endregion bundle-format

// #region marshal

// MarshalBundle serializes parameters, threshold and training metadata.
func (h *Head) MarshalBundle() ([]byte, error) {
	h.mu.RLock()
	params, meta, threshold := h.params, h.meta, h.threshold
	h.mu.RUnlock()

	if params == nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, ErrNotTrained)
	}

	weights := params.Weights[:]
	b := bundle{
		Format:    BundleFormat,
		Version:   BundleVersion,
		Features:  FeatureOrder,
		Weights:   weights,
		Intercept: params.Intercept,
		Threshold: threshold,
		Training:  bundleTraining(meta),
		Checksum:  checksum(weights, params.Intercept, threshold),
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal bundle: %w", ErrPersistence, err)
	}
	return data, nil
}

// UnmarshalBundle restores a trained head. Any structural, version or
// checksum mismatch fails with ErrPersistence; it never yields an untrained head.
func UnmarshalBundle(data []byte) (*Head, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %w", ErrPersistence, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: bundle schema: %w", ErrPersistence, err)
	}

	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %w", ErrPersistence, err)
	}
	if b.Version > BundleVersion {
		return nil, fmt.Errorf("%w: bundle version %d newer than supported %d", ErrPersistence, b.Version, BundleVersion)
	}
	for i, f := range FeatureOrder {
		if b.Features[i] != f {
			return nil, fmt.Errorf("%w: feature %d is %q, want %q", ErrPersistence, i, b.Features[i], f)
		}
	}
	if got := checksum(b.Weights, b.Intercept, b.Threshold); got != b.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %s, computed %s)", ErrPersistence, b.Checksum, got)
	}

	h := NewHead()
	h.params = &Params{
		Weights:   [3]float64{b.Weights[0], b.Weights[1], b.Weights[2]},
		Intercept: b.Intercept,
	}
	h.threshold = b.Threshold
	h.meta = TrainingMeta(b.Training)
	return h, nil
}

// #endregion marshal

// #region io

// Save writes the bundle to w.
func (h *Head) Save(w io.Writer) error {
	data, err := h.MarshalBundle()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: write bundle: %w", ErrPersistence, err)
	}
	return nil
}

// Load reads a bundle from r.
func Load(r io.Reader) (*Head, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBundleBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read bundle: %w", ErrPersistence, err)
	}
	if len(data) > maxBundleBytes {
		return nil, fmt.Errorf("%w: bundle exceeds %d bytes", ErrPersistence, maxBundleBytes)
	}
	return UnmarshalBundle(data)
}

// #endregion io
