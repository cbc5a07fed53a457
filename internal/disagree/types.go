package disagree

import (
	"errors"
	"time"
)

// #region errors

var (
	// ErrInvalidInput marks malformed training data. Never repaired silently.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotTrained is returned by prediction on a head without parameters.
	ErrNotTrained = errors.New("disagreement head not trained")

	// ErrTrainingInProgress rejects a second concurrent Fit on the same head.
	ErrTrainingInProgress = errors.New("training already in progress")

	// ErrPersistence wraps every save/load failure, including corrupt bundles.
	ErrPersistence = errors.New("model persistence failure")
)

// #endregion errors

// #region params

// Params are the learned logistic coefficients over the signature vector.
type Params struct {
	Weights   [3]float64 // dispersion, overlap, uncertainty
	Intercept float64
}

// TrainingMeta records how the current parameters were obtained.
type TrainingMeta struct {
	Samples      int        `json:"samples"`
	PositiveRate float64    `json:"positive_rate"`
	ClassWeights [2]float64 `json:"class_weights"` // [negative, positive]
	Iterations   int        `json:"iterations"`
	Converged    bool       `json:"converged"`
	TrainedAt    time.Time  `json:"trained_at"`
}

// #endregion params

// #region fit-config

// FitConfig holds solver settings.
type FitConfig struct {
	C             float64 // inverse L2 strength; intercept is not penalised
	MaxIterations int
	Tolerance     float64 // max |gradient| at convergence
}

// DefaultFitConfig matches a balanced logistic regression with C=1 and 200 iterations.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		C:             1.0,
		MaxIterations: 200,
		Tolerance:     1e-8,
	}
}

// DefaultThreshold is the abstention cutoff a fresh head carries.
const DefaultThreshold = 0.3

// #endregion fit-config

// #region proxy-config

// ProxyLabelConfig defines the training-time "high disagreement" heuristic.
type ProxyLabelConfig struct {
	MaxOverlap    float64 // overlap below this is a positive
	MinDispersion float64 // dispersion above this is a positive
}

// DefaultProxyLabelConfig returns the cutoffs the shipped heads were trained with.
func DefaultProxyLabelConfig() ProxyLabelConfig {
	return ProxyLabelConfig{
		MaxOverlap:    0.35,
		MinDispersion: 0.45,
	}
}

// #endregion proxy-config
