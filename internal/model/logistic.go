package model

import (
	"fmt"
	"math"
	"time"

	"github.com/abhisek/foresight/internal/features"
)

// maxFactors bounds how many factors the classifier reports.
const maxFactors = 5

// Logistic is a trained L2-regularized logistic regression. It is
// immutable once built; retraining produces a new value.
type Logistic struct {
	version   string
	weights   map[features.Name]float64
	bias      float64
	lambda    float64
	trainedAt time.Time
	examples  int
}

// NewLogistic builds a classifier from explicit parameters.
func NewLogistic(version string, weights map[features.Name]float64, bias, lambda float64, trainedAt time.Time, examples int) *Logistic {
	w := make(map[features.Name]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Logistic{
		version:   version,
		weights:   w,
		bias:      bias,
		lambda:    lambda,
		trainedAt: trainedAt,
		examples:  examples,
	}
}

func (m *Logistic) Name() string    { return NameLogistic }
func (m *Logistic) Version() string { return m.version }

// TrainedAt returns when the classifier was trained.
func (m *Logistic) TrainedAt() time.Time { return m.trainedAt }

// Examples returns the number of examples it was trained on.
func (m *Logistic) Examples() int { return m.examples }

// Weight returns the weight of a feature.
func (m *Logistic) Weight(n features.Name) float64 { return m.weights[n] }

// Bias returns the intercept.
func (m *Logistic) Bias() float64 { return m.bias }

// Score returns the raw probability without building factors.
func (m *Logistic) Score(v features.Vector) float64 {
	// Sum in a fixed order so scoring is bit-for-bit deterministic.
	z := m.bias
	for _, n := range features.All() {
		z += m.weights[n] * v.Get(n)
	}
	return sigmoid(z)
}

// Predict scores v. Factors are w·(x − 0.5) for observed features, so a
// feature sitting at the neutral default never explains a prediction.
func (m *Logistic) Predict(v features.Vector) Result {
	p := m.Score(v)

	var factors []Factor
	for _, n := range features.All() {
		w := m.weights[n]
		if !v.IsObserved(n) {
			continue
		}
		x := v.Get(n)
		c := w * (x - features.Neutral)
		if c <= 0 {
			continue
		}
		factors = append(factors, Factor{
			Feature:      n,
			Value:        x,
			Contribution: c,
			Reason:       fmt.Sprintf("%s %.0f%% raises risk (weight %+.2f)", n.Label(), x*100, w),
		})
	}
	sortFactors(factors)
	if len(factors) > maxFactors {
		factors = factors[:maxFactors]
	}

	// Confident predictions on well-observed vectors approach 1.0.
	certainty := math.Abs(2*p - 1)
	conf := 0.5 + 0.25*features.Clamp01(v.DataQuality) + 0.25*certainty

	return Result{
		Probability: features.Clamp01(p),
		Confidence:  conf,
		Factors:     factors,
		Model:       m.Name(),
		Version:     m.version,
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}
