// Package model scores feature vectors. Two strategies share one contract:
// a deterministic rule-based scorer used until enough labeled outcomes
// exist, and an L2-regularized logistic regression trained on them.
package model

import (
	"sort"

	"github.com/abhisek/foresight/internal/features"
)

// Factor is one feature's contribution to a prediction.
type Factor struct {
	Feature      features.Name `json:"feature"`
	Value        float64       `json:"value"`
	Contribution float64       `json:"contribution"`
	Reason       string        `json:"reason"`
}

// Result is the output of scoring one vector.
type Result struct {
	Probability float64  `json:"probability"` // 0.0–1.0
	Confidence  float64  `json:"confidence"`  // 0.5–1.0
	Factors     []Factor `json:"factors"`     // strongest first
	Model       string   `json:"model"`
	Version     string   `json:"version"`
}

// TopFactors returns at most n factors.
func (r Result) TopFactors(n int) []Factor {
	if n >= len(r.Factors) {
		return r.Factors
	}
	return r.Factors[:n]
}

// Model scores a feature vector. Implementations must be pure: the same
// vector always yields the same result.
type Model interface {
	Name() string
	Version() string
	Predict(v features.Vector) Result
}

// Model names.
const (
	NameRules    = "rules"
	NameLogistic = "logistic"
)

// sortFactors orders factors by contribution descending, then by feature
// name for stable output.
func sortFactors(fs []Factor) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Contribution != fs[j].Contribution {
			return fs[i].Contribution > fs[j].Contribution
		}
		return fs[i].Feature < fs[j].Feature
	})
}

// baseConfidence maps data quality onto [0.5, 1.0]. Even a vector with no
// real signal gets 0.5.
func baseConfidence(dataQuality float64) float64 {
	return features.Clamp01(dataQuality)*0.5 + 0.5
}
