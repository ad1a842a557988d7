package model

import (
	"sync/atomic"
)

// Registry selects the active model. The classifier is an immutable artifact
// swapped atomically, so readers see either the old or the new version.
// Selection depends only on the data-sufficiency flag.
type Registry struct {
	rules       *RuleBased
	classifier  atomic.Pointer[Logistic]
	sufficient  atomic.Bool
	minExamples int
}

// NewRegistry creates a registry that serves rules until a classifier is
// deployed and at least minExamples labeled outcomes exist.
func NewRegistry(rules *RuleBased, minExamples int) *Registry {
	return &Registry{rules: rules, minExamples: minExamples}
}

// Active returns the model to score with.
func (r *Registry) Active() Model {
	if r.sufficient.Load() {
		if c := r.classifier.Load(); c != nil {
			return c
		}
	}
	return r.rules
}

// Rules returns the rule-based scorer.
func (r *Registry) Rules() *RuleBased { return r.rules }

// Classifier returns the deployed classifier, or nil.
func (r *Registry) Classifier() *Logistic { return r.classifier.Load() }

// Deploy swaps in a new classifier.
func (r *Registry) Deploy(c *Logistic) {
	r.classifier.Store(c)
}

// UpdateDataSufficiency records the current labeled-example count and
// reports whether the classifier may serve.
func (r *Registry) UpdateDataSufficiency(labeled int) bool {
	ok := labeled >= r.minExamples
	r.sufficient.Store(ok)
	return ok
}

// MinExamples returns the data-sufficiency threshold.
func (r *Registry) MinExamples() int { return r.minExamples }
