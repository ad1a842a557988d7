package model

import (
	"fmt"

	"github.com/abhisek/foresight/internal/features"
)

// Comparison selects which side of a threshold triggers a rule.
type Comparison string

const (
	Above Comparison = "above"
	Below Comparison = "below"
)

// Rule adds Weight to the probability when Feature is strictly above or
// below Threshold.
type Rule struct {
	Feature    features.Name `yaml:"feature" json:"feature" validate:"required"`
	Comparison Comparison    `yaml:"comparison" json:"comparison" validate:"oneof=above below"`
	Threshold  float64       `yaml:"threshold" json:"threshold" validate:"gte=0,lte=1"`
	Weight     float64       `yaml:"weight" json:"weight" validate:"gte=0,lte=1"`
}

// Triggered reports whether value triggers the rule.
func (r Rule) Triggered(value float64) bool {
	if r.Comparison == Below {
		return value < r.Threshold
	}
	return value > r.Threshold
}

// RuleConfig is the full rule-based scorer configuration. The weights are a
// hand-tuned starting heuristic and are expected to be recalibrated.
type RuleConfig struct {
	Baseline float64 `yaml:"baseline" json:"baseline" validate:"gte=0,lte=1"`
	Rules    []Rule  `yaml:"rules" json:"rules" validate:"dive"`
}

// DefaultRuleConfig returns the cold-start weights.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Baseline: 0.3,
		Rules: []Rule{
			// High-risk signals.
			{Feature: features.RetentionScore, Comparison: Below, Threshold: 0.5, Weight: 0.2},
			{Feature: features.PrerequisiteGapCount, Comparison: Above, Threshold: 0.5, Weight: 0.35},
			{Feature: features.DifficultyMismatch, Comparison: Above, Threshold: 0.6, Weight: 0.2},
			{Feature: features.HistoricalStruggle, Comparison: Above, Threshold: 0.7, Weight: 0.12},
			// Medium-risk signals.
			{Feature: features.PrerequisiteMasteryGap, Comparison: Above, Threshold: 0.2, Weight: 0.15},
			{Feature: features.FormatMismatch, Comparison: Above, Threshold: 0.5, Weight: 0.1},
			{Feature: features.ReviewLapseRate, Comparison: Above, Threshold: 0.3, Weight: 0.15},
			{Feature: features.CognitiveLoad, Comparison: Above, Threshold: 0.6, Weight: 0.1},
		},
	}
}

// Validate checks that every rule names a known feature.
func (c RuleConfig) Validate() error {
	known := make(map[features.Name]bool)
	for _, n := range features.All() {
		known[n] = true
	}
	for i, r := range c.Rules {
		if !known[r.Feature] {
			return fmt.Errorf("rule %d: unknown feature %q", i, r.Feature)
		}
		if r.Comparison != Above && r.Comparison != Below {
			return fmt.Errorf("rule %d: unknown comparison %q", i, r.Comparison)
		}
	}
	return nil
}

// RuleBased scores vectors by accumulating rule weights on a baseline.
// Rules only fire on observed features, so defaulted signals never raise
// the probability.
type RuleBased struct {
	cfg RuleConfig
}

// NewRuleBased creates a rule-based scorer.
func NewRuleBased(cfg RuleConfig) *RuleBased {
	rules := make([]Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	cfg.Rules = rules
	return &RuleBased{cfg: cfg}
}

func (m *RuleBased) Name() string    { return NameRules }
func (m *RuleBased) Version() string { return "v1" }

// Config returns a copy of the scorer's configuration.
func (m *RuleBased) Config() RuleConfig {
	out := m.cfg
	out.Rules = append([]Rule(nil), m.cfg.Rules...)
	return out
}

func (m *RuleBased) Predict(v features.Vector) Result {
	p := m.cfg.Baseline
	var factors []Factor
	for _, r := range m.cfg.Rules {
		if !v.IsObserved(r.Feature) {
			continue
		}
		value := v.Get(r.Feature)
		if !r.Triggered(value) {
			continue
		}
		p += r.Weight
		factors = append(factors, Factor{
			Feature:      r.Feature,
			Value:        value,
			Contribution: r.Weight,
			Reason:       ruleReason(r, value),
		})
	}
	sortFactors(factors)

	return Result{
		Probability: features.Clamp01(p),
		Confidence:  baseConfidence(v.DataQuality),
		Factors:     factors,
		Model:       m.Name(),
		Version:     m.Version(),
	}
}

func ruleReason(r Rule, value float64) string {
	return fmt.Sprintf("%s %.0f%% is %s %.0f%% (+%.2f)",
		r.Feature.Label(), value*100, r.Comparison, r.Threshold*100, r.Weight)
}
