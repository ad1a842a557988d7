// Package struggle defines the records the detection pipeline produces:
// predictions, the indicators that explain them, the interventions
// recommended for them, learner feedback and alerts.
package struggle

import (
	"fmt"
	"time"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/model"
)

// DateLayout is the layout of a prediction's as-of date.
const DateLayout = "2006-01-02"

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusConfirmed     Status = "CONFIRMED"
	StatusFalsePositive Status = "FALSE_POSITIVE"
	StatusMissed        Status = "MISSED"
)

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusFalsePositive, StatusMissed}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFalsePositive, StatusMissed:
		return true
	}
	return false
}

// Resolved reports whether the outcome has been observed.
func (s Status) Resolved() bool { return s != StatusPending }

// Source is the run that produced a prediction.
type Source string

const (
	SourceBatch    Source = "batch"
	SourceOnDemand Source = "on_demand"
	SourceRealtime Source = "realtime" // opened by a session check
	SourceOutcome  Source = "outcome"  // retroactive MISSED record
)

// Prediction is the struggle forecast for one (learner, objective, as-of
// date). It is mutated exactly once, when the outcome is observed.
type Prediction struct {
	ID            string          `json:"id"`
	LearnerID     string          `json:"learner_id"`
	ObjectiveID   string          `json:"objective_id"`
	Topic         string          `json:"topic,omitempty"`
	AsOf          string          `json:"as_of"` // DateLayout
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Probability   float64         `json:"probability"`
	Confidence    float64         `json:"confidence"`
	Status        Status          `json:"status"`
	ActualOutcome *bool           `json:"actual_outcome,omitempty"`
	Features      features.Vector `json:"features"`
	Factors       []model.Factor  `json:"factors,omitempty"`
	Model         string          `json:"model"`
	ModelVersion  string          `json:"model_version"`
	Source        Source          `json:"source"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// AsOfDate formats t as an as-of date in UTC.
func AsOfDate(t time.Time) string { return t.UTC().Format(DateLayout) }

// Resolve records the observed outcome. Only a PENDING prediction can be
// resolved: a struggle confirms it, no struggle makes it a false positive.
func (p *Prediction) Resolve(struggled bool, at time.Time) error {
	if p.Status != StatusPending {
		next := StatusFalsePositive
		if struggled {
			next = StatusConfirmed
		}
		return &TransitionError{Kind: "prediction", ID: p.ID, From: string(p.Status), To: string(next)}
	}
	if struggled {
		p.Status = StatusConfirmed
	} else {
		p.Status = StatusFalsePositive
	}
	p.ActualOutcome = &struggled
	at = at.UTC()
	p.ResolvedAt = &at
	p.UpdatedAt = at
	return nil
}

// Validate checks the record invariants.
func (p *Prediction) Validate() error {
	if p.LearnerID == "" || p.ObjectiveID == "" {
		return fmt.Errorf("prediction %s: learner and objective are required", p.ID)
	}
	if _, err := time.Parse(DateLayout, p.AsOf); err != nil {
		return fmt.Errorf("prediction %s: invalid as-of date %q", p.ID, p.AsOf)
	}
	if p.Probability < 0 || p.Probability > 1 {
		return fmt.Errorf("prediction %s: probability %v out of [0,1]", p.ID, p.Probability)
	}
	if p.Confidence < 0.5 || p.Confidence > 1 {
		return fmt.Errorf("prediction %s: confidence %v out of [0.5,1]", p.ID, p.Confidence)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("prediction %s: unknown status %q", p.ID, p.Status)
	}
	return p.Features.Validate()
}
