// Package plan describes the learner's study plan as the detection engine
// sees it. Interventions change the plan only through a Composer.
package plan

import (
	"context"
	"errors"
	"time"
)

// ErrNoItem is returned when an adjustment finds no planned item to change.
var ErrNoItem = errors.New("no planned item")

// Kind is what a plan item asks the learner to do.
type Kind string

const (
	KindStudy              Kind = "study"
	KindPrerequisiteReview Kind = "prerequisite_review"
	KindStagedPractice     Kind = "staged_practice"
	KindReview             Kind = "review"
	KindAlternateFormat    Kind = "alternate_format"
)

// Status is the lifecycle state of a plan item.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Item is one scheduled block of study.
type Item struct {
	ID                string     `json:"id" yaml:"id"`
	LearnerID         string     `json:"learner_id" yaml:"learner"`
	ObjectiveID       string     `json:"objective_id" yaml:"objective"`
	Kind              Kind       `json:"kind" yaml:"kind"`
	ScheduledFor      time.Time  `json:"scheduled_for" yaml:"scheduled_for"`
	DurationMinutes   int        `json:"duration_minutes" yaml:"duration_minutes"`
	BreakEveryMinutes int        `json:"break_every_minutes,omitempty" yaml:"break_every_minutes"`
	InterventionID    string     `json:"intervention_id,omitempty" yaml:"-"`
	BeforeItemID      string     `json:"before_item_id,omitempty" yaml:"-"` // must happen before this item
	Status            Status     `json:"status" yaml:"status"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" yaml:"-"`
	Struggled         *bool      `json:"struggled,omitempty" yaml:"-"`
}

// Adjustment changes the planned study of one objective.
type Adjustment struct {
	LearnerID      string
	ObjectiveID    string
	InterventionID string
	// DurationFactor scales planned minutes; 0 or 1 leaves them unchanged.
	DurationFactor float64
	// BreakEveryMinutes inserts breaks; 0 leaves them unchanged.
	BreakEveryMinutes int
}

// Composer is the only mutator of a learner's plan.
type Composer interface {
	// InsertItem adds an item and returns its id.
	InsertItem(ctx context.Context, item Item) (string, error)

	// AdjustDuration applies a to the learner's planned study items of the
	// objective and returns the id of the first changed item, or ErrNoItem.
	AdjustDuration(ctx context.Context, a Adjustment) (string, error)
}
