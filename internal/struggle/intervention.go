package struggle

import (
	"fmt"
	"time"
)

// InterventionType is a corrective action for the study plan.
type InterventionType string

const (
	InterventionPrerequisiteReview InterventionType = "PREREQUISITE_REVIEW"
	InterventionDifficultyStaging  InterventionType = "DIFFICULTY_STAGING"
	InterventionLoadReduction      InterventionType = "LOAD_REDUCTION"
	InterventionReviewBoost        InterventionType = "REVIEW_FREQUENCY_BOOST"
	InterventionFormatSubstitution InterventionType = "FORMAT_SUBSTITUTION"
	InterventionBreakScheduling    InterventionType = "BREAK_SCHEDULING"
)

// InterventionStatus is the lifecycle state of a recommendation.
type InterventionStatus string

const (
	InterventionPending   InterventionStatus = "PENDING"
	InterventionApplied   InterventionStatus = "APPLIED"
	InterventionCompleted InterventionStatus = "COMPLETED"
	InterventionDismissed InterventionStatus = "DISMISSED"
)

// Priority bounds.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Recommendation is one intervention recommended for a prediction.
type Recommendation struct {
	ID            string             `json:"id"`
	PredictionID  string             `json:"prediction_id"`
	LearnerID     string             `json:"learner_id"`
	ObjectiveID   string             `json:"objective_id"`
	Type          InterventionType   `json:"type"`
	IndicatorType IndicatorType      `json:"indicator_type"`
	Severity      Severity           `json:"severity"`
	Priority      int                `json:"priority"`
	Status        InterventionStatus `json:"status"`
	Rationale     string             `json:"rationale"`

	// Plan parameters handed to the composer.
	TargetObjectiveID string     `json:"target_objective_id,omitempty"`
	ScheduledFor      *time.Time `json:"scheduled_for,omitempty"`
	DurationFactor    float64    `json:"duration_factor,omitempty"`
	ReviewOffsetsDays []int      `json:"review_offsets_days,omitempty"`
	BreakEveryMinutes int        `json:"break_every_minutes,omitempty"`

	PlanItemID    string     `json:"plan_item_id,omitempty"`
	Effectiveness *float64   `json:"effectiveness,omitempty"` // 0.0–1.0
	AppliedAt     *time.Time `json:"applied_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

var interventionTransitions = map[InterventionStatus][]InterventionStatus{
	InterventionPending: {InterventionApplied, InterventionDismissed},
	InterventionApplied: {InterventionCompleted, InterventionDismissed},
}

// CanTransition reports whether a recommendation may move from one status
// to another.
func CanTransition(from, to InterventionStatus) bool {
	for _, s := range interventionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the recommendation to status at time at.
func (r *Recommendation) Transition(to InterventionStatus, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{Kind: "intervention", ID: r.ID, From: string(r.Status), To: string(to)}
	}
	r.Status = to
	r.UpdatedAt = at.UTC()
	if to == InterventionApplied {
		t := at.UTC()
		r.AppliedAt = &t
	}
	return nil
}

// Validate checks the record invariants.
func (r *Recommendation) Validate() error {
	if r.PredictionID == "" {
		return fmt.Errorf("intervention %s: prediction is required", r.ID)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("intervention %s: priority %d out of [%d,%d]", r.ID, r.Priority, MinPriority, MaxPriority)
	}
	if r.Effectiveness != nil && (*r.Effectiveness < 0 || *r.Effectiveness > 1) {
		return fmt.Errorf("intervention %s: effectiveness %v out of [0,1]", r.ID, *r.Effectiveness)
	}
	return nil
}
