package struggle

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// feedbackValidate checks the struct tags on Feedback.
var feedbackValidate = validator.New()

// FeedbackKind is the learner's judgment of a prediction or intervention.
type FeedbackKind string

const (
	FeedbackHelpful          FeedbackKind = "HELPFUL"
	FeedbackNotHelpful       FeedbackKind = "NOT_HELPFUL"
	FeedbackInaccurate       FeedbackKind = "INACCURATE"
	FeedbackInterventionGood FeedbackKind = "INTERVENTION_GOOD"
	FeedbackInterventionBad  FeedbackKind = "INTERVENTION_BAD"
)

// Valid reports whether k is a known kind.
func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackHelpful, FeedbackNotHelpful, FeedbackInaccurate, FeedbackInterventionGood, FeedbackInterventionBad:
		return true
	}
	return false
}

// AboutIntervention reports whether the kind judges an intervention.
func (k FeedbackKind) AboutIntervention() bool {
	return k == FeedbackInterventionGood || k == FeedbackInterventionBad
}

// Feedback is a write-once learner judgment.
type Feedback struct {
	ID             string       `json:"id"`
	PredictionID   string       `json:"prediction_id"`
	InterventionID string       `json:"intervention_id,omitempty"`
	LearnerID      string       `json:"learner_id"`
	Kind           FeedbackKind `json:"kind" validate:"required"`
	Rating         *int         `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Comment        string       `json:"comment,omitempty" validate:"max=2000"`
	ActualStruggle *bool        `json:"actual_struggle,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Validate checks the record invariants.
func (f *Feedback) Validate() error {
	if err := feedbackValidate.Struct(f); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("feedback: unknown kind %q", f.Kind)
	}
	if f.Rating != nil && (*f.Rating < 1 || *f.Rating > 5) {
		return fmt.Errorf("feedback: rating %d out of [1,5]", *f.Rating)
	}
	if f.Kind.AboutIntervention() && f.InterventionID == "" {
		return fmt.Errorf("feedback: %s requires an intervention", f.Kind)
	}
	return nil
}

// ImpliedOutcome returns the struggle outcome the feedback asserts, if any.
// An explicit actual outcome wins; INACCURATE on its own means the
// predicted struggle did not happen.
func (f *Feedback) ImpliedOutcome() (bool, bool) {
	if f.ActualStruggle != nil {
		return *f.ActualStruggle, true
	}
	if f.Kind == FeedbackInaccurate {
		return false, true
	}
	return false, false
}
