package api

import (
	"time"

	"github.com/abhisek/foresight/internal/struggle"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// ResetAt is set on RATE_LIMITED responses.
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Model        string `json:"model"`
	ModelVersion string `json:"model_version"`
}

// GenerateRequest is the optional body of POST /v1/learners/:id/predictions.
type GenerateRequest struct {
	DaysAhead int `json:"days_ahead" binding:"omitempty,gte=1,lte=14"`
}

// ListPredictionsQuery binds GET /v1/learners/:id/predictions.
type ListPredictionsQuery struct {
	Status         []string `form:"status" binding:"dive,oneof=PENDING CONFIRMED FALSE_POSITIVE MISSED"`
	ObjectiveID    string   `form:"objective_id"`
	MinProbability *float64 `form:"min_probability" binding:"omitempty,gte=0,lte=1"`
	MaxProbability *float64 `form:"max_probability" binding:"omitempty,gte=0,lte=1"`
	From           string   `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To             string   `form:"to" binding:"omitempty,datetime=2006-01-02"`
	Limit          int      `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

// FeedbackRequest is the body of POST /v1/predictions/:id/feedback.
type FeedbackRequest struct {
	Kind           struggle.FeedbackKind `json:"kind" binding:"required,oneof=HELPFUL NOT_HELPFUL INACCURATE INTERVENTION_GOOD INTERVENTION_BAD"`
	InterventionID string                `json:"intervention_id"`
	LearnerID      string                `json:"learner_id"`
	Rating         *int                  `json:"rating" binding:"omitempty,min=1,max=5"`
	Comment        string                `json:"comment" binding:"max=2000"`
	ActualStruggle *bool                 `json:"actual_struggle"`
}

// ListInterventionsQuery binds GET /v1/learners/:id/interventions.
type ListInterventionsQuery struct {
	Status []string `form:"status" binding:"dive,oneof=PENDING APPLIED COMPLETED DISMISSED"`
}

// ApplyRequest is the optional body of POST /v1/interventions/:id/apply.
type ApplyRequest struct {
	TargetPlanItemID string `json:"target_plan_item_id"`
}

// CompleteRequest is the optional body of POST /v1/interventions/:id/complete.
type CompleteRequest struct {
	Effectiveness *float64 `json:"effectiveness" binding:"omitempty,gte=0,lte=1"`
}

// ReductionQuery binds GET /v1/learners/:id/reduction and
// GET /v1/reduction.
type ReductionQuery struct {
	PeriodDays int `form:"period_days" binding:"omitempty,gte=1,lte=365"`
}

// AlertsQuery binds GET /v1/learners/:id/alerts.
type AlertsQuery struct {
	Since string `form:"since" binding:"omitempty,datetime=2006-01-02"`
	Limit int    `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

// OutcomeRequest is the body of POST /v1/outcomes.
type OutcomeRequest struct {
	LearnerID   string    `json:"learner_id" binding:"required_without=PlanItemID"`
	ObjectiveID string    `json:"objective_id" binding:"required_without=PlanItemID"`
	PlanItemID  string    `json:"plan_item_id"`
	Struggled   *bool     `json:"struggled" binding:"required"`
	At          time.Time `json:"at"`
}
