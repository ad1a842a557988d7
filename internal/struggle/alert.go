package struggle

import (
	"time"

	"github.com/abhisek/foresight/internal/features"
)

// AlertSource is the run that emitted an alert.
type AlertSource string

const (
	AlertBatch    AlertSource = "batch"
	AlertOnDemand AlertSource = "on_demand"
	AlertRealtime AlertSource = "realtime"
)

// Alert notifies a learner about an imminent struggle.
type Alert struct {
	ID           string      `json:"id"`
	LearnerID    string      `json:"learner_id"`
	PredictionID string      `json:"prediction_id,omitempty"`
	ObjectiveID  string      `json:"objective_id,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	Source       AlertSource `json:"source"`
	Severity     Severity    `json:"severity"`
	Urgency      float64     `json:"urgency"`
	Message      string      `json:"message"`
	Notified     bool        `json:"notified"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Outcome is one labeled observation: what was predicted for a
// (learner, objective) and whether the learner actually struggled. Every
// resolution writes one, including negatives that were never persisted as
// predictions, so the confusion matrix has true negatives.
type Outcome struct {
	ID           string          `json:"id"`
	LearnerID    string          `json:"learner_id"`
	ObjectiveID  string          `json:"objective_id"`
	Topic        string          `json:"topic,omitempty"`
	PredictionID string          `json:"prediction_id,omitempty"`
	Probability  float64         `json:"probability"`
	Predicted    bool            `json:"predicted"` // probability at or above the threshold
	Actual       bool            `json:"actual"`
	Features     features.Vector `json:"features"`
	Model        string          `json:"model"`
	Intervened   bool            `json:"intervened"` // an intervention was applied beforehand
	RecordedAt   time.Time       `json:"recorded_at"`
}
