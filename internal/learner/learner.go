package learner

import (
	"context"
	"errors"
	"time"

	"github.com/abhisek/foresight/internal/curriculum"
)

// ErrNotFound is returned when a learner does not exist.
var ErrNotFound = errors.New("learner not found")

// Profile is the per-learner behavioral summary.
type Profile struct {
	LearnerID        string              `json:"learner_id"`
	Name             string              `json:"name,omitempty"`
	PreferredFormats []curriculum.Format `json:"preferred_formats,omitempty"` // most preferred first
	PreferredHours   []int               `json:"preferred_hours,omitempty"`
	DecayRate        float64             `json:"decay_rate,omitempty"`      // personalized retention decay per day
	Ability          *float64            `json:"ability,omitempty"`         // 0.0–1.0, nil when unknown
	SessionMinutes   int                 `json:"session_minutes,omitempty"` // comfortable session length
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// RetentionPoint is a retention measurement at a point in time.
type RetentionPoint struct {
	At        time.Time `json:"at"`
	Retention float64   `json:"retention"`
}

// ObjectivePerformance summarizes a learner's history on one objective.
type ObjectivePerformance struct {
	ObjectiveID     string           `json:"objective_id"`
	Reviews         int              `json:"reviews"`
	Lapses          int              `json:"lapses"`
	Retention       []RetentionPoint `json:"retention,omitempty"` // oldest first
	AssessmentScore *float64         `json:"assessment_score,omitempty"`
	LastStudiedAt   *time.Time       `json:"last_studied_at,omitempty"`
}

// LatestRetention returns the most recent retention value.
func (p *ObjectivePerformance) LatestRetention() (float64, bool) {
	if p == nil || len(p.Retention) == 0 {
		return 0, false
	}
	return p.Retention[len(p.Retention)-1].Retention, true
}

// TopicSummary aggregates performance across all objectives of a topic.
type TopicSummary struct {
	Topic         string     `json:"topic"`
	Objectives    int        `json:"objectives"`
	MeanRetention float64    `json:"mean_retention"`
	Reviews       int        `json:"reviews"`
	Lapses        int        `json:"lapses"`
	LastStudiedAt *time.Time `json:"last_studied_at,omitempty"`
}

// SessionSummary is one completed study session.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	LearnerID       string    `json:"learner_id"`
	Topic           string    `json:"topic,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Score           float64   `json:"score"` // 0.0–1.0
	Reviews         int       `json:"reviews"`
	Lapses          int       `json:"lapses"`
}

// Mastery is a learner's mastery level of an objective.
type Mastery struct {
	ObjectiveID string    `json:"objective_id"`
	Level       float64   `json:"level"` // 0.0–1.0
	UpdatedAt   time.Time `json:"updated_at"`
}

// BehaviorPattern is a longer-lived aggregate of how a learner fared on a
// topic family in the past.
type BehaviorPattern struct {
	Topic        string    `json:"topic"`
	Samples      int       `json:"samples"`
	StruggleRate float64   `json:"struggle_rate"` // fraction of objectives struggled on
	UpdatedAt    time.Time `json:"updated_at"`
}

// Calendar is the learner's contextual load around a date.
type Calendar struct {
	NextAssessment      *time.Time `json:"next_assessment,omitempty"`
	PlannedMinutes      int        `json:"planned_minutes"`  // planned study minutes over the horizon
	CapacityMinutes     int        `json:"capacity_minutes"` // available study minutes over the horizon
	PlannedMinutesToday int        `json:"planned_minutes_today"`
}

// ProfileStore reads learner profiles.
type ProfileStore interface {
	// Profile returns the learner's profile, or ErrNotFound.
	Profile(ctx context.Context, learnerID string) (*Profile, error)
}

// PerformanceStore reads per-objective performance history.
type PerformanceStore interface {
	// ObjectivePerformance returns history for one objective; nil when the
	// learner has never studied it.
	ObjectivePerformance(ctx context.Context, learnerID, objectiveID string) (*ObjectivePerformance, error)

	// TopicSummary aggregates history over all objectives of a topic; nil
	// when there is none.
	TopicSummary(ctx context.Context, learnerID, topic string) (*TopicSummary, error)

	// RecentSessions returns sessions started at or after since, newest first.
	RecentSessions(ctx context.Context, learnerID string, since time.Time) ([]SessionSummary, error)

	// Mastery returns mastery levels for the given objectives. Objectives the
	// learner has no record for are absent from the map.
	Mastery(ctx context.Context, learnerID string, objectiveIDs []string) (map[string]Mastery, error)
}

// BehaviorStore reads behavioral-pattern aggregates.
type BehaviorStore interface {
	// Pattern returns the aggregate for a topic; nil when there is none.
	Pattern(ctx context.Context, learnerID, topic string) (*BehaviorPattern, error)
}

// CalendarStore reads calendar context.
type CalendarStore interface {
	Calendar(ctx context.Context, learnerID string, from, to time.Time) (*Calendar, error)
}
