package curriculum

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an objective does not exist.
var ErrNotFound = errors.New("objective not found")

// Format is the delivery format of an objective's content.
type Format string

const (
	FormatText      Format = "text"
	FormatVideo     Format = "video"
	FormatFlashcard Format = "flashcard"
	FormatPractice  Format = "practice"
	FormatLecture   Format = "lecture"
	FormatDiagram   Format = "diagram"
)

// Objective is a single learning objective.
type Objective struct {
	ID               string     `json:"id" yaml:"id"`
	Title            string     `json:"title" yaml:"title"`
	Topic            string     `json:"topic" yaml:"topic"`
	Difficulty       *float64   `json:"difficulty,omitempty" yaml:"difficulty"` // 0.0–1.0, nil when unrated
	Format           Format     `json:"format,omitempty" yaml:"format"`
	EstimatedMinutes int        `json:"estimated_minutes,omitempty" yaml:"estimated_minutes"`
	DueDate          *time.Time `json:"due_date,omitempty" yaml:"due_date"`
}

// Edge is a "requires" relation: ObjectiveID requires RequiresID.
type Edge struct {
	ObjectiveID string `json:"objective_id" yaml:"objective"`
	RequiresID  string `json:"requires_id" yaml:"requires"`
}

// Scheduled is an objective that a learner has planned for a date.
type Scheduled struct {
	Objective   Objective
	ScheduledAt time.Time
}

// Graph is read-only access to objectives and their prerequisite edges.
type Graph interface {
	// Objective returns the objective, or ErrNotFound.
	Objective(ctx context.Context, id string) (*Objective, error)

	// Prerequisites returns the objectives id directly requires.
	Prerequisites(ctx context.Context, id string) ([]Objective, error)

	// Upcoming returns the learner's planned objectives in [from, to].
	Upcoming(ctx context.Context, learnerID string, from, to time.Time) ([]Scheduled, error)
}
