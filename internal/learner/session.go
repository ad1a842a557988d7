package learner

import (
	"context"
	"time"
)

// Rating is the learner's self-rating of a single review.
type Rating string

const (
	RatingAgain Rating = "again"
	RatingHard  Rating = "hard"
	RatingGood  Rating = "good"
	RatingEasy  Rating = "easy"
)

// IsLapse reports whether the rating counts as a lapse.
func (r Rating) IsLapse() bool { return r == RatingAgain }

// ReviewEvent is one review inside an active study session.
type ReviewEvent struct {
	SessionID      string        `json:"session_id"`
	ObjectiveID    string        `json:"objective_id"`
	Rating         Rating        `json:"rating"`
	Duration       time.Duration `json:"duration"`
	ExpectedTime   time.Duration `json:"expected_time,omitempty"`
	ValidatorScore *float64      `json:"validator_score,omitempty"` // 0.0–1.0 answer validation score
	At             time.Time     `json:"at"`
}

// ActiveSession is the session-scoped state the real-time path reads.
type ActiveSession struct {
	SessionID     string        `json:"session_id"`
	LearnerID     string        `json:"learner_id"`
	ObjectiveID   string        `json:"objective_id,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	BaselineScore *float64      `json:"baseline_score,omitempty"` // learner's typical score for comparison
	Reviews       []ReviewEvent `json:"reviews"`                  // oldest first
}

// SessionStore gives the real-time path minimal, session-scoped reads.
type SessionStore interface {
	// ActiveSession returns the session with at most the last n reviews.
	ActiveSession(ctx context.Context, sessionID string, lastN int) (*ActiveSession, error)
}
