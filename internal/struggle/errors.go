package struggle

import (
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/model"
)

// The extraction and training errors are owned by the packages that raise
// them; they are re-exported here so callers can match the whole taxonomy
// from one place.
var (
	ErrInsufficientContext      = features.ErrInsufficientContext
	ErrInsufficientTrainingData = model.ErrInsufficientTrainingData
)

type (
	InsufficientContextError      = features.InsufficientContextError
	UpstreamDataUnavailableError  = features.UpstreamDataUnavailableError
	InsufficientTrainingDataError = model.InsufficientTrainingDataError
)

var (
	// ErrNotFound is returned when a prediction, intervention or feedback
	// record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRateLimitExceeded is the sentinel matched by errors.Is for every
	// *RateLimitExceededError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrPersistenceWrite is the sentinel matched by errors.Is for every
	// *PersistenceWriteError.
	ErrPersistenceWrite = errors.New("persistence write failed")
)

// RateLimitExceededError rejects an on-demand run over the learner's daily
// quota. It is surfaced to the caller and never retried.
type RateLimitExceededError struct {
	LearnerID string
	Limit     int
	ResetAt   time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("on-demand limit of %d runs per day reached for learner %s (resets %s)",
		e.Limit, e.LearnerID, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitExceededError) Is(target error) bool { return target == ErrRateLimitExceeded }

// PersistenceWriteError wraps a failed write to the prediction store.
type PersistenceWriteError struct {
	Op  string
	Err error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }

func (e *PersistenceWriteError) Is(target error) bool { return target == ErrPersistenceWrite }

// TransitionError describes a rejected status change.
type TransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Kind, e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
