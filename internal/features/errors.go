package features

import (
	"errors"
	"fmt"
)

// ErrInsufficientContext is the sentinel matched by errors.Is for every
// *InsufficientContextError.
var ErrInsufficientContext = errors.New("insufficient context")

// InsufficientContextError means the learner or objective does not exist.
// Sparse data never produces it.
type InsufficientContextError struct {
	LearnerID   string
	ObjectiveID string
	Err         error
}

func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("insufficient context for learner %q objective %q: %v", e.LearnerID, e.ObjectiveID, e.Err)
}

func (e *InsufficientContextError) Unwrap() error { return e.Err }

func (e *InsufficientContextError) Is(target error) bool { return target == ErrInsufficientContext }

// UpstreamDataUnavailableError records a collaborator read that failed during
// extraction. The affected family degrades to neutral defaults.
type UpstreamDataUnavailableError struct {
	Family Family
	Source string
	Err    error
}

func (e *UpstreamDataUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable for %s features: %v", e.Source, e.Family, e.Err)
}

func (e *UpstreamDataUnavailableError) Unwrap() error { return e.Err }
