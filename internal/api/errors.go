package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/accuracy"
	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/reduction"
	"github.com/abhisek/foresight/internal/struggle"
)

// Error codes.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeInsufficientContext  = "INSUFFICIENT_CONTEXT"
	CodeInsufficientTraining = "INSUFFICIENT_TRAINING_DATA"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodePersistence          = "PERSISTENCE_FAILED"
	CodeInternal             = "INTERNAL"
)

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, struggle.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, struggle.ErrInsufficientContext):
		if errors.Is(err, learner.ErrNotFound) || errors.Is(err, curriculum.ErrNotFound) {
			return http.StatusNotFound, CodeInsufficientContext
		}
		return http.StatusUnprocessableEntity, CodeInsufficientContext
	case errors.Is(err, struggle.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, struggle.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, accuracy.ErrInvalidFeedback), errors.Is(err, reduction.ErrInvalidPeriod):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, struggle.ErrInsufficientTrainingData):
		return http.StatusUnprocessableEntity, CodeInsufficientTraining
	case errors.Is(err, struggle.ErrPersistenceWrite):
		return http.StatusServiceUnavailable, CodePersistence
	}
	return http.StatusInternalServerError, CodeInternal
}

// abort writes the error response for err and logs server-side failures.
func abort(c *gin.Context, log logrus.FieldLogger, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var rl *struggle.RateLimitExceededError
	if errors.As(err, &rl) {
		reset := rl.ResetAt.UTC()
		resp.ResetAt = &reset
		secs := int(time.Until(reset).Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}

	entry := log.WithFields(logrus.Fields{"status": status, "code": code}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, log logrus.FieldLogger, err error) {
	log.WithError(err).Debug("invalid request")
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: fmt.Sprintf("invalid request: %v", err),
		Code:  CodeInvalidRequest,
	})
}
