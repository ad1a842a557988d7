package detection

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/struggle"
)

// RetryConfig configures persistence retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=5"`
	InitialWait time.Duration `yaml:"initial_wait" validate:"gte=0"`
	MaxWait     time.Duration `yaml:"max_wait" validate:"gtefield=InitialWait"`
	Multiplier  float64       `yaml:"multiplier" validate:"gte=1"`
}

// DefaultRetryConfig allows one retry after a short wait.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2,
	}
}

// persist runs fn, retrying persistence write failures with exponential
// backoff and jitter. Every other error is returned at once.
func (s *Service) persist(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range s.cfg.Retry.MaxAttempts {
		err := fn()
		if err == nil {
			if attempt > 0 {
				metrics.PersistRetries.WithLabelValues("recovered").Inc()
			}
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == s.cfg.Retry.MaxAttempts-1 {
			break
		}

		wait := s.cfg.Retry.backoff(attempt)
		s.log.WithError(err).WithField("wait", wait).Warn("persistence write failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if s.cfg.Retry.MaxAttempts > 1 {
		metrics.PersistRetries.WithLabelValues("failed").Inc()
	}
	return lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, struggle.ErrPersistenceWrite)
}

// backoff computes the wait before the retry that follows attempt.
func (c RetryConfig) backoff(attempt int) time.Duration {
	wait := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(attempt))
	if wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}

	// ±20% jitter.
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
