package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/struggle"
)

// OnDemand re-runs the batch pipeline for one objective at the learner's
// request. Runs count against a per-learner quota for the UTC day; cached
// reads specific to the objective are bypassed.
func (s *Service) OnDemand(ctx context.Context, learnerID, objectiveID string) (*RunResult, error) {
	timer := time.Now()
	now := s.now().UTC()
	log := s.log.WithFields(logrus.Fields{"learner_id": learnerID, "objective_id": objectiveID})

	if err := s.requireLearner(ctx, learnerID); err != nil {
		return nil, err
	}
	obj, err := s.d.Curriculum.Objective(ctx, objectiveID)
	if err != nil {
		if errors.Is(err, curriculum.ErrNotFound) {
			return nil, &struggle.InsufficientContextError{LearnerID: learnerID, ObjectiveID: objectiveID, Err: err}
		}
		return nil, fmt.Errorf("load objective %s: %w", objectiveID, err)
	}

	limit := s.cfg.OnDemandDailyLimit
	allowed, used, err := s.d.Quota.Consume(ctx, learnerID, struggle.AsOfDate(now), limit)
	if err != nil {
		return nil, fmt.Errorf("on-demand quota: %w", err)
	}
	if !allowed {
		metrics.RateLimited.Inc()
		metrics.Runs.WithLabelValues("on_demand", "rejected").Inc()
		day := now.Truncate(24 * time.Hour)
		log.WithField("used", used).Info("on-demand run rejected")
		return nil, &struggle.RateLimitExceededError{LearnerID: learnerID, Limit: limit, ResetAt: day.AddDate(0, 0, 1)}
	}

	if err := s.d.Extractor.InvalidatePerformance(ctx, learnerID, objectiveID); err != nil {
		log.WithError(err).Warn("invalidate cached performance")
	}

	res := &RunResult{RunID: s.newID(), LearnerID: learnerID, Source: struggle.SourceOnDemand, StartedAt: now}
	remaining := max(limit-used, 0)
	res.QuotaRemaining = &remaining

	sched := curriculum.Scheduled{Objective: *obj}
	u, err := s.evaluate(ctx, learnerID, sched, struggle.SourceOnDemand, true)
	if err != nil {
		metrics.Runs.WithLabelValues("on_demand", "error").Inc()
		var se *stageError
		if errors.As(err, &se) && se.stage == "persist" {
			// Persistence failures surface as warnings, like in the batch.
			s.skip(log, res, learnerID, objectiveID, err)
			res.FinishedAt = s.now().UTC()
			return res, nil
		}
		return nil, err
	}
	units := []*unitResult{u}
	s.collect(res, units)

	alerts, err := s.emitAlerts(ctx, now, struggle.AlertOnDemand, units)
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		log.WithError(err).Warn("alerts not persisted")
	}
	res.Alerts = alerts
	res.FinishedAt = s.now().UTC()

	metrics.RunDuration.WithLabelValues("on_demand").Observe(time.Since(timer).Seconds())
	metrics.Runs.WithLabelValues("on_demand", "ok").Inc()
	log.WithFields(logrus.Fields{
		"run_id":      res.RunID,
		"probability": u.score.Probability,
		"persisted":   u.persisted,
		"remaining":   remaining,
	}).Info("on-demand run finished")
	return res, nil
}
