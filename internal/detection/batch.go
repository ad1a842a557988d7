package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/struggle"
)

// Score is the probability computed for one unit, persisted or not.
type Score struct {
	ObjectiveID string  `json:"objective_id"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Persisted   bool    `json:"persisted"`
}

// SkippedUnit is a (learner, objective) unit a run could not finish.
type SkippedUnit struct {
	LearnerID   string `json:"learner_id"`
	ObjectiveID string `json:"objective_id"`
	Stage       string `json:"stage"`
	Error       string `json:"error"`
}

// RunResult is the outcome of a detection run for one learner.
type RunResult struct {
	RunID         string                    `json:"run_id"`
	LearnerID     string                    `json:"learner_id"`
	Source        struggle.Source           `json:"source"`
	Predictions   []struggle.Prediction     `json:"predictions"`
	Indicators    []struggle.Indicator      `json:"indicators,omitempty"`
	Interventions []struggle.Recommendation `json:"interventions,omitempty"`
	Alerts        []struggle.Alert          `json:"alerts"`
	Scores        []Score                   `json:"scores"`
	Skipped       []SkippedUnit             `json:"skipped,omitempty"`
	Warnings      []string                  `json:"warnings,omitempty"`
	// QuotaRemaining is the learner's on-demand runs left today.
	QuotaRemaining *int      `json:"quota_remaining,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// BatchReport summarizes a daily run over every learner.
type BatchReport struct {
	RunID       string        `json:"run_id"`
	Learners    int           `json:"learners"`
	Evaluated   int           `json:"evaluated"`
	Predictions int           `json:"predictions"`
	Alerts      int           `json:"alerts"`
	Skipped     []SkippedUnit `json:"skipped,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// unitResult is one evaluated (learner, objective) unit.
type unitResult struct {
	prediction    *struggle.Prediction
	indicators    []struggle.Indicator
	interventions []struggle.Recommendation
	score         Score
	persisted     bool
}

// stageError tags a unit failure with the pipeline stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// RunBatch runs detection for every learner. A failing learner or unit is
// logged and skipped; the run itself only fails when learners cannot be
// listed.
func (s *Service) RunBatch(ctx context.Context) (*BatchReport, error) {
	start := s.now().UTC()
	timer := time.Now()
	report := &BatchReport{RunID: s.newID(), StartedAt: start}
	log := s.log.WithField("run_id", report.RunID)

	learners, err := s.d.Learners.Learners(ctx)
	if err != nil {
		metrics.Runs.WithLabelValues("batch", "error").Inc()
		return nil, fmt.Errorf("list learners: %w", err)
	}
	report.Learners = len(learners)

	for _, id := range learners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.run(ctx, id, s.cfg.HorizonDays, struggle.SourceBatch)
		if err != nil {
			log.WithField("learner_id", id).WithError(err).Warn("learner skipped")
			report.Skipped = append(report.Skipped, SkippedUnit{LearnerID: id, Stage: "learner", Error: err.Error()})
			metrics.SkippedUnits.WithLabelValues("learner").Inc()
			continue
		}
		report.Evaluated += len(res.Scores)
		report.Predictions += len(res.Predictions)
		report.Alerts += len(res.Alerts)
		report.Skipped = append(report.Skipped, res.Skipped...)
		report.Warnings = append(report.Warnings, res.Warnings...)
	}

	report.FinishedAt = s.now().UTC()
	metrics.RunDuration.WithLabelValues("batch").Observe(time.Since(timer).Seconds())
	metrics.Runs.WithLabelValues("batch", "ok").Inc()
	log.WithFields(logrus.Fields{
		"learners":    report.Learners,
		"evaluated":   report.Evaluated,
		"predictions": report.Predictions,
		"alerts":      report.Alerts,
		"skipped":     len(report.Skipped),
	}).Info("batch run finished")
	return report, nil
}

// GeneratePredictions runs the batch pipeline for one learner over the
// next daysAhead days. Zero uses the configured horizon.
func (s *Service) GeneratePredictions(ctx context.Context, learnerID string, daysAhead int) (*RunResult, error) {
	timer := time.Now()
	res, err := s.run(ctx, learnerID, daysAhead, struggle.SourceBatch)
	metrics.RunDuration.WithLabelValues("learner").Observe(time.Since(timer).Seconds())
	if err != nil {
		metrics.Runs.WithLabelValues("learner", "error").Inc()
		return nil, err
	}
	metrics.Runs.WithLabelValues("learner", "ok").Inc()
	return res, nil
}

func (s *Service) horizon(daysAhead int) int {
	switch {
	case daysAhead <= 0:
		return s.cfg.HorizonDays
	case daysAhead > MaxHorizonDays:
		return MaxHorizonDays
	}
	return daysAhead
}

// run discovers a learner's upcoming objectives and evaluates them with
// bounded concurrency.
func (s *Service) run(ctx context.Context, learnerID string, daysAhead int, source struggle.Source) (*RunResult, error) {
	now := s.now().UTC()
	res := &RunResult{RunID: s.newID(), LearnerID: learnerID, Source: source, StartedAt: now}
	log := s.log.WithFields(logrus.Fields{"run_id": res.RunID, "learner_id": learnerID})

	if err := s.requireLearner(ctx, learnerID); err != nil {
		return nil, err
	}
	days := s.horizon(daysAhead)
	upcoming, err := s.d.Curriculum.Upcoming(ctx, learnerID, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("discover upcoming objectives: %w", err)
	}

	var (
		mu    sync.Mutex
		units []*unitResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, sched := range upcoming {
		g.Go(func() error {
			u, err := s.evaluate(gctx, learnerID, sched, source, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.skip(log, res, learnerID, sched.Objective.ID, err)
				return nil
			}
			units = append(units, u)
			return nil
		})
	}
	_ = g.Wait()

	// Workers finish in any order.
	sort.Slice(units, func(i, j int) bool { return units[i].score.ObjectiveID < units[j].score.ObjectiveID })
	s.collect(res, units)

	alerts, err := s.emitAlerts(ctx, now, struggle.AlertBatch, units)
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		log.WithError(err).Warn("alerts not persisted")
	}
	res.Alerts = alerts
	res.FinishedAt = s.now().UTC()

	log.WithFields(logrus.Fields{
		"horizon_days": days,
		"evaluated":    len(res.Scores),
		"predictions":  len(res.Predictions),
		"alerts":       len(res.Alerts),
		"skipped":      len(res.Skipped),
	}).Debug("learner run finished")
	return res, nil
}

func (s *Service) requireLearner(ctx context.Context, learnerID string) error {
	if _, err := s.d.Profiles.Profile(ctx, learnerID); err != nil {
		if errors.Is(err, learner.ErrNotFound) {
			return &struggle.InsufficientContextError{LearnerID: learnerID, Err: err}
		}
		return fmt.Errorf("load learner %s: %w", learnerID, err)
	}
	return nil
}

func (s *Service) skip(log logrus.FieldLogger, res *RunResult, learnerID, objectiveID string, err error) {
	stage := "evaluate"
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	unit := SkippedUnit{LearnerID: learnerID, ObjectiveID: objectiveID, Stage: stage, Error: err.Error()}
	res.Skipped = append(res.Skipped, unit)
	if errors.Is(err, struggle.ErrPersistenceWrite) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("prediction for %s not persisted: %v", objectiveID, err))
	}
	metrics.SkippedUnits.WithLabelValues(stage).Inc()
	log.WithFields(logrus.Fields{"objective_id": objectiveID, "stage": stage}).WithError(err).Warn("unit skipped")
}

func (s *Service) collect(res *RunResult, units []*unitResult) {
	for _, u := range units {
		res.Scores = append(res.Scores, u.score)
		if !u.persisted {
			continue
		}
		res.Predictions = append(res.Predictions, *u.prediction)
		res.Indicators = append(res.Indicators, u.indicators...)
		res.Interventions = append(res.Interventions, u.interventions...)
	}
}

// evaluate runs extract, predict, and when the probability clears the
// threshold, derive indicators, recommend interventions and persist.
func (s *Service) evaluate(ctx context.Context, learnerID string, sched curriculum.Scheduled, source struggle.Source, refresh bool) (*unitResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	now := s.now().UTC()
	ex, err := s.d.Extractor.ExtractWith(ctx, learnerID, sched.Objective.ID, features.Options{AsOf: now, Refresh: refresh})
	if err != nil {
		return nil, &stageError{stage: "extract", err: err}
	}

	p := s.score(learnerID, ex, now)
	p.Source = source
	p.DueDate = dueDate(ex.Objective, sched.ScheduledAt)
	u := &unitResult{
		prediction: p,
		score:      Score{ObjectiveID: p.ObjectiveID, Probability: p.Probability, Confidence: p.Confidence},
	}
	if p.Probability < s.cfg.MinProbability {
		return u, nil
	}

	ind := struggle.DeriveIndicators(p, s.cfg.TopFactors, ex.Gaps, now)
	for i := range ind {
		ind[i].ID = s.newID()
	}
	recs := s.d.Engine.Recommend(p, ind)

	var saved bool
	err = s.persist(ctx, func() error {
		r, err := s.d.Predictions.Save(ctx, p, ind, recs)
		if err != nil {
			return err
		}
		saved = !r.Kept
		u.prediction = r.Prediction
		u.indicators = r.Indicators
		u.interventions = r.Interventions
		if len(r.Superseded) > 0 {
			s.log.WithFields(logrus.Fields{
				"learner_id":   p.LearnerID,
				"objective_id": p.ObjectiveID,
				"superseded":   len(r.Superseded),
			}).Debug("earlier pending predictions superseded")
		}
		return nil
	})
	if err != nil {
		return nil, &stageError{stage: "persist", err: err}
	}
	if saved {
		u.persisted = true
		u.score.Persisted = true
		metrics.Predictions.WithLabelValues(p.Model).Inc()
	}
	return u, nil
}

// score builds an unsaved PENDING prediction from an extraction.
func (s *Service) score(learnerID string, ex *features.Extraction, now time.Time) *struggle.Prediction {
	r := s.d.Registry.Active().Predict(ex.Vector)
	return &struggle.Prediction{
		ID:           s.newID(),
		LearnerID:    learnerID,
		ObjectiveID:  ex.Objective.ID,
		Topic:        ex.Objective.Topic,
		AsOf:         struggle.AsOfDate(now),
		DueDate:      ex.Objective.DueDate,
		Probability:  r.Probability,
		Confidence:   r.Confidence,
		Status:       struggle.StatusPending,
		Features:     ex.Vector,
		Factors:      r.Factors,
		Model:        r.Model,
		ModelVersion: r.Version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// dueDate prefers the objective's own due date, then its planned slot.
func dueDate(o curriculum.Objective, scheduled time.Time) *time.Time {
	if o.DueDate != nil {
		t := o.DueDate.UTC()
		return &t
	}
	if scheduled.IsZero() {
		return nil
	}
	t := scheduled.UTC()
	return &t
}

// Urgency ranks alerts: 0.4 probability, 0.3 closeness of the due date,
// 0.2 the most severe indicator and 0.1 cognitive load.
func Urgency(p *struggle.Prediction, ind []struggle.Indicator, now time.Time) float64 {
	days := float64(MaxHorizonDays)
	if p.DueDate != nil {
		days = p.DueDate.Sub(now).Hours() / 24
	}
	days = min(max(days, 0), MaxHorizonDays)
	byDue := 1 - days/MaxHorizonDays

	load := 0.0
	if p.Features.IsObserved(features.CognitiveLoad) {
		load = p.Features.Get(features.CognitiveLoad)
	}
	return 0.4*p.Probability + 0.3*byDue + 0.2*struggle.MaxSeverity(ind).Weight() + 0.1*load
}

// emitAlerts ranks the persisted units by urgency, stores the top
// MaxAlerts as alerts and notifies the learner.
func (s *Service) emitAlerts(ctx context.Context, now time.Time, source struggle.AlertSource, units []*unitResult) ([]struggle.Alert, error) {
	var alerts []struggle.Alert
	for _, u := range units {
		if !u.persisted {
			continue
		}
		p := u.prediction
		sev := struggle.MaxSeverity(u.indicators)
		if sev == "" {
			sev = struggle.SeverityLow
		}
		alerts = append(alerts, struggle.Alert{
			ID:           s.newID(),
			LearnerID:    p.LearnerID,
			PredictionID: p.ID,
			ObjectiveID:  p.ObjectiveID,
			Source:       source,
			Severity:     sev,
			Urgency:      Urgency(p, u.indicators, now),
			Message:      alertMessage(p, u.indicators),
			CreatedAt:    now,
		})
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Urgency != alerts[j].Urgency {
			return alerts[i].Urgency > alerts[j].Urgency
		}
		return alerts[i].ObjectiveID < alerts[j].ObjectiveID
	})
	if len(alerts) > s.cfg.MaxAlerts {
		alerts = alerts[:s.cfg.MaxAlerts]
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	if err := s.persist(ctx, func() error { return s.d.Alerts.Insert(ctx, alerts...) }); err != nil {
		return alerts, fmt.Errorf("persist alerts: %w", err)
	}
	for i := range alerts {
		metrics.Alerts.WithLabelValues(string(source), string(alerts[i].Severity)).Inc()
		if err := s.d.Notifier.Notify(ctx, alerts[i]); err != nil {
			s.log.WithField("alert_id", alerts[i].ID).WithError(err).Warn("alert delivery failed")
			continue
		}
		if err := s.d.Alerts.MarkNotified(ctx, alerts[i].ID); err != nil {
			s.log.WithField("alert_id", alerts[i].ID).WithError(err).Warn("mark alert notified")
			continue
		}
		alerts[i].Notified = true
	}
	return alerts, nil
}

func alertMessage(p *struggle.Prediction, ind []struggle.Indicator) string {
	msg := fmt.Sprintf("%.0f%% risk of struggling with %s", p.Probability*100, p.ObjectiveID)
	if p.DueDate != nil {
		msg += " due " + p.DueDate.Format(struggle.DateLayout)
	}
	if len(ind) > 0 {
		msg += ": " + ind[0].Description
	}
	return msg
}
