package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/accuracy"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/plan"
	"github.com/abhisek/foresight/internal/reduction"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

// PredictionList is a page of predictions with per-status counts over
// every prediction the filter matches, ignoring its status and limit.
type PredictionList struct {
	Predictions []struggle.Prediction   `json:"predictions"`
	Counts      map[struggle.Status]int `json:"counts"`
	Total       int                     `json:"total"`
}

// ListPredictions reads a learner's predictions from every storage tier.
func (s *Service) ListPredictions(ctx context.Context, learnerID string, f store.PredictionFilter) (*PredictionList, error) {
	if err := s.requireLearner(ctx, learnerID); err != nil {
		return nil, err
	}
	f.LearnerID = learnerID

	preds, err := s.d.Reader.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}

	all := f
	all.Statuses = nil
	all.Limit = 0
	every, err := s.d.Reader.List(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("count predictions: %w", err)
	}
	counts := make(map[struggle.Status]int, len(struggle.AllStatuses()))
	for _, st := range struggle.AllStatuses() {
		counts[st] = 0
	}
	for _, p := range every {
		counts[p.Status]++
	}
	if preds == nil {
		preds = []struggle.Prediction{}
	}
	return &PredictionList{Predictions: preds, Counts: counts, Total: len(every)}, nil
}

// PredictionDetail is a prediction with its indicators and interventions.
type PredictionDetail struct {
	Prediction    *struggle.Prediction      `json:"prediction"`
	Indicators    []struggle.Indicator      `json:"indicators"`
	Interventions []struggle.Recommendation `json:"interventions"`
}

// GetPrediction returns one prediction with its children. Archived
// predictions come back with whatever the archive kept.
func (s *Service) GetPrediction(ctx context.Context, id string) (*PredictionDetail, error) {
	p, err := s.d.Reader.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", id, err)
	}
	ind, err := s.d.Predictions.Indicators(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("indicators of %s: %w", id, err)
	}
	recs, err := s.d.Interventions.List(ctx, store.InterventionFilter{PredictionIDs: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("interventions of %s: %w", id, err)
	}
	return &PredictionDetail{Prediction: p, Indicators: ind, Interventions: recs}, nil
}

// SubmitFeedback records learner feedback on a prediction and returns the
// refreshed accuracy snapshot.
func (s *Service) SubmitFeedback(ctx context.Context, predictionID string, fb struggle.Feedback) (*accuracy.Metrics, error) {
	fb.PredictionID = predictionID
	m, err := s.d.Tracker.SubmitFeedback(ctx, &fb)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"prediction_id": predictionID,
		"kind":          fb.Kind,
	}).Info("feedback submitted")
	return m, nil
}

// ListInterventions returns a learner's recommendations, highest priority
// first. No statuses means every status.
func (s *Service) ListInterventions(ctx context.Context, learnerID string, statuses ...struggle.InterventionStatus) ([]struggle.Recommendation, error) {
	if err := s.requireLearner(ctx, learnerID); err != nil {
		return nil, err
	}
	recs, err := s.d.Interventions.List(ctx, store.InterventionFilter{LearnerID: learnerID, Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", err)
	}
	if recs == nil {
		recs = []struggle.Recommendation{}
	}
	return recs, nil
}

// ApplyResult reports an applied intervention.
type ApplyResult struct {
	Success      bool                     `json:"success"`
	Intervention *struggle.Recommendation `json:"intervention"`
	PlanItemIDs  []string                 `json:"plan_item_ids"`
}

// ApplyIntervention hands a PENDING recommendation to the plan composer and
// marks it APPLIED. Inserted items are ordered before targetPlanItemID when
// one is given.
func (s *Service) ApplyIntervention(ctx context.Context, interventionID, targetPlanItemID string) (*ApplyResult, error) {
	now := s.now().UTC()
	rec, err := s.d.Interventions.Get(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("intervention %s: %w", interventionID, err)
	}
	if rec.Status != struggle.InterventionPending {
		return nil, &struggle.TransitionError{Kind: "intervention", ID: rec.ID, From: string(rec.Status), To: string(struggle.InterventionApplied)}
	}
	log := s.log.WithFields(logrus.Fields{
		"intervention_id": rec.ID,
		"learner_id":      rec.LearnerID,
		"type":            rec.Type,
	})

	ids, err := s.compose(ctx, rec, targetPlanItemID, now)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", rec.Type, err)
	}

	from := rec.Status
	if err := rec.Transition(struggle.InterventionApplied, now); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		rec.PlanItemID = ids[0]
	}
	if err := s.persist(ctx, func() error { return s.d.Interventions.Update(ctx, rec, from) }); err != nil {
		log.WithError(err).Error("plan changed but intervention not marked applied")
		return nil, err
	}

	log.WithField("plan_items", len(ids)).Info("intervention applied")
	return &ApplyResult{Success: true, Intervention: rec, PlanItemIDs: ids}, nil
}

// compose translates a recommendation into composer calls and returns the
// ids of the plan items it inserted or changed.
func (s *Service) compose(ctx context.Context, rec *struggle.Recommendation, before string, now time.Time) ([]string, error) {
	at := now
	if rec.ScheduledFor != nil {
		at = rec.ScheduledFor.UTC()
	}
	target := rec.TargetObjectiveID
	if target == "" {
		target = rec.ObjectiveID
	}
	item := func(kind plan.Kind, objectiveID string, when time.Time) plan.Item {
		return plan.Item{
			LearnerID:       rec.LearnerID,
			ObjectiveID:     objectiveID,
			Kind:            kind,
			ScheduledFor:    when,
			DurationMinutes: s.cfg.ItemMinutes,
			InterventionID:  rec.ID,
			BeforeItemID:    before,
		}
	}
	insert := func(items ...plan.Item) ([]string, error) {
		var ids []string
		for _, it := range items {
			id, err := s.d.Composer.InsertItem(ctx, it)
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	switch rec.Type {
	case struggle.InterventionPrerequisiteReview:
		return insert(item(plan.KindPrerequisiteReview, target, at))

	case struggle.InterventionDifficultyStaging:
		return insert(item(plan.KindStagedPractice, target, at))

	case struggle.InterventionFormatSubstitution:
		return insert(item(plan.KindAlternateFormat, target, at))

	case struggle.InterventionReviewBoost:
		offsets := rec.ReviewOffsetsDays
		if len(offsets) == 0 {
			offsets = []int{1}
		}
		items := make([]plan.Item, 0, len(offsets))
		for _, d := range offsets {
			it := item(plan.KindReview, target, at.AddDate(0, 0, d))
			it.BeforeItemID = ""
			items = append(items, it)
		}
		return insert(items...)

	case struggle.InterventionLoadReduction, struggle.InterventionBreakScheduling:
		id, err := s.d.Composer.AdjustDuration(ctx, plan.Adjustment{
			LearnerID:         rec.LearnerID,
			ObjectiveID:       rec.ObjectiveID,
			InterventionID:    rec.ID,
			DurationFactor:    rec.DurationFactor,
			BreakEveryMinutes: rec.BreakEveryMinutes,
		})
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}
	return nil, fmt.Errorf("unknown intervention type %q", rec.Type)
}

// CompleteIntervention closes an APPLIED recommendation. effectiveness,
// when given, overrides the value derived from the outcome.
func (s *Service) CompleteIntervention(ctx context.Context, interventionID string, effectiveness *float64) (*struggle.Recommendation, error) {
	rec, err := s.d.Interventions.Get(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("intervention %s: %w", interventionID, err)
	}
	from := rec.Status
	if err := rec.Transition(struggle.InterventionCompleted, s.now()); err != nil {
		return nil, err
	}
	if effectiveness != nil {
		e := features.Clamp01(*effectiveness)
		rec.Effectiveness = &e
	}
	if err := s.persist(ctx, func() error { return s.d.Interventions.Update(ctx, rec, from) }); err != nil {
		return nil, err
	}
	return rec, nil
}

// DismissIntervention drops a recommendation the learner declined.
func (s *Service) DismissIntervention(ctx context.Context, interventionID string) (*struggle.Recommendation, error) {
	rec, err := s.d.Interventions.Get(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("intervention %s: %w", interventionID, err)
	}
	from := rec.Status
	if err := rec.Transition(struggle.InterventionDismissed, s.now()); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, func() error { return s.d.Interventions.Update(ctx, rec, from) }); err != nil {
		return nil, err
	}
	return rec, nil
}

// ModelPerformance returns the accuracy tracker's current snapshot.
func (s *Service) ModelPerformance(ctx context.Context) (*accuracy.Metrics, error) {
	return s.d.Tracker.Performance(ctx)
}

// StruggleReduction reports the struggle rate before and after
// intervention adoption. An empty learner id pools every learner.
func (s *Service) StruggleReduction(ctx context.Context, learnerID string, period time.Duration) (*reduction.Metrics, error) {
	if learnerID != "" {
		if err := s.requireLearner(ctx, learnerID); err != nil {
			return nil, err
		}
	}
	return s.d.Reduction.Analyze(ctx, learnerID, period)
}

// ListAlerts returns a learner's recent alerts, newest first.
func (s *Service) ListAlerts(ctx context.Context, learnerID string, since time.Time, limit int) ([]struggle.Alert, error) {
	if err := s.requireLearner(ctx, learnerID); err != nil {
		return nil, err
	}
	alerts, err := s.d.Alerts.List(ctx, learnerID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if alerts == nil {
		alerts = []struggle.Alert{}
	}
	return alerts, nil
}

// ObservedOutcome is what the plan composer reports once a planned item is
// done. PlanItemID alone is enough when the item is known to the plan.
type ObservedOutcome struct {
	LearnerID   string    `json:"learner_id"`
	ObjectiveID string    `json:"objective_id"`
	PlanItemID  string    `json:"plan_item_id,omitempty"`
	Struggled   bool      `json:"struggled"`
	At          time.Time `json:"at"`
}

// OutcomeResult reports how an observed outcome was recorded. Prediction is
// nil for a true negative that had no prediction.
type OutcomeResult struct {
	Prediction *struggle.Prediction `json:"prediction,omitempty"`
	Status     struggle.Status      `json:"status,omitempty"`
	Predicted  bool                 `json:"predicted"`
}

// RecordOutcome is the outcome-capture hook. It resolves the unit's PENDING
// prediction, or, when there is none, labels the unit from a fresh score:
// a struggle becomes a MISSED prediction, no struggle a true negative.
func (s *Service) RecordOutcome(ctx context.Context, o ObservedOutcome) (*OutcomeResult, error) {
	if o.At.IsZero() {
		o.At = s.now()
	}
	o.At = o.At.UTC()

	if o.PlanItemID != "" && s.d.Plan != nil {
		item, err := s.d.Plan.CompleteItem(ctx, o.PlanItemID, o.Struggled, o.At)
		if err != nil {
			return nil, fmt.Errorf("complete plan item %s: %w", o.PlanItemID, err)
		}
		if o.LearnerID == "" {
			o.LearnerID = item.LearnerID
		}
		if o.ObjectiveID == "" {
			o.ObjectiveID = item.ObjectiveID
		}
	}
	if o.LearnerID == "" || o.ObjectiveID == "" {
		return nil, &struggle.InsufficientContextError{LearnerID: o.LearnerID, ObjectiveID: o.ObjectiveID,
			Err: errors.New("outcome needs a learner and an objective")}
	}
	if err := s.requireLearner(ctx, o.LearnerID); err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"learner_id": o.LearnerID, "objective_id": o.ObjectiveID})

	res := &OutcomeResult{}
	p, err := s.d.Predictions.LatestPending(ctx, o.LearnerID, o.ObjectiveID)
	if err != nil {
		return nil, fmt.Errorf("find pending prediction: %w", err)
	}
	if p != nil {
		if err := s.d.Tracker.Resolve(ctx, p, o.Struggled, o.At); err != nil {
			return nil, err
		}
		res.Prediction = p
		res.Status = p.Status
		res.Predicted = true
	} else {
		ex, err := s.d.Extractor.ExtractWith(ctx, o.LearnerID, o.ObjectiveID, features.Options{AsOf: o.At})
		if err != nil {
			return nil, err
		}
		p = s.score(o.LearnerID, ex, o.At)
		if err := s.d.Tracker.RecordUnpredicted(ctx, p, o.Struggled, o.At); err != nil {
			return nil, err
		}
		if o.Struggled && p.ID != "" {
			res.Prediction = p
			res.Status = p.Status
		}
	}

	if s.d.Topics != nil && p.Topic != "" {
		if err := s.d.Topics.RecordTopicOutcome(ctx, o.LearnerID, p.Topic, o.Struggled, o.At); err != nil {
			log.WithError(err).Warn("topic outcome not recorded")
		}
	}
	if err := errors.Join(
		s.d.Extractor.InvalidateBehavior(ctx, o.LearnerID),
		s.d.Extractor.InvalidatePerformance(ctx, o.LearnerID, o.ObjectiveID),
	); err != nil {
		log.WithError(err).Warn("invalidate cached features")
	}

	log.WithFields(logrus.Fields{
		"struggled": o.Struggled,
		"status":    res.Status,
	}).Info("outcome recorded")
	return res, nil
}
