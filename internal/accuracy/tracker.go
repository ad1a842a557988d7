package accuracy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

// ErrInvalidFeedback wraps every feedback rejection.
var ErrInvalidFeedback = errors.New("invalid feedback")

// Config tunes accuracy tracking and the retrain gate.
type Config struct {
	// Threshold is the probability at or above which a prediction counts
	// as a predicted struggle.
	Threshold          float64           `yaml:"threshold" validate:"gt=0,lt=1"`
	RecallFloor        float64           `yaml:"recall_floor" validate:"gte=0,lte=1"`
	NewLabelsTrigger   int               `yaml:"new_labels_trigger" validate:"gte=1"`
	RecallWindow       time.Duration     `yaml:"recall_window" validate:"gt=0"`
	CalibrationBuckets int               `yaml:"calibration_buckets" validate:"gte=2,lte=100"`
	Train              model.TrainConfig `yaml:"train"`
}

// DefaultConfig returns the default tracker settings.
func DefaultConfig() Config {
	return Config{
		Threshold:          0.5,
		RecallFloor:        0.70,
		NewLabelsTrigger:   10,
		RecallWindow:       7 * 24 * time.Hour,
		CalibrationBuckets: 10,
		Train:              model.DefaultTrainConfig(),
	}
}

// Deps are the repositories and the model registry the tracker reads and
// writes.
type Deps struct {
	Predictions   store.PredictionRepo
	Interventions store.InterventionRepo
	Outcomes      store.OutcomeRepo
	Feedback      store.FeedbackRepo
	Models        store.ModelRepo
	Registry      *model.Registry
	Log           logrus.FieldLogger
}

// Metrics is a snapshot of model performance over every labeled outcome.
type Metrics struct {
	Model              string     `json:"model"`
	ModelVersion       string     `json:"model_version"`
	Confusion          Confusion  `json:"confusion"`
	Accuracy           float64    `json:"accuracy"`
	Precision          float64    `json:"precision"`
	Recall             float64    `json:"recall"`
	F1                 float64    `json:"f1"`
	WeeklyRecall       float64    `json:"weekly_recall"`
	Calibration        []Bucket   `json:"calibration"`
	ECE                float64    `json:"expected_calibration_error"`
	LabeledExamples    int        `json:"labeled_examples"`
	NewSinceTraining   int        `json:"new_since_training"`
	LastTrainedAt      *time.Time `json:"last_trained_at,omitempty"`
	RetrainRecommended bool       `json:"retrain_recommended"`
	ComputedAt         time.Time  `json:"computed_at"`
}

// Tracker compares predictions with outcomes, keeps per-intervention
// effectiveness and owns classifier retraining.
type Tracker struct {
	d     Deps
	cfg   Config
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string

	// retrainMu serializes retraining so two runs never race to deploy.
	retrainMu sync.Mutex
}

// New creates a tracker.
func New(d Deps, cfg Config) *Tracker {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{
		d:     d,
		cfg:   cfg,
		log:   log.WithField("component", "accuracy"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Config returns the tracker settings.
func (t *Tracker) Config() Config { return t.cfg }

// Load restores the newest deployed classifier and the data-sufficiency
// flag. Without a deployed classifier the registry keeps serving rules.
func (t *Tracker) Load(ctx context.Context) error {
	run, err := t.d.Models.LatestDeployed(ctx)
	switch {
	case errors.Is(err, struggle.ErrNotFound):
		t.log.Info("no deployed classifier, serving rule-based model")
	case err != nil:
		return fmt.Errorf("load deployed classifier: %w", err)
	default:
		c, err := model.UnmarshalArtifact(run.Artifact)
		if err != nil {
			return fmt.Errorf("load classifier %s: %w", run.ID, err)
		}
		t.d.Registry.Deploy(c)
		t.log.WithFields(logrus.Fields{"version": c.Version(), "examples": c.Examples()}).Info("classifier restored")
	}
	_, err = t.refreshSufficiency(ctx)
	return err
}

func (t *Tracker) refreshSufficiency(ctx context.Context) (int, error) {
	n, err := t.d.Outcomes.Count(ctx, store.OutcomeFilter{})
	if err != nil {
		return 0, fmt.Errorf("count labeled outcomes: %w", err)
	}
	t.d.Registry.UpdateDataSufficiency(n)
	return n, nil
}

// Resolve records the observed outcome of a PENDING prediction, derives the
// effectiveness of its applied interventions and stores the labeled
// example.
func (t *Tracker) Resolve(ctx context.Context, p *struggle.Prediction, struggled bool, at time.Time) error {
	if err := p.Resolve(struggled, at); err != nil {
		return err
	}
	if err := t.d.Predictions.Resolve(ctx, p); err != nil {
		return err
	}

	recs, err := t.d.Interventions.List(ctx, store.InterventionFilter{PredictionIDs: []string{p.ID}})
	if err != nil {
		return fmt.Errorf("list interventions of %s: %w", p.ID, err)
	}
	intervened := false
	for i := range recs {
		r := &recs[i]
		if r.AppliedAt == nil {
			continue
		}
		intervened = true
		if r.Effectiveness != nil {
			continue
		}
		eff := 1.0
		if struggled {
			eff = 0
		}
		r.Effectiveness = &eff
		r.UpdatedAt = at.UTC()
		if err := t.d.Interventions.Update(ctx, r, r.Status); err != nil {
			return fmt.Errorf("record effectiveness of %s: %w", r.ID, err)
		}
	}

	o := &struggle.Outcome{
		ID:           t.newID(),
		LearnerID:    p.LearnerID,
		ObjectiveID:  p.ObjectiveID,
		Topic:        p.Topic,
		PredictionID: p.ID,
		Probability:  p.Probability,
		Predicted:    p.Probability >= t.cfg.Threshold,
		Actual:       struggled,
		Features:     p.Features,
		Model:        p.Model,
		Intervened:   intervened,
		RecordedAt:   at.UTC(),
	}
	if err := t.d.Outcomes.Insert(ctx, o); err != nil {
		return err
	}
	_, err = t.refreshSufficiency(ctx)
	return err
}

// RecordUnpredicted labels an outcome that had no PENDING prediction. p is
// the unit re-scored at outcome time. A struggle is stored as a MISSED
// prediction and counts against recall; no struggle is a true negative.
// When the unit already holds a prediction for p's as-of date only the
// outcome label is recorded and p.ID is cleared.
func (t *Tracker) RecordUnpredicted(ctx context.Context, p *struggle.Prediction, struggled bool, at time.Time) error {
	at = at.UTC()
	o := &struggle.Outcome{
		ID:          t.newID(),
		LearnerID:   p.LearnerID,
		ObjectiveID: p.ObjectiveID,
		Topic:       p.Topic,
		Probability: p.Probability,
		Actual:      struggled,
		Features:    p.Features,
		Model:       p.Model,
		RecordedAt:  at,
	}
	if struggled {
		if p.ID == "" {
			p.ID = t.newID()
		}
		p.Status = struggle.StatusMissed
		p.Source = struggle.SourceOutcome
		p.ActualOutcome = &struggled
		p.ResolvedAt = &at
		if p.CreatedAt.IsZero() {
			p.CreatedAt = at
		}
		p.UpdatedAt = at
		inserted, err := t.d.Predictions.InsertMissed(ctx, p)
		if err != nil {
			return err
		}
		if inserted {
			o.PredictionID = p.ID
		} else {
			t.log.WithFields(logrus.Fields{
				"learner_id":   p.LearnerID,
				"objective_id": p.ObjectiveID,
				"as_of":        p.AsOf,
			}).Debug("unit already predicted for the day, recording the outcome only")
			p.ID = ""
		}
	}
	if err := t.d.Outcomes.Insert(ctx, o); err != nil {
		return err
	}
	_, err := t.refreshSufficiency(ctx)
	return err
}

// SubmitFeedback stores learner feedback and applies what it implies: an
// outcome for a PENDING prediction, or the effectiveness of an intervention.
// It returns the refreshed performance snapshot.
func (t *Tracker) SubmitFeedback(ctx context.Context, fb *struggle.Feedback) (*Metrics, error) {
	if fb.ID == "" {
		fb.ID = t.newID()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = t.now().UTC()
	}
	if err := fb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeedback, err)
	}

	p, err := t.d.Predictions.Get(ctx, fb.PredictionID)
	if err != nil {
		return nil, fmt.Errorf("feedback prediction %s: %w", fb.PredictionID, err)
	}
	if fb.LearnerID == "" {
		fb.LearnerID = p.LearnerID
	}
	if fb.LearnerID != p.LearnerID {
		return nil, fmt.Errorf("%w: prediction %s belongs to another learner", ErrInvalidFeedback, p.ID)
	}
	if fb.InterventionID != "" {
		rec, err := t.d.Interventions.Get(ctx, fb.InterventionID)
		if err != nil {
			return nil, fmt.Errorf("feedback intervention %s: %w", fb.InterventionID, err)
		}
		if rec.PredictionID != p.ID {
			return nil, fmt.Errorf("%w: intervention %s is not attached to prediction %s", ErrInvalidFeedback, rec.ID, p.ID)
		}
	}

	if err := t.d.Feedback.Insert(ctx, fb); err != nil {
		return nil, err
	}

	if struggled, ok := fb.ImpliedOutcome(); ok && p.Status == struggle.StatusPending {
		if err := t.Resolve(ctx, p, struggled, fb.CreatedAt); err != nil {
			return nil, err
		}
	}

	if fb.Kind.AboutIntervention() {
		rec, err := t.d.Interventions.Get(ctx, fb.InterventionID)
		if err != nil {
			return nil, err
		}
		if rec.Effectiveness == nil {
			eff := 0.0
			if fb.Kind == struggle.FeedbackInterventionGood {
				eff = 1
			}
			rec.Effectiveness = &eff
			rec.UpdatedAt = fb.CreatedAt
			if err := t.d.Interventions.Update(ctx, rec, rec.Status); err != nil {
				return nil, fmt.Errorf("record effectiveness of %s: %w", rec.ID, err)
			}
		}
	}

	t.log.WithFields(logrus.Fields{
		"prediction_id": p.ID,
		"learner_id":    p.LearnerID,
		"kind":          fb.Kind,
	}).Debug("feedback recorded")
	return t.Performance(ctx)
}

// Performance computes the current metrics snapshot and publishes it as
// gauges.
func (t *Tracker) Performance(ctx context.Context) (*Metrics, error) {
	now := t.now().UTC()
	outcomes, err := t.d.Outcomes.List(ctx, store.OutcomeFilter{})
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	var all, week Confusion
	weekStart := now.Add(-t.cfg.RecallWindow)
	for _, o := range outcomes {
		all.Add(o.Predicted, o.Actual)
		if !o.RecordedAt.Before(weekStart) {
			week.Add(o.Predicted, o.Actual)
		}
	}
	buckets, ece := Calibrate(outcomes, t.cfg.CalibrationBuckets)

	newLabels, lastTrained, err := t.newSinceTraining(ctx)
	if err != nil {
		return nil, err
	}

	active := t.d.Registry.Active()
	m := &Metrics{
		Model:            active.Name(),
		ModelVersion:     active.Version(),
		Confusion:        all,
		Accuracy:         all.Accuracy(),
		Precision:        all.Precision(),
		Recall:           all.Recall(),
		F1:               all.F1(),
		WeeklyRecall:     weeklyRecall(week),
		Calibration:      buckets,
		ECE:              ece,
		LabeledExamples:  len(outcomes),
		NewSinceTraining: newLabels,
		ComputedAt:       now,
	}
	if !lastTrained.IsZero() {
		m.LastTrainedAt = &lastTrained
	}
	m.RetrainRecommended = ShouldRetrain(m.WeeklyRecall, m.NewSinceTraining, t.cfg.RecallFloor, t.cfg.NewLabelsTrigger)

	metrics.ModelScore.WithLabelValues("accuracy").Set(m.Accuracy)
	metrics.ModelScore.WithLabelValues("precision").Set(m.Precision)
	metrics.ModelScore.WithLabelValues("recall").Set(m.Recall)
	metrics.ModelScore.WithLabelValues("weekly_recall").Set(m.WeeklyRecall)
	metrics.ModelScore.WithLabelValues("f1").Set(m.F1)
	metrics.ModelScore.WithLabelValues("ece").Set(m.ECE)
	return m, nil
}

// weeklyRecall treats a window with no observed struggles as perfect: there
// was nothing to miss.
func weeklyRecall(c Confusion) float64 {
	if c.Positives() == 0 {
		return 1
	}
	return c.Recall()
}

func (t *Tracker) newSinceTraining(ctx context.Context) (int, time.Time, error) {
	last, err := t.d.Models.LastRunAt(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("last training run: %w", err)
	}
	n, err := t.d.Outcomes.Count(ctx, store.OutcomeFilter{Since: last})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count new outcomes: %w", err)
	}
	return n, last, nil
}

// CheckRetrainTrigger reports whether weekly recall fell below the floor or
// enough new labeled outcomes arrived since the last training run.
func (t *Tracker) CheckRetrainTrigger(ctx context.Context) (bool, error) {
	now := t.now().UTC()
	week, err := t.d.Outcomes.List(ctx, store.OutcomeFilter{Since: now.Add(-t.cfg.RecallWindow)})
	if err != nil {
		return false, fmt.Errorf("list recent outcomes: %w", err)
	}
	var c Confusion
	for _, o := range week {
		c.Add(o.Predicted, o.Actual)
	}
	newLabels, _, err := t.newSinceTraining(ctx)
	if err != nil {
		return false, err
	}
	recall := weeklyRecall(c)
	fire := ShouldRetrain(recall, newLabels, t.cfg.RecallFloor, t.cfg.NewLabelsTrigger)
	t.log.WithFields(logrus.Fields{
		"weekly_recall": recall,
		"new_labels":    newLabels,
		"retrain":       fire,
	}).Debug("retrain trigger checked")
	return fire, nil
}
