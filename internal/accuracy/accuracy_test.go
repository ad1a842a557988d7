package accuracy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

var clock = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func setup(t *testing.T, cfg Config) (*Tracker, *store.Store, *model.Registry) {
	t.Helper()
	s, err := store.Open("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := model.NewRegistry(model.NewRuleBased(model.DefaultRuleConfig()), cfg.Train.MinExamples)
	tr := New(Deps{
		Predictions:   s.Predictions(),
		Interventions: s.Interventions(),
		Outcomes:      s.Outcomes(),
		Feedback:      s.Feedback(),
		Models:        s.Models(),
		Registry:      reg,
		Log:           quietLog(),
	}, cfg)
	tr.now = func() time.Time { return clock }
	return tr, s, reg
}

func savePending(t *testing.T, s *store.Store, prob float64, recs ...struggle.Recommendation) *store.SaveResult {
	t.Helper()
	p := &struggle.Prediction{
		ID:           uuid.New().String(),
		LearnerID:    "learner-1",
		ObjectiveID:  uuid.New().String(),
		AsOf:         struggle.AsOfDate(clock),
		Probability:  prob,
		Confidence:   0.6,
		Status:       struggle.StatusPending,
		Features:     features.NewVector(),
		Model:        model.NameRules,
		ModelVersion: "v1",
		Source:       struggle.SourceBatch,
		CreatedAt:    clock,
		UpdatedAt:    clock,
	}
	res, err := s.Predictions().Save(context.Background(), p, nil, recs)
	require.NoError(t, err)
	return res
}

func loadReduction() struggle.Recommendation {
	return struggle.Recommendation{
		ID: uuid.New().String(), LearnerID: "learner-1",
		Type: struggle.InterventionLoadReduction, IndicatorType: struggle.IndicatorCognitiveOverload,
		Severity: struggle.SeverityHigh, Priority: 8, Status: struggle.InterventionPending,
		Rationale: "reduce load", DurationFactor: 0.5, CreatedAt: clock, UpdatedAt: clock,
	}
}

func TestConfusionMetrics(t *testing.T) {
	tests := []struct {
		name                  string
		tp, fp, fn, tn        int
		precision, recall, f1 float64
	}{
		{"empty", 0, 0, 0, 0, 0, 0, 0},
		{"perfect", 4, 0, 0, 6, 1, 1, 1},
		{"half precision", 2, 2, 0, 0, 0.5, 1, 2.0 / 3.0},
		{"missed all", 0, 0, 3, 1, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Confusion{TP: tt.tp, FP: tt.fp, FN: tt.fn, TN: tt.tn}
			assert.InDelta(t, tt.precision, c.Precision(), 1e-9)
			assert.InDelta(t, tt.recall, c.Recall(), 1e-9)
			assert.InDelta(t, tt.f1, c.F1(), 1e-9)
		})
	}
}

func TestConfusionAdd(t *testing.T) {
	var c Confusion
	c.Add(true, true)
	c.Add(true, false)
	c.Add(false, true)
	c.Add(false, false)
	c.Add(false, false)
	assert.Equal(t, Confusion{TP: 1, FP: 1, FN: 1, TN: 2}, c)
	assert.InDelta(t, 0.6, c.Accuracy(), 1e-9)
}

func TestCalibrate(t *testing.T) {
	outcomes := []struggle.Outcome{
		{Probability: 0.05, Actual: false},
		{Probability: 0.15, Actual: false},
		{Probability: 0.95, Actual: true},
		{Probability: 0.9, Actual: false},
		{Probability: 1.0, Actual: true},
	}
	buckets, ece := Calibrate(outcomes, 10)
	require.Len(t, buckets, 10)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 1, buckets[1].Count)
	assert.Equal(t, 3, buckets[9].Count, "probability 1.0 lands in the top bucket")
	assert.InDelta(t, 2.0/3.0, buckets[9].ObservedRate, 1e-9)

	want := (0.05 + 0.15 + 3*math.Abs((0.95+0.9+1.0)/3-2.0/3.0)) / 5
	assert.InDelta(t, want, ece, 1e-9)
}

func TestShouldRetrainBoundaries(t *testing.T) {
	tests := []struct {
		recall float64
		labels int
		want   bool
	}{
		{0.69, 0, true},
		{0.70, 0, false},
		{0.71, 0, false},
		{1, 9, false},
		{1, 10, true},
		{1, 11, true},
	}
	for _, tt := range tests {
		if got := ShouldRetrain(tt.recall, tt.labels, 0.70, 10); got != tt.want {
			t.Errorf("ShouldRetrain(%v, %d) = %v, want %v", tt.recall, tt.labels, got, tt.want)
		}
	}
}

func TestNonRegressive(t *testing.T) {
	inc := Evaluation{F1: 0.8, LogLoss: 0.4}
	assert.True(t, NonRegressive(Evaluation{F1: 0.85, LogLoss: 0.9}, inc))
	assert.False(t, NonRegressive(Evaluation{F1: 0.75, LogLoss: 0.1}, inc))
	assert.True(t, NonRegressive(Evaluation{F1: 0.8, LogLoss: 0.4}, inc))
	assert.False(t, NonRegressive(Evaluation{F1: 0.8, LogLoss: 0.5}, inc))
}

func TestResolveRecordsOutcomeAndEffectiveness(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())
	res := savePending(t, s, 0.8, loadReduction())
	require.Len(t, res.Interventions, 1)

	rec := res.Interventions[0]
	require.NoError(t, rec.Transition(struggle.InterventionApplied, clock))
	require.NoError(t, s.Interventions().Update(ctx, &rec, struggle.InterventionPending))

	require.NoError(t, tr.Resolve(ctx, res.Prediction, false, clock.Add(time.Hour)))

	got, err := s.Predictions().Get(ctx, res.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, struggle.StatusFalsePositive, got.Status)

	outcomes, err := s.Outcomes().List(ctx, store.OutcomeFilter{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Predicted)
	assert.False(t, outcomes[0].Actual)
	assert.True(t, outcomes[0].Intervened)

	applied, err := s.Interventions().Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, applied.Effectiveness)
	assert.Equal(t, 1.0, *applied.Effectiveness)

	err = tr.Resolve(ctx, got, true, clock.Add(2*time.Hour))
	assert.True(t, errors.Is(err, struggle.ErrInvalidTransition))
}

func TestInaccurateFeedbackLowersPrecision(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())

	first := savePending(t, s, 0.8)
	require.NoError(t, tr.Resolve(ctx, first.Prediction, true, clock))
	before, err := tr.Performance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, before.Precision)

	second := savePending(t, s, 0.75)
	after, err := tr.SubmitFeedback(ctx, &struggle.Feedback{
		PredictionID: second.Prediction.ID,
		Kind:         struggle.FeedbackInaccurate,
	})
	require.NoError(t, err)
	assert.Less(t, after.Precision, before.Precision)
	assert.Equal(t, 1, after.Confusion.FP)

	got, err := s.Predictions().Get(ctx, second.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, struggle.StatusFalsePositive, got.Status)

	stored, err := s.Feedback().ListByPrediction(ctx, second.Prediction.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "learner-1", stored[0].LearnerID)
}

func TestSubmitFeedbackValidation(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())
	res := savePending(t, s, 0.6)
	other := savePending(t, s, 0.6, loadReduction())
	bad := 9

	tests := []struct {
		name string
		fb   struggle.Feedback
		want error
	}{
		{"unknown kind", struggle.Feedback{PredictionID: res.Prediction.ID, Kind: "MAYBE"}, ErrInvalidFeedback},
		{"rating out of range", struggle.Feedback{PredictionID: res.Prediction.ID, Kind: struggle.FeedbackHelpful, Rating: &bad}, ErrInvalidFeedback},
		{"intervention kind without intervention", struggle.Feedback{PredictionID: res.Prediction.ID, Kind: struggle.FeedbackInterventionGood}, ErrInvalidFeedback},
		{"intervention of another prediction", struggle.Feedback{PredictionID: res.Prediction.ID, InterventionID: other.Interventions[0].ID, Kind: struggle.FeedbackInterventionGood}, ErrInvalidFeedback},
		{"unknown prediction", struggle.Feedback{PredictionID: "nope", Kind: struggle.FeedbackHelpful}, struggle.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := tt.fb
			_, err := tr.SubmitFeedback(ctx, &fb)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestInterventionFeedbackSetsEffectiveness(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())
	res := savePending(t, s, 0.7, loadReduction())
	rec := res.Interventions[0]

	_, err := tr.SubmitFeedback(ctx, &struggle.Feedback{
		PredictionID:   res.Prediction.ID,
		InterventionID: rec.ID,
		Kind:           struggle.FeedbackInterventionBad,
	})
	require.NoError(t, err)

	got, err := s.Interventions().Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Effectiveness)
	assert.Equal(t, 0.0, *got.Effectiveness)

	p, err := s.Predictions().Get(ctx, res.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, struggle.StatusPending, p.Status, "intervention feedback alone does not resolve")
}

func TestRecordUnpredictedCountsAgainstRecall(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())

	hit := savePending(t, s, 0.9)
	require.NoError(t, tr.Resolve(ctx, hit.Prediction, true, clock))

	scored := &struggle.Prediction{
		LearnerID:    "learner-1",
		ObjectiveID:  "obj-missed",
		AsOf:         struggle.AsOfDate(clock),
		Probability:  0.3,
		Confidence:   0.5,
		Features:     features.NewVector(),
		Model:        model.NameRules,
		ModelVersion: "v1",
	}
	require.NoError(t, tr.RecordUnpredicted(ctx, scored, true, clock))

	quiet := &struggle.Prediction{
		LearnerID:   "learner-1",
		ObjectiveID: "obj-fine",
		AsOf:        struggle.AsOfDate(clock),
		Probability: 0.2,
		Confidence:  0.5,
		Features:    features.NewVector(),
		Model:       model.NameRules,
	}
	require.NoError(t, tr.RecordUnpredicted(ctx, quiet, false, clock))

	m, err := tr.Performance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Confusion{TP: 1, FN: 1, TN: 1}, m.Confusion)
	assert.InDelta(t, 0.5, m.Recall, 1e-9)
	assert.InDelta(t, 0.5, m.WeeklyRecall, 1e-9)

	missed, err := s.Predictions().List(ctx, store.PredictionFilter{Statuses: []struggle.Status{struggle.StatusMissed}})
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "obj-missed", missed[0].ObjectiveID)
	assert.Equal(t, struggle.SourceOutcome, missed[0].Source)
	assert.InDelta(t, 0.3, missed[0].Probability, 1e-9)
}

func TestRecordUnpredictedAfterSameDayResolution(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())

	resolved := savePending(t, s, 0.8)
	require.NoError(t, tr.Resolve(ctx, resolved.Prediction, false, clock))

	rescored := &struggle.Prediction{
		LearnerID:    resolved.Prediction.LearnerID,
		ObjectiveID:  resolved.Prediction.ObjectiveID,
		AsOf:         resolved.Prediction.AsOf,
		Probability:  0.3,
		Confidence:   0.5,
		Features:     features.NewVector(),
		Model:        model.NameRules,
		ModelVersion: "v1",
	}
	require.NoError(t, tr.RecordUnpredicted(ctx, rescored, true, clock.Add(time.Hour)))
	assert.Empty(t, rescored.ID, "no second prediction row for the unit")

	m, err := tr.Performance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Confusion{FP: 1, FN: 1}, m.Confusion)

	missed, err := s.Predictions().List(ctx, store.PredictionFilter{Statuses: []struggle.Status{struggle.StatusMissed}})
	require.NoError(t, err)
	assert.Empty(t, missed)
	p, err := s.Predictions().Get(ctx, resolved.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, struggle.StatusFalsePositive, p.Status)
}

// syntheticOutcomes generates labeled outcomes where struggle follows the
// signal feature. Prerequisite gap, retention and workload are all drawn at
// random; the default rules only look at the first two.
func syntheticOutcomes(t *testing.T, s *store.Store, n int, at time.Time, seed int64, signal features.Name) {
	t.Helper()
	f := gofakeit.New(seed)
	for i := 0; i < n; i++ {
		vec := features.NewVector()
		vec.Set(features.PrerequisiteGapCount, f.Float64Range(0, 1))
		vec.Set(features.RetentionScore, f.Float64Range(0, 1))
		vec.Set(features.Workload, f.Float64Range(0, 1))
		x := vec.Get(signal)
		o := &struggle.Outcome{
			ID:          uuid.New().String(),
			LearnerID:   f.Username(),
			ObjectiveID: f.UUID(),
			Probability: x,
			Predicted:   x >= 0.5,
			Actual:      x > 0.5,
			Features:    vec,
			Model:       model.NameRules,
			RecordedAt:  at,
		}
		require.NoError(t, s.Outcomes().Insert(context.Background(), o))
	}
}

func TestRetrainInsufficientData(t *testing.T) {
	ctx := context.Background()
	tr, s, reg := setup(t, DefaultConfig())
	syntheticOutcomes(t, s, 12, clock.Add(-time.Hour), 7, features.PrerequisiteGapCount)

	run, err := tr.Retrain(ctx)
	assert.Nil(t, run)
	var insufficient *model.InsufficientTrainingDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 12, insufficient.Have)
	assert.Equal(t, 50, insufficient.Need)
	assert.True(t, errors.Is(err, struggle.ErrInsufficientTrainingData))
	assert.Equal(t, model.NameRules, reg.Active().Name())

	run, err = tr.MaybeRetrain(ctx)
	assert.NoError(t, err)
	assert.Nil(t, run)
}

func TestRetrainDeploysAndRestores(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	tr, s, reg := setup(t, cfg)
	// Struggle follows workload, which no default rule reads.
	syntheticOutcomes(t, s, 120, clock.Add(-time.Hour), 11, features.Workload)

	run, err := tr.Retrain(ctx)
	require.NoError(t, err)
	assert.True(t, run.Deployed, run.Reason)
	assert.Equal(t, 96, run.TrainExamples)
	assert.Equal(t, 24, run.TestExamples)
	assert.Greater(t, run.CandidateF1, 0.6)
	require.NotNil(t, run.IncumbentF1, "rules are scored as the incumbent")
	assert.GreaterOrEqual(t, run.CandidateF1, *run.IncumbentF1)
	require.NotNil(t, reg.Classifier())
	assert.Equal(t, model.NameLogistic, reg.Active().Name())
	assert.Greater(t, reg.Classifier().Weight(features.Workload), 0.0)

	fresh := model.NewRegistry(model.NewRuleBased(model.DefaultRuleConfig()), cfg.Train.MinExamples)
	restored := New(Deps{
		Predictions: s.Predictions(), Interventions: s.Interventions(), Outcomes: s.Outcomes(),
		Feedback: s.Feedback(), Models: s.Models(), Registry: fresh, Log: quietLog(),
	}, cfg)
	require.NoError(t, restored.Load(ctx))
	require.NotNil(t, fresh.Classifier())
	assert.Equal(t, reg.Classifier().Version(), fresh.Classifier().Version())
	assert.Equal(t, model.NameLogistic, fresh.Active().Name())
}

func TestFirstCandidateMustBeatRules(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Train.Epochs = 1
	tr, s, reg := setup(t, cfg)
	// The gap rule already tracks this signal, so one epoch cannot catch up.
	syntheticOutcomes(t, s, 120, clock.Add(-time.Hour), 11, features.PrerequisiteGapCount)

	run, err := tr.Retrain(ctx)
	require.NoError(t, err)
	assert.False(t, run.Deployed, run.Reason)
	assert.Contains(t, run.Reason, model.NameRules)
	require.NotNil(t, run.IncumbentF1)
	require.NotNil(t, run.IncumbentLogLoss)
	assert.Less(t, run.CandidateF1, *run.IncumbentF1)
	assert.Empty(t, run.Artifact)
	assert.Nil(t, reg.Classifier())
	assert.Equal(t, model.NameRules, reg.Active().Name())

	runs, err := s.Models().List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Deployed)
}

func TestCheckRetrainTrigger(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	tr, s, _ := setup(t, cfg)

	// Outcomes older than the recall window, then a training run.
	syntheticOutcomes(t, s, 60, clock.Add(-30*24*time.Hour), 3, features.PrerequisiteGapCount)
	_, err := tr.Retrain(ctx)
	require.NoError(t, err)

	fire, err := tr.CheckRetrainTrigger(ctx)
	require.NoError(t, err)
	assert.False(t, fire, "no recent struggles and no new labels")

	later := clock.Add(time.Hour)
	tr.now = func() time.Time { return later }
	for i := 0; i < cfg.NewLabelsTrigger-1; i++ {
		require.NoError(t, s.Outcomes().Insert(ctx, &struggle.Outcome{
			ID: uuid.New().String(), LearnerID: "l", ObjectiveID: uuid.New().String(),
			Probability: 0.1, Features: features.NewVector(), RecordedAt: later,
		}))
	}
	fire, err = tr.CheckRetrainTrigger(ctx)
	require.NoError(t, err)
	assert.False(t, fire, "nine new labels")

	require.NoError(t, s.Outcomes().Insert(ctx, &struggle.Outcome{
		ID: uuid.New().String(), LearnerID: "l", ObjectiveID: uuid.New().String(),
		Probability: 0.1, Features: features.NewVector(), RecordedAt: later,
	}))
	fire, err = tr.CheckRetrainTrigger(ctx)
	require.NoError(t, err)
	assert.True(t, fire, "ten new labels")
}

func TestCheckRetrainTriggerOnLowRecall(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := setup(t, DefaultConfig())

	// One caught and two missed struggles this week: recall 1/3.
	for i, predicted := range []bool{true, false, false} {
		require.NoError(t, s.Outcomes().Insert(ctx, &struggle.Outcome{
			ID: uuid.New().String(), LearnerID: "l", ObjectiveID: uuid.New().String(),
			Probability: 0.4, Predicted: predicted, Actual: true,
			Features: features.NewVector(), RecordedAt: clock.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	fire, err := tr.CheckRetrainTrigger(ctx)
	require.NoError(t, err)
	assert.True(t, fire)
}
