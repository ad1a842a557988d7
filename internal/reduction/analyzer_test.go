package reduction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

var now = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

type fakePredictions struct {
	preds []struggle.Prediction
}

func (f *fakePredictions) List(_ context.Context, filter store.PredictionFilter) ([]struggle.Prediction, error) {
	var out []struggle.Prediction
	for i := range f.preds {
		if filter.Matches(&f.preds[i]) {
			out = append(out, f.preds[i])
		}
	}
	return out, nil
}

type fakeInterventions struct {
	recs []struggle.Recommendation
}

func (f *fakeInterventions) List(_ context.Context, filter store.InterventionFilter) ([]struggle.Recommendation, error) {
	var out []struggle.Recommendation
	for _, r := range f.recs {
		if filter.LearnerID == "" || r.LearnerID == filter.LearnerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeInterventions) FirstApplied(_ context.Context, learnerID string) (*time.Time, error) {
	var first *time.Time
	for _, r := range f.recs {
		if r.AppliedAt == nil || (learnerID != "" && r.LearnerID != learnerID) {
			continue
		}
		if first == nil || r.AppliedAt.Before(*first) {
			at := *r.AppliedAt
			first = &at
		}
	}
	return first, nil
}

func resolved(learner string, at time.Time, struggled bool) struggle.Prediction {
	status := struggle.StatusFalsePositive
	if struggled {
		status = struggle.StatusConfirmed
	}
	return struggle.Prediction{
		ID:            learner + at.Format(time.RFC3339),
		LearnerID:     learner,
		ObjectiveID:   "obj",
		AsOf:          struggle.AsOfDate(at.AddDate(0, 0, -3)),
		Status:        status,
		ActualOutcome: &struggled,
		ResolvedAt:    &at,
	}
}

func applied(learner string, at time.Time, eff *float64) struggle.Recommendation {
	return struggle.Recommendation{
		ID: learner + "-rec", LearnerID: learner, PredictionID: "p",
		Type: struggle.InterventionReviewBoost, Priority: 6,
		Status: struggle.InterventionApplied, AppliedAt: &at, Effectiveness: eff,
	}
}

func newAnalyzer(preds []struggle.Prediction, recs []struggle.Recommendation) *Analyzer {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	a := New(&fakePredictions{preds: preds}, &fakeInterventions{recs: recs}, DefaultConfig(), log)
	a.now = func() time.Time { return now }
	return a
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestAnalyzeAfterAdoption(t *testing.T) {
	adopted := now.Add(-days(20))
	one := 1.0
	preds := []struggle.Prediction{
		// Baseline: 3 of 4 struggled.
		resolved("ana", adopted.Add(-days(25)), true),
		resolved("ana", adopted.Add(-days(15)), true),
		resolved("ana", adopted.Add(-days(10)), true),
		resolved("ana", adopted.Add(-days(2)), false),
		// After: 1 of 4 struggled.
		resolved("ana", adopted.Add(days(1)), true),
		resolved("ana", adopted.Add(days(5)), false),
		resolved("ana", adopted.Add(days(9)), false),
		resolved("ana", adopted.Add(days(14)), false),
		// Another learner is ignored.
		resolved("ben", adopted.Add(days(2)), true),
	}
	a := newAnalyzer(preds, []struggle.Recommendation{applied("ana", adopted, &one)})

	m, err := a.Analyze(context.Background(), "ana", days(30))
	require.NoError(t, err)
	require.NotNil(t, m.AdoptedAt)
	assert.Equal(t, adopted, m.After.From, "after window starts at adoption")
	assert.Equal(t, 4, m.Baseline.Resolved)
	assert.InDelta(t, 0.75, m.Baseline.Rate, 1e-9)
	assert.Equal(t, 4, m.After.Resolved)
	assert.InDelta(t, 0.25, m.After.Rate, 1e-9)
	assert.InDelta(t, 66.666, m.ReductionPct, 0.01)
	assert.False(t, m.NoBaseline)
	assert.Equal(t, 1, m.InterventionsApplied)
	require.NotNil(t, m.MeanEffectiveness)
	assert.Equal(t, 1.0, *m.MeanEffectiveness)
	assert.Equal(t, 4, m.StatusCounts[struggle.StatusConfirmed])
	assert.Equal(t, 4, m.StatusCounts[struggle.StatusFalsePositive])
}

func TestAnalyzeWithoutAdoptionUsesRollingBaseline(t *testing.T) {
	preds := []struggle.Prediction{
		resolved("ana", now.Add(-days(50)), true),
		resolved("ana", now.Add(-days(40)), true),
		resolved("ana", now.Add(-days(10)), true),
		resolved("ana", now.Add(-days(5)), false),
	}
	m, err := newAnalyzer(preds, nil).Analyze(context.Background(), "ana", days(30))
	require.NoError(t, err)
	assert.Nil(t, m.AdoptedAt)
	assert.Equal(t, now.Add(-days(60)), m.Baseline.From)
	assert.Equal(t, 2, m.Baseline.Resolved)
	assert.InDelta(t, 1.0, m.Baseline.Rate, 1e-9)
	assert.InDelta(t, 0.5, m.After.Rate, 1e-9)
	assert.InDelta(t, 50, m.ReductionPct, 1e-9)
	assert.Nil(t, m.MeanEffectiveness)
}

func TestAnalyzeNoBaseline(t *testing.T) {
	preds := []struggle.Prediction{
		resolved("ana", now.Add(-days(3)), true),
		{ID: "pending", LearnerID: "ana", ObjectiveID: "o", AsOf: struggle.AsOfDate(now), Status: struggle.StatusPending},
	}
	m, err := newAnalyzer(preds, nil).Analyze(context.Background(), "ana", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, m.PeriodDays)
	assert.True(t, m.NoBaseline)
	assert.Equal(t, 0.0, m.ReductionPct)
	assert.Equal(t, 1, m.StatusCounts[struggle.StatusPending])
	assert.Equal(t, 1, m.After.Struggles)
}

func TestAnalyzeGlobalPoolsLearners(t *testing.T) {
	preds := []struggle.Prediction{
		resolved("ana", now.Add(-days(40)), true),
		resolved("ben", now.Add(-days(45)), true),
		resolved("ben", now.Add(-days(35)), false),
		resolved("ana", now.Add(-days(4)), false),
		resolved("ben", now.Add(-days(6)), false),
	}
	m, err := newAnalyzer(preds, nil).Analyze(context.Background(), "", days(30))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Baseline.Resolved)
	assert.Equal(t, 2, m.After.Resolved)
	assert.InDelta(t, 100, m.ReductionPct, 1e-9)

	var trendResolved int
	for _, w := range m.Trend {
		trendResolved += w.Resolved
	}
	require.Len(t, m.Trend, 8)
	assert.Equal(t, 5, trendResolved)
	assert.Equal(t, 2, m.Trend[7].Resolved, "latest week")
	assert.Equal(t, 0.0, m.Trend[7].Rate)
}

func TestAnalyzeRejectsBadPeriod(t *testing.T) {
	a := newAnalyzer(nil, nil)
	for _, p := range []time.Duration{-days(1), time.Hour, days(400)} {
		_, err := a.Analyze(context.Background(), "ana", p)
		assert.True(t, errors.Is(err, ErrInvalidPeriod), "period %s", p)
	}
}
