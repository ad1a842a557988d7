package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/kv"
	"github.com/abhisek/foresight/internal/reduction"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

func setup(t *testing.T) (*store.Store, *Cold) {
	t.Helper()
	s, err := store.Open("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	db, err := kv.Open(kv.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return s, NewCold(db)
}

func savePrediction(t *testing.T, s *store.Store, learnerID string, asOf time.Time, resolveAt *time.Time) *struggle.Prediction {
	t.Helper()
	p := &struggle.Prediction{
		ID:           uuid.New().String(),
		LearnerID:    learnerID,
		ObjectiveID:  uuid.New().String(),
		AsOf:         struggle.AsOfDate(asOf),
		Probability:  0.7,
		Confidence:   0.6,
		Status:       struggle.StatusPending,
		Features:     features.NewVector(),
		Model:        "rules",
		ModelVersion: "v1",
		Source:       struggle.SourceBatch,
		CreatedAt:    asOf,
		UpdatedAt:    asOf,
	}
	rec := struggle.Recommendation{
		ID: uuid.New().String(), LearnerID: learnerID, ObjectiveID: p.ObjectiveID,
		Type: struggle.InterventionLoadReduction, IndicatorType: struggle.IndicatorCognitiveOverload,
		Severity: struggle.SeverityMedium, Priority: 8, Status: struggle.InterventionPending,
		Rationale: "load", CreatedAt: asOf, UpdatedAt: asOf,
	}
	_, err := s.Predictions().Save(context.Background(), p, nil, []struggle.Recommendation{rec})
	require.NoError(t, err)
	if resolveAt != nil {
		require.NoError(t, p.Resolve(true, *resolveAt))
		require.NoError(t, s.Predictions().Resolve(context.Background(), p))
	}
	return p
}

func TestCompactMovesOnlyAgedResolved(t *testing.T) {
	s, cold := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	oldResolved := now.Add(-100 * 24 * time.Hour)
	recent := now.Add(-10 * 24 * time.Hour)

	aged := savePrediction(t, s, "l1", oldResolved.Add(-24*time.Hour), &oldResolved)
	fresh := savePrediction(t, s, "l1", recent.Add(-24*time.Hour), &recent)
	pending := savePrediction(t, s, "l1", oldResolved, nil)

	c := NewCompactor(s.Predictions(), s.Interventions(), cold, 90*24*time.Hour, 1, logrus.New())
	c.now = func() time.Time { return now }

	moved, err := c.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	_, err = s.Predictions().Get(ctx, aged.ID)
	assert.ErrorIs(t, err, struggle.ErrNotFound)

	rec, err := cold.Get(ctx, aged.ID)
	require.NoError(t, err)
	assert.Equal(t, struggle.StatusConfirmed, rec.Prediction.Status)
	assert.Len(t, rec.Interventions, 1)

	for _, id := range []string{fresh.ID, pending.ID} {
		_, err := s.Predictions().Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestTieredMergesAndDedupes(t *testing.T) {
	s, cold := setup(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	hot := savePrediction(t, s, "l1", base, nil)
	// The same prediction in both tiers, as after an interrupted compaction.
	require.NoError(t, cold.Put(ctx, Record{Prediction: *hot}))
	archived := savePrediction(t, s, "l1", base.Add(-48*time.Hour), nil)
	require.NoError(t, cold.Put(ctx, Record{Prediction: *archived}))
	require.NoError(t, s.Predictions().Delete(ctx, []string{archived.ID}))
	other := savePrediction(t, s, "l2", base, nil)
	_ = other

	tiered := &Tiered{Hot: s.Predictions(), Cold: cold}
	got, err := tiered.List(ctx, store.PredictionFilter{LearnerID: "l1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, hot.ID, got[0].ID, "newest as-of first")
	assert.Equal(t, archived.ID, got[1].ID)

	p, err := tiered.Get(ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, archived.ID, p.ID)

	limited, err := tiered.List(ctx, store.PredictionFilter{LearnerID: "l1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAdoptionHistorySurvivesCompaction(t *testing.T) {
	s, cold := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	resolved := now.Add(-35 * 24 * time.Hour)
	p := savePrediction(t, s, "l1", now.Add(-40*24*time.Hour), nil)
	recs, err := s.Interventions().List(ctx, store.InterventionFilter{PredictionIDs: []string{p.ID}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	applied := now.Add(-39 * 24 * time.Hour)
	rec := recs[0]
	require.NoError(t, rec.Transition(struggle.InterventionApplied, applied))
	require.NoError(t, s.Interventions().Update(ctx, &rec, struggle.InterventionPending))
	require.NoError(t, p.Resolve(true, resolved))
	require.NoError(t, s.Predictions().Resolve(ctx, p))

	c := NewCompactor(s.Predictions(), s.Interventions(), cold, 30*24*time.Hour, 10, logrus.New())
	c.now = func() time.Time { return now }
	moved, err := c.Compact(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	hotOnly, err := s.Interventions().FirstApplied(ctx, "l1")
	require.NoError(t, err)
	assert.Nil(t, hotOnly, "the hot store lost the adoption with its prediction")

	ivs := &TieredInterventions{Hot: s.Interventions(), Cold: cold}
	first, err := ivs.FirstApplied(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.WithinDuration(t, applied, *first, time.Second)

	got, err := ivs.List(ctx, store.InterventionFilter{LearnerID: "l1", Statuses: []struggle.InterventionStatus{struggle.InterventionApplied}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)

	none, err := ivs.List(ctx, store.InterventionFilter{LearnerID: "l2"})
	require.NoError(t, err)
	assert.Empty(t, none)

	an := reduction.New(&Tiered{Hot: s.Predictions(), Cold: cold}, ivs, reduction.DefaultConfig(), logrus.New())
	m, err := an.Analyze(ctx, "l1", 30*24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, m.AdoptedAt)
	assert.WithinDuration(t, applied, *m.AdoptedAt, time.Second)
	assert.Equal(t, 1, m.InterventionsApplied)
	assert.Equal(t, 1, m.StatusCounts[struggle.StatusConfirmed])
}

func TestTieredInterventionsPrefersHotCopy(t *testing.T) {
	s, cold := setup(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	p := savePrediction(t, s, "l1", base, nil)
	recs, err := s.Interventions().List(ctx, store.InterventionFilter{PredictionIDs: []string{p.ID}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	// A stale archived copy, as after an interrupted compaction.
	stale := recs[0]
	stale.Status = struggle.InterventionDismissed
	require.NoError(t, cold.Put(ctx, Record{Prediction: *p, Interventions: []struggle.Recommendation{stale}}))

	ivs := &TieredInterventions{Hot: s.Interventions(), Cold: cold}
	got, err := ivs.List(ctx, store.InterventionFilter{LearnerID: "l1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, struggle.InterventionPending, got[0].Status)
}
