package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/config"
	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/kv"
	"github.com/abhisek/foresight/internal/logging"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/plan"
	"github.com/abhisek/foresight/internal/scheduler"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

func f64(v float64) *float64 { return &v }

func testConfig(mutate ...func(*config.Config)) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Path = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.Badger = kv.InMemoryConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return &cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), Options{Config: cfg, Log: logging.Discard(), Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func seed(t *testing.T, a *App) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, a.Store.Learning().Seed(context.Background(), &store.Fixture{
		Learners: []store.FixtureLearner{{ID: "ana", Name: "Ana", SessionMinutes: 30}},
		Objectives: []curriculum.Objective{
			{ID: "basics", Title: "Basics", Topic: "physiology", Difficulty: f64(0.3)},
			{ID: "advanced", Title: "Advanced", Topic: "physiology", Difficulty: f64(0.8)},
		},
		Edges:   []curriculum.Edge{{ObjectiveID: "advanced", RequiresID: "basics"}},
		Mastery: []store.FixtureMastery{{Learner: "ana", Objective: "basics", Level: 0.1}},
		Plan: []plan.Item{{ID: "item-1", LearnerID: "ana", ObjectiveID: "advanced", Kind: plan.KindStudy,
			ScheduledFor: now.Add(72 * time.Hour), DurationMinutes: 30}},
	}))
}

func TestNewWiresEveryBackend(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		kv        bool
		archive   bool
		sweepable bool
	}{
		{"memory cache with archive", testConfig(), true, true, true},
		{"badger cache", testConfig(func(c *config.Config) { c.Cache.Backend = config.CacheBadger }), true, true, false},
		{"no badger", testConfig(func(c *config.Config) { c.Archive.Enabled = false }), false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t, tt.cfg)
			assert.Equal(t, tt.kv, a.KV != nil)
			assert.Equal(t, tt.archive, a.Compactor != nil)
			assert.Equal(t, tt.sweepable, a.memory != nil)
			assert.Equal(t, model.NameRules, a.Registry.Active().Name())

			seed(t, a)
			res, err := a.Service.GeneratePredictions(context.Background(), "ana", 0)
			require.NoError(t, err)
			require.Len(t, res.Predictions, 1)

			list, err := a.Service.ListPredictions(context.Background(), "ana", store.PredictionFilter{})
			require.NoError(t, err)
			assert.Equal(t, 1, list.Total)
			assert.Equal(t, 1, list.Counts[struggle.StatusPending])

			n, err := a.Compact(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n, "nothing is old enough to archive")
		})
	}
}

func TestNewRestoresDeployedClassifier(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Archive.Enabled = false })
	first := newApp(t, cfg)

	clf := model.NewLogistic("v-test", map[features.Name]float64{features.PrerequisiteGapCount: 2}, -1, 0.01, time.Now(), 60)
	artifact, err := model.MarshalArtifact(clf)
	require.NoError(t, err)
	require.NoError(t, first.Store.Models().SaveRun(context.Background(), &store.TrainingRun{
		ID:            "v-test",
		TrainedAt:     time.Now().UTC(),
		TrainExamples: 48,
		TestExamples:  12,
		Deployed:      true,
		Artifact:      artifact,
	}))

	// The shared in-memory database lives as long as first is open.
	second := newApp(t, cfg)
	restored := second.Registry.Classifier()
	require.NotNil(t, restored)
	assert.Equal(t, "v-test", restored.Version())
	assert.Equal(t, model.NameRules, second.Registry.Active().Name(), "no labeled outcomes yet")
}

func TestSchedulerJobs(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want []string
	}{
		{"defaults", testConfig(), []string{scheduler.TagBatch, scheduler.TagCompact, scheduler.TagRetrain, scheduler.TagSweep}},
		{"badger cache", testConfig(func(c *config.Config) { c.Cache.Backend = config.CacheBadger }),
			[]string{scheduler.TagBatch, scheduler.TagCompact, scheduler.TagRetrain}},
		{"archive disabled", testConfig(func(c *config.Config) { c.Archive.Enabled = false }),
			[]string{scheduler.TagBatch, scheduler.TagRetrain, scheduler.TagSweep}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t, tt.cfg)
			s, err := a.Scheduler()
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, s.Tags())
		})
	}
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(&struggle.RateLimitExceededError{LearnerID: "ana", Limit: 3}))
	assert.True(t, IsUserError(struggle.ErrNotFound))
	assert.False(t, IsUserError(&struggle.PersistenceWriteError{Op: "save", Err: context.DeadlineExceeded}))
}
