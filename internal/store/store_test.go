package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/plan"
	"github.com/abhisek/foresight/internal/struggle"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	// A unique name keeps shared-cache in-memory databases apart.
	s, err := Open("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var day = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testPrediction(learnerID, objectiveID string, prob float64) *struggle.Prediction {
	vec := features.NewVector()
	vec.Set(features.PrerequisiteGapCount, 1)
	due := day.Add(72 * time.Hour)
	return &struggle.Prediction{
		ID:           uuid.New().String(),
		LearnerID:    learnerID,
		ObjectiveID:  objectiveID,
		Topic:        "algebra",
		AsOf:         struggle.AsOfDate(day),
		DueDate:      &due,
		Probability:  prob,
		Confidence:   0.6,
		Status:       struggle.StatusPending,
		Features:     vec,
		Model:        "rules",
		ModelVersion: "v1",
		Source:       struggle.SourceBatch,
		CreatedAt:    day,
		UpdatedAt:    day,
	}
}

func testRecommendation(p *struggle.Prediction, typ struggle.InterventionType, priority int) struggle.Recommendation {
	return struggle.Recommendation{
		ID:                uuid.New().String(),
		LearnerID:         p.LearnerID,
		ObjectiveID:       p.ObjectiveID,
		Type:              typ,
		IndicatorType:     struggle.IndicatorPrerequisiteGap,
		Severity:          struggle.SeverityHigh,
		Priority:          priority,
		Status:            struggle.InterventionPending,
		Rationale:         "test",
		ReviewOffsetsDays: []int{1, 3},
		CreatedAt:         day,
		UpdatedAt:         day,
	}
}

func testIndicator(p *struggle.Prediction, sessionID string) struggle.Indicator {
	return struggle.Indicator{
		ID:          uuid.New().String(),
		LearnerID:   p.LearnerID,
		ObjectiveID: p.ObjectiveID,
		SessionID:   sessionID,
		Type:        struggle.IndicatorPrerequisiteGap,
		Severity:    struggle.SeverityHigh,
		Feature:     features.PrerequisiteGapCount,
		Value:       1,
		Description: "gap",
		Related:     []string{"obj-0"},
		CreatedAt:   day,
	}
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		// WAL mode falls back to "memory" for in-memory databases.
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}

	for _, tt := range tests {
		var got string
		if err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestAutoMigrationCreatesTables(t *testing.T) {
	s := openTestStore(t)
	for _, tbl := range tables {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", tbl.Name).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", tbl.Name, err)
		}
	}
}

func TestPredictionSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Predictions()

	p := testPrediction("l1", "o1", 0.8)
	res, err := repo.Save(ctx, p, []struggle.Indicator{testIndicator(p, "")},
		[]struggle.Recommendation{testRecommendation(p, struggle.InterventionPrerequisiteReview, 9)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Replaced || res.Kept {
		t.Fatalf("first save: replaced=%v kept=%v", res.Replaced, res.Kept)
	}

	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Probability != 0.8 || got.Status != struggle.StatusPending {
		t.Errorf("got probability=%v status=%s", got.Probability, got.Status)
	}
	if !got.Features.IsObserved(features.PrerequisiteGapCount) {
		t.Error("features not round-tripped")
	}
	if got.DueDate == nil || !got.DueDate.Equal(*p.DueDate) {
		t.Errorf("due date = %v, want %v", got.DueDate, p.DueDate)
	}

	ind, err := repo.Indicators(ctx, p.ID)
	if err != nil {
		t.Fatalf("indicators: %v", err)
	}
	if len(ind) != 1 || ind[0].PredictionID != p.ID || len(ind[0].Related) != 1 {
		t.Errorf("indicators = %+v", ind)
	}

	recs, err := s.Interventions().List(ctx, InterventionFilter{PredictionIDs: []string{p.ID}})
	if err != nil {
		t.Fatalf("interventions: %v", err)
	}
	if len(recs) != 1 || recs[0].Priority != 9 || len(recs[0].ReviewOffsetsDays) != 2 {
		t.Errorf("interventions = %+v", recs)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, struggle.ErrNotFound) {
		t.Errorf("get missing: %v, want ErrNotFound", err)
	}
}

func TestPredictionSaveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Predictions()

	first := testPrediction("l1", "o1", 0.7)
	if _, err := repo.Save(ctx, first, []struggle.Indicator{testIndicator(first, "")},
		[]struggle.Recommendation{
			testRecommendation(first, struggle.InterventionPrerequisiteReview, 9),
			testRecommendation(first, struggle.InterventionLoadReduction, 8),
		}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A real-time indicator and an applied intervention must survive a re-run.
	if err := repo.AddIndicators(ctx, []struggle.Indicator{func() struggle.Indicator {
		ind := testIndicator(first, "sess-1")
		ind.PredictionID = first.ID
		return ind
	}()}); err != nil {
		t.Fatalf("add indicators: %v", err)
	}
	recs, _ := s.Interventions().List(ctx, InterventionFilter{PredictionIDs: []string{first.ID}})
	applied := recs[0]
	if err := applied.Transition(struggle.InterventionApplied, day); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Interventions().Update(ctx, &applied, struggle.InterventionPending); err != nil {
		t.Fatalf("update: %v", err)
	}

	second := testPrediction("l1", "o1", 0.9)
	res, err := repo.Save(ctx, second, []struggle.Indicator{testIndicator(second, "")},
		[]struggle.Recommendation{
			testRecommendation(second, struggle.InterventionPrerequisiteReview, 9),
			testRecommendation(second, struggle.InterventionLoadReduction, 8),
		})
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if !res.Replaced {
		t.Error("expected Replaced")
	}
	if second.ID != first.ID {
		t.Errorf("re-run changed id: %s -> %s", first.ID, second.ID)
	}

	list, err := repo.List(ctx, PredictionFilter{LearnerID: "l1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Probability != 0.9 {
		t.Fatalf("list = %+v, want one prediction at 0.9", list)
	}

	ind, _ := repo.Indicators(ctx, first.ID)
	if len(ind) != 2 {
		t.Errorf("indicators = %d, want batch + session", len(ind))
	}
	recs, _ = s.Interventions().List(ctx, InterventionFilter{PredictionIDs: []string{first.ID}})
	if len(recs) != 2 {
		t.Fatalf("interventions = %d, want 2", len(recs))
	}
	var appliedCount int
	for _, r := range recs {
		if r.Status == struggle.InterventionApplied {
			appliedCount++
		}
	}
	if appliedCount != 1 {
		t.Errorf("applied interventions = %d, want 1", appliedCount)
	}
}

func TestPredictionSaveKeepsResolved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Predictions()

	p := testPrediction("l1", "o1", 0.7)
	if _, err := repo.Save(ctx, p, nil, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := p.Resolve(true, day.Add(time.Hour)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := repo.Resolve(ctx, p); err != nil {
		t.Fatalf("persist resolve: %v", err)
	}
	// Resolving twice is rejected at the row level too.
	if err := repo.Resolve(ctx, p); !errors.Is(err, struggle.ErrInvalidTransition) {
		t.Errorf("second resolve: %v, want ErrInvalidTransition", err)
	}

	res, err := repo.Save(ctx, testPrediction("l1", "o1", 0.2), nil, nil)
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if !res.Kept || res.Prediction.Status != struggle.StatusConfirmed {
		t.Errorf("res = %+v, want kept CONFIRMED", res)
	}
}

func TestPredictionSaveSupersedesEarlierPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Predictions()

	old := testPrediction("l1", "o1", 0.7)
	acted := testRecommendation(old, struggle.InterventionPrerequisiteReview, 9)
	pending := testRecommendation(old, struggle.InterventionReviewBoost, 7)
	live := testIndicator(old, "session-1")
	live.PredictionID = old.ID
	if _, err := repo.Save(ctx, old, []struggle.Indicator{testIndicator(old, "")}, []struggle.Recommendation{acted, pending}); err != nil {
		t.Fatalf("save day 1: %v", err)
	}
	if err := repo.AddIndicators(ctx, []struggle.Indicator{live}); err != nil {
		t.Fatalf("add session indicator: %v", err)
	}
	got, err := s.Interventions().Get(ctx, acted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := got.Transition(struggle.InterventionApplied, day); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Interventions().Update(ctx, got, struggle.InterventionPending); err != nil {
		t.Fatalf("update: %v", err)
	}
	fb := &struggle.Feedback{ID: uuid.New().String(), PredictionID: old.ID, LearnerID: "l1", Kind: struggle.FeedbackHelpful, CreatedAt: day}
	if err := s.Feedback().Insert(ctx, fb); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	next := testPrediction("l1", "o1", 0.75)
	next.AsOf = struggle.AsOfDate(day.AddDate(0, 0, 1))
	res, err := repo.Save(ctx, next, nil, []struggle.Recommendation{
		testRecommendation(next, struggle.InterventionPrerequisiteReview, 9),
		testRecommendation(next, struggle.InterventionReviewBoost, 7),
	})
	if err != nil {
		t.Fatalf("save day 2: %v", err)
	}
	if len(res.Superseded) != 1 || res.Superseded[0] != old.ID {
		t.Fatalf("superseded = %v, want [%s]", res.Superseded, old.ID)
	}
	if len(res.Interventions) != 1 || res.Interventions[0].Type != struggle.InterventionReviewBoost {
		t.Errorf("fresh interventions = %+v, want only the review boost", res.Interventions)
	}
	if _, err := repo.Get(ctx, old.ID); !errors.Is(err, struggle.ErrNotFound) {
		t.Errorf("old prediction: %v, want ErrNotFound", err)
	}

	recs, err := s.Interventions().List(ctx, InterventionFilter{LearnerID: "l1"})
	if err != nil {
		t.Fatalf("list interventions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d interventions, want the carried-over one plus a fresh boost", len(recs))
	}
	for _, r := range recs {
		if r.PredictionID != next.ID {
			t.Errorf("intervention %s still points at %s", r.ID, r.PredictionID)
		}
		if r.Type == struggle.InterventionPrerequisiteReview && r.ID != acted.ID {
			t.Errorf("applied review was regenerated as %s", r.ID)
		}
	}

	ind, err := repo.Indicators(ctx, next.ID)
	if err != nil {
		t.Fatalf("indicators: %v", err)
	}
	if len(ind) != 1 || ind[0].ID != live.ID {
		t.Errorf("indicators = %+v, want only the session indicator", ind)
	}
	moved, err := s.Feedback().ListByPrediction(ctx, next.ID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != fb.ID {
		t.Errorf("feedback = %+v, want carried over", moved)
	}

	counts, err := repo.CountByStatus(ctx, PredictionFilter{LearnerID: "l1"})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[struggle.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", counts[struggle.StatusPending])
	}
}

func TestPredictionFilterAndCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Predictions()

	for i, prob := range []float64{0.2, 0.55, 0.9} {
		p := testPrediction("l1", "o"+string(rune('a'+i)), prob)
		if _, err := repo.Save(ctx, p, nil, nil); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	minP := 0.5
	got, err := repo.List(ctx, PredictionFilter{LearnerID: "l1", MinProbability: &minP})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("filtered = %d, want 2", len(got))
	}
	counts, err := repo.CountByStatus(ctx, PredictionFilter{LearnerID: "l1"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[struggle.StatusPending] != 3 {
		t.Errorf("pending = %d, want 3", counts[struggle.StatusPending])
	}
}

func TestInterventionUpdateGuardsStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPrediction("l1", "o1", 0.8)
	rec := testRecommendation(p, struggle.InterventionLoadReduction, 8)
	if _, err := s.Predictions().Save(ctx, p, nil, []struggle.Recommendation{rec}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Interventions().Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := got.Transition(struggle.InterventionApplied, day); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Interventions().Update(ctx, got, struggle.InterventionPending); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A stale writer still believing the row is PENDING loses.
	if err := s.Interventions().Update(ctx, got, struggle.InterventionPending); !errors.Is(err, struggle.ErrInvalidTransition) {
		t.Errorf("stale update: %v, want ErrInvalidTransition", err)
	}

	first, err := s.Interventions().FirstApplied(ctx, "l1")
	if err != nil {
		t.Fatalf("first applied: %v", err)
	}
	if first == nil || !first.Equal(day) {
		t.Errorf("first applied = %v, want %v", first, day)
	}
}

func TestQuotaConsume(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	q := s.Quota()

	for i := 1; i <= 3; i++ {
		ok, used, err := q.Consume(ctx, "l1", "2026-03-02", 3)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !ok || used != i {
			t.Fatalf("consume %d: ok=%v used=%d", i, ok, used)
		}
	}
	ok, used, err := q.Consume(ctx, "l1", "2026-03-02", 3)
	if err != nil {
		t.Fatalf("consume 4: %v", err)
	}
	if ok || used != 3 {
		t.Errorf("fourth run: ok=%v used=%d, want rejected at 3", ok, used)
	}
	// A new day resets the counter.
	if ok, _, _ := q.Consume(ctx, "l1", "2026-03-03", 3); !ok {
		t.Error("next day should be allowed")
	}
}

func TestOutcomesCountWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Outcomes()

	for i := 0; i < 4; i++ {
		err := repo.Insert(ctx, &struggle.Outcome{
			ID:          uuid.New().String(),
			LearnerID:   "l1",
			ObjectiveID: "o1",
			Probability: 0.6,
			Predicted:   true,
			Actual:      i%2 == 0,
			Features:    features.NewVector(),
			RecordedAt:  day.Add(time.Duration(i) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	n, err := repo.Count(ctx, OutcomeFilter{Since: day.Add(48 * time.Hour)})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count since day 2 = %d, want 2", n)
	}
	all, err := repo.List(ctx, OutcomeFilter{LearnerID: "l1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || !all[0].Actual || all[0].Features.Get(features.RetentionScore) != features.Neutral {
		t.Errorf("list = %+v", all)
	}
}

func TestLearningCollaborators(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	l := s.Learning()

	ability := 0.4
	if err := l.UpsertLearner(ctx, Learner{
		Profile: learner.Profile{
			LearnerID:        "l1",
			PreferredFormats: []curriculum.Format{curriculum.FormatVideo},
			Ability:          &ability,
			SessionMinutes:   30,
		},
		DailyCapacityMinutes: 60,
	}); err != nil {
		t.Fatalf("upsert learner: %v", err)
	}
	for _, o := range []curriculum.Objective{
		{ID: "o0", Topic: "algebra"},
		{ID: "o1", Topic: "algebra"},
	} {
		if err := l.UpsertObjective(ctx, o); err != nil {
			t.Fatalf("upsert objective: %v", err)
		}
	}
	if err := l.AddEdge(ctx, curriculum.Edge{ObjectiveID: "o1", RequiresID: "o0"}); err != nil {
		t.Fatalf("edge: %v", err)
	}
	// Duplicate edges are ignored.
	if err := l.AddEdge(ctx, curriculum.Edge{ObjectiveID: "o1", RequiresID: "o0"}); err != nil {
		t.Fatalf("duplicate edge: %v", err)
	}

	prof, err := l.Profile(ctx, "l1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if prof.Ability == nil || *prof.Ability != 0.4 || len(prof.PreferredFormats) != 1 {
		t.Errorf("profile = %+v", prof)
	}
	if _, err := l.Profile(ctx, "nobody"); !errors.Is(err, learner.ErrNotFound) {
		t.Errorf("missing profile: %v", err)
	}

	pre, err := l.Prerequisites(ctx, "o1")
	if err != nil {
		t.Fatalf("prerequisites: %v", err)
	}
	if len(pre) != 1 || pre[0].ID != "o0" {
		t.Errorf("prerequisites = %+v", pre)
	}

	if err := l.UpsertSession(ctx, Session{ID: "s1", LearnerID: "l1", ObjectiveID: "o0", StartedAt: day}); err != nil {
		t.Fatalf("session: %v", err)
	}
	for i, rating := range []learner.Rating{learner.RatingGood, learner.RatingAgain, learner.RatingAgain} {
		err := l.RecordReview(ctx, "l1", learner.ReviewEvent{
			SessionID:   "s1",
			ObjectiveID: "o0",
			Rating:      rating,
			Duration:    time.Minute,
			At:          day.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("review: %v", err)
		}
	}
	perf, err := l.ObjectivePerformance(ctx, "l1", "o0")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if perf == nil || perf.Reviews != 3 || perf.Lapses != 2 {
		t.Fatalf("performance = %+v", perf)
	}
	if perf.LastStudiedAt == nil || !perf.LastStudiedAt.Equal(day.Add(2*time.Minute)) {
		t.Errorf("last studied = %v", perf.LastStudiedAt)
	}
	none, err := l.ObjectivePerformance(ctx, "l1", "o1")
	if err != nil || none != nil {
		t.Errorf("unstudied performance = %+v, %v", none, err)
	}

	active, err := l.ActiveSession(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if len(active.Reviews) != 2 || !active.Reviews[0].At.Before(active.Reviews[1].At) {
		t.Errorf("active reviews = %+v", active.Reviews)
	}

	if _, err := s.Plan().InsertItem(ctx, plan.Item{
		LearnerID: "l1", ObjectiveID: "o1", Kind: plan.KindStudy,
		ScheduledFor: day.Add(24 * time.Hour), DurationMinutes: 90,
	}); err != nil {
		t.Fatalf("plan item: %v", err)
	}
	cal, err := l.Calendar(ctx, "l1", day, day.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if cal.PlannedMinutes != 90 || cal.CapacityMinutes != 420 {
		t.Errorf("calendar = %+v", cal)
	}
	up, err := l.Upcoming(ctx, "l1", day, day.Add(14*24*time.Hour))
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(up) != 1 || up[0].Objective.ID != "o1" {
		t.Errorf("upcoming = %+v", up)
	}

	if err := l.RecordTopicOutcome(ctx, "l1", "algebra", true, day); err != nil {
		t.Fatalf("topic outcome: %v", err)
	}
	if err := l.RecordTopicOutcome(ctx, "l1", "algebra", false, day); err != nil {
		t.Fatalf("topic outcome: %v", err)
	}
	pat, err := l.Pattern(ctx, "l1", "algebra")
	if err != nil || pat == nil || pat.Samples != 2 || pat.StruggleRate != 0.5 {
		t.Errorf("pattern = %+v, %v", pat, err)
	}
}

func TestPlanAdjustDuration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := s.Plan()

	id, err := p.InsertItem(ctx, plan.Item{
		LearnerID: "l1", ObjectiveID: "o1", Kind: plan.KindStudy,
		ScheduledFor: day, DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := p.AdjustDuration(ctx, plan.Adjustment{
		LearnerID: "l1", ObjectiveID: "o1", InterventionID: "iv-1",
		DurationFactor: 0.5, BreakEveryMinutes: 25,
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got != id {
		t.Errorf("adjusted %s, want %s", got, id)
	}
	item, err := p.Item(ctx, id)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.DurationMinutes != 30 || item.BreakEveryMinutes != 25 || item.InterventionID != "iv-1" {
		t.Errorf("item = %+v", item)
	}

	if _, err := p.AdjustDuration(ctx, plan.Adjustment{LearnerID: "l1", ObjectiveID: "none", DurationFactor: 0.5}); !errors.Is(err, plan.ErrNoItem) {
		t.Errorf("adjust missing: %v, want ErrNoItem", err)
	}

	done, err := p.CompleteItem(ctx, id, true, day.Add(time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != plan.StatusCompleted || done.Struggled == nil || !*done.Struggled {
		t.Errorf("completed = %+v", done)
	}
	if _, err := p.CompleteItem(ctx, id, true, day); !errors.Is(err, struggle.ErrInvalidTransition) {
		t.Errorf("complete twice: %v", err)
	}
}
