package struggle

import (
	"errors"
	"testing"
	"time"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/model"
)

func pendingPrediction() *Prediction {
	return &Prediction{
		ID:          "p1",
		LearnerID:   "l1",
		ObjectiveID: "o1",
		AsOf:        "2026-03-02",
		Probability: 0.8,
		Confidence:  0.7,
		Status:      StatusPending,
		Features:    features.NewVector(),
	}
}

func TestPredictionResolve(t *testing.T) {
	tests := []struct {
		struggled bool
		want      Status
	}{
		{true, StatusConfirmed},
		{false, StatusFalsePositive},
	}
	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		p := pendingPrediction()
		if err := p.Resolve(tt.struggled, at); err != nil {
			t.Fatalf("resolve(%v): %v", tt.struggled, err)
		}
		if p.Status != tt.want {
			t.Errorf("status = %s, want %s", p.Status, tt.want)
		}
		if p.ActualOutcome == nil || *p.ActualOutcome != tt.struggled {
			t.Errorf("actual outcome = %v, want %v", p.ActualOutcome, tt.struggled)
		}
		if p.ResolvedAt == nil || !p.ResolvedAt.Equal(at) {
			t.Errorf("resolved at = %v, want %v", p.ResolvedAt, at)
		}
	}
}

func TestPredictionResolveOnlyOnce(t *testing.T) {
	p := pendingPrediction()
	if err := p.Resolve(true, time.Now()); err != nil {
		t.Fatal(err)
	}
	err := p.Resolve(false, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second resolve error = %v, want ErrInvalidTransition", err)
	}
	if p.Status != StatusConfirmed {
		t.Errorf("status changed to %s after rejected resolve", p.Status)
	}
}

func TestPredictionValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Prediction)
		ok     bool
	}{
		{"valid", func(*Prediction) {}, true},
		{"probability above one", func(p *Prediction) { p.Probability = 1.2 }, false},
		{"confidence below half", func(p *Prediction) { p.Confidence = 0.4 }, false},
		{"bad date", func(p *Prediction) { p.AsOf = "03/02/2026" }, false},
		{"missing learner", func(p *Prediction) { p.LearnerID = "" }, false},
		{"unknown status", func(p *Prediction) { p.Status = "DONE" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pendingPrediction()
			tt.mutate(p)
			err := p.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestDeriveIndicators(t *testing.T) {
	p := pendingPrediction()
	p.Factors = []model.Factor{
		{Feature: features.PrerequisiteGapCount, Value: 1.0, Contribution: 0.35},
		{Feature: features.DifficultyMismatch, Value: 0.78, Contribution: 0.2},
		{Feature: features.RetentionScore, Value: 0.3, Contribution: 0.2},
		{Feature: features.PrerequisiteMasteryGap, Value: 0.9, Contribution: 0.15},
	}

	got := DeriveIndicators(p, 3, []string{"action-potential"}, time.Now())
	if len(got) != 3 {
		t.Fatalf("got %d indicators, want 3", len(got))
	}
	types := map[IndicatorType]Indicator{}
	for _, i := range got {
		types[i.Type] = i
		if i.PredictionID != p.ID {
			t.Errorf("indicator %s not linked to prediction", i.Type)
		}
	}
	for _, want := range []IndicatorType{IndicatorPrerequisiteGap, IndicatorComplexityMismatch, IndicatorLowRetention} {
		if _, ok := types[want]; !ok {
			t.Errorf("missing indicator %s", want)
		}
	}
	if gap := types[IndicatorPrerequisiteGap]; len(gap.Related) != 1 || gap.Related[0] != "action-potential" {
		t.Errorf("prerequisite gap related = %v", gap.Related)
	}
	// Retention 0.3 is a risk of 0.7.
	if s := types[IndicatorLowRetention].Severity; s != SeverityHigh {
		t.Errorf("low retention severity = %s, want HIGH", s)
	}
}

func TestDeriveIndicatorsMergesSameType(t *testing.T) {
	p := pendingPrediction()
	p.Factors = []model.Factor{
		{Feature: features.PrerequisiteMasteryGap, Value: 0.3, Contribution: 0.2},
		{Feature: features.PrerequisiteGapCount, Value: 0.9, Contribution: 0.1},
	}
	got := DeriveIndicators(p, 3, nil, time.Now())
	if len(got) != 1 {
		t.Fatalf("got %d indicators, want 1", len(got))
	}
	if got[0].Severity != SeverityHigh || got[0].Feature != features.PrerequisiteGapCount {
		t.Errorf("merged indicator = %+v, want the HIGH gap-count reading", got[0])
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		risk float64
		want Severity
	}{
		{0.0, SeverityLow},
		{0.49, SeverityLow},
		{0.5, SeverityMedium},
		{0.69, SeverityMedium},
		{0.7, SeverityHigh},
		{1.0, SeverityHigh},
	}
	for _, tt := range tests {
		if got := SeverityOf(tt.risk); got != tt.want {
			t.Errorf("SeverityOf(%v) = %s, want %s", tt.risk, got, tt.want)
		}
	}
}

func TestInterventionTransitions(t *testing.T) {
	tests := []struct {
		from, to InterventionStatus
		ok       bool
	}{
		{InterventionPending, InterventionApplied, true},
		{InterventionPending, InterventionDismissed, true},
		{InterventionPending, InterventionCompleted, false},
		{InterventionApplied, InterventionCompleted, true},
		{InterventionCompleted, InterventionApplied, false},
		{InterventionDismissed, InterventionApplied, false},
	}
	for _, tt := range tests {
		r := &Recommendation{ID: "r1", Status: tt.from}
		err := r.Transition(tt.to, time.Now())
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
		if tt.ok && tt.to == InterventionApplied && r.AppliedAt == nil {
			t.Error("applied transition did not stamp AppliedAt")
		}
	}
}

func TestFeedbackImpliedOutcome(t *testing.T) {
	yes := true
	tests := []struct {
		name     string
		fb       Feedback
		want, ok bool
	}{
		{"explicit struggle", Feedback{Kind: FeedbackHelpful, ActualStruggle: &yes}, true, true},
		{"inaccurate", Feedback{Kind: FeedbackInaccurate}, false, true},
		{"helpful only", Feedback{Kind: FeedbackHelpful}, false, false},
	}
	for _, tt := range tests {
		got, ok := tt.fb.ImpliedOutcome()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: ImpliedOutcome() = (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &RateLimitExceededError{LearnerID: "l1", Limit: 3}
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Error("rate limit error does not match sentinel")
	}
	err = &PersistenceWriteError{Op: "prediction", Err: errors.New("disk full")}
	if !errors.Is(err, ErrPersistenceWrite) {
		t.Error("persistence error does not match sentinel")
	}
	err = &InsufficientTrainingDataError{Have: 10, Need: 50}
	if !errors.Is(err, ErrInsufficientTrainingData) {
		t.Error("training data error does not match sentinel")
	}
}
