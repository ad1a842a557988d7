package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/plan"
)

// Fixture is a YAML description of learners, curriculum and history used
// to seed a database.
type Fixture struct {
	Learners    []FixtureLearner       `yaml:"learners"`
	Objectives  []curriculum.Objective `yaml:"objectives"`
	Edges       []curriculum.Edge      `yaml:"edges"`
	Mastery     []FixtureMastery       `yaml:"mastery"`
	Retention   []FixtureRetention     `yaml:"retention"`
	Assessments []Assessment           `yaml:"assessments"`
	Sessions    []Session              `yaml:"sessions"`
	Reviews     []FixtureReview        `yaml:"reviews"`
	Behavior    []FixtureBehavior      `yaml:"behavior"`
	Plan        []plan.Item            `yaml:"plan"`
}

type FixtureLearner struct {
	ID                   string              `yaml:"id"`
	Name                 string              `yaml:"name"`
	PreferredFormats     []curriculum.Format `yaml:"preferred_formats"`
	PreferredHours       []int               `yaml:"preferred_hours"`
	DecayRate            float64             `yaml:"decay_rate"`
	Ability              *float64            `yaml:"ability"`
	SessionMinutes       int                 `yaml:"session_minutes"`
	DailyCapacityMinutes int                 `yaml:"daily_capacity_minutes"`
}

type FixtureMastery struct {
	Learner   string  `yaml:"learner"`
	Objective string  `yaml:"objective"`
	Level     float64 `yaml:"level"`
}

type FixtureRetention struct {
	Learner   string    `yaml:"learner"`
	Objective string    `yaml:"objective"`
	Retention float64   `yaml:"retention"`
	At        time.Time `yaml:"at"`
}

type FixtureReview struct {
	Session         string         `yaml:"session"`
	Learner         string         `yaml:"learner"`
	Objective       string         `yaml:"objective"`
	Rating          learner.Rating `yaml:"rating"`
	DurationSeconds int            `yaml:"duration_seconds"`
	ExpectedSeconds int            `yaml:"expected_seconds"`
	ValidatorScore  *float64       `yaml:"validator_score"`
	At              time.Time      `yaml:"at"`
}

type FixtureBehavior struct {
	Learner      string  `yaml:"learner"`
	Topic        string  `yaml:"topic"`
	Samples      int     `yaml:"samples"`
	StruggleRate float64 `yaml:"struggle_rate"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Seed writes every record of f. Learners and objectives are upserted, so
// seeding the same curriculum twice is safe; history rows are appended.
func (l *Learning) Seed(ctx context.Context, f *Fixture) error {
	for _, lr := range f.Learners {
		err := l.UpsertLearner(ctx, Learner{
			Profile: learner.Profile{
				LearnerID:        lr.ID,
				Name:             lr.Name,
				PreferredFormats: lr.PreferredFormats,
				PreferredHours:   lr.PreferredHours,
				DecayRate:        lr.DecayRate,
				Ability:          lr.Ability,
				SessionMinutes:   lr.SessionMinutes,
			},
			DailyCapacityMinutes: lr.DailyCapacityMinutes,
		})
		if err != nil {
			return fmt.Errorf("seed learner %s: %w", lr.ID, err)
		}
	}
	for _, o := range f.Objectives {
		if err := l.UpsertObjective(ctx, o); err != nil {
			return fmt.Errorf("seed objective %s: %w", o.ID, err)
		}
	}
	for _, e := range f.Edges {
		if err := l.AddEdge(ctx, e); err != nil {
			return fmt.Errorf("seed edge %s->%s: %w", e.ObjectiveID, e.RequiresID, err)
		}
	}
	for _, m := range f.Mastery {
		if err := l.SetMastery(ctx, m.Learner, learner.Mastery{ObjectiveID: m.Objective, Level: m.Level}); err != nil {
			return fmt.Errorf("seed mastery: %w", err)
		}
	}
	for _, r := range f.Retention {
		if err := l.RecordRetention(ctx, r.Learner, r.Objective, learner.RetentionPoint{At: r.At, Retention: r.Retention}); err != nil {
			return fmt.Errorf("seed retention: %w", err)
		}
	}
	for _, a := range f.Assessments {
		if err := l.RecordAssessment(ctx, a); err != nil {
			return fmt.Errorf("seed assessment: %w", err)
		}
	}
	for _, s := range f.Sessions {
		if err := l.UpsertSession(ctx, s); err != nil {
			return fmt.Errorf("seed session %s: %w", s.ID, err)
		}
	}
	for _, r := range f.Reviews {
		err := l.RecordReview(ctx, r.Learner, learner.ReviewEvent{
			SessionID:      r.Session,
			ObjectiveID:    r.Objective,
			Rating:         r.Rating,
			Duration:       time.Duration(r.DurationSeconds) * time.Second,
			ExpectedTime:   time.Duration(r.ExpectedSeconds) * time.Second,
			ValidatorScore: r.ValidatorScore,
			At:             r.At,
		})
		if err != nil {
			return fmt.Errorf("seed review: %w", err)
		}
	}
	for _, b := range f.Behavior {
		err := l.UpsertPattern(ctx, b.Learner, learner.BehaviorPattern{Topic: b.Topic, Samples: b.Samples, StruggleRate: b.StruggleRate})
		if err != nil {
			return fmt.Errorf("seed behavior: %w", err)
		}
	}
	for _, it := range f.Plan {
		if _, err := l.s.Plan().InsertItem(ctx, it); err != nil {
			return fmt.Errorf("seed plan item: %w", err)
		}
	}
	return nil
}
