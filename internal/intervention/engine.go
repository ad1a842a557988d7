// Package intervention maps struggle indicators onto ranked corrective
// actions. The mapping is a fixed table; the engine creates records only
// and never touches a study plan.
package intervention

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/struggle"
)

// Config tunes the plan parameters attached to recommendations.
type Config struct {
	// PrerequisiteLeadDays is how many days before the objective a
	// prerequisite review is scheduled.
	PrerequisiteLeadDays int `yaml:"prerequisite_lead_days" validate:"gte=1,lte=2"`
	// StagingLeadDays is how many days before the objective easier content
	// is staged.
	StagingLeadDays int `yaml:"staging_lead_days" validate:"gte=0"`
	// LoadFactor scales the session duration when reducing load.
	LoadFactor float64 `yaml:"load_factor" validate:"gt=0,lt=1"`
	// ReviewOffsetsDays is the boosted review spacing after the objective.
	ReviewOffsetsDays []int `yaml:"review_offsets_days" validate:"min=1,dive,gte=1"`
	// BreakEveryMinutes is the break interval for long sessions.
	BreakEveryMinutes int `yaml:"break_every_minutes" validate:"gte=5"`
	// LongSessionLoad is the cognitive-load reading at or above which a
	// session counts as long (1.0 = twice the learner's comfortable length).
	LongSessionLoad float64 `yaml:"long_session_load" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default plan parameters.
func DefaultConfig() Config {
	return Config{
		PrerequisiteLeadDays: 2,
		StagingLeadDays:      1,
		LoadFactor:           0.5,
		ReviewOffsetsDays:    []int{1, 3, 7},
		BreakEveryMinutes:    25,
		LongSessionLoad:      0.5,
	}
}

// Priorities is the fixed indicator-to-intervention priority table.
var Priorities = map[struggle.InterventionType]int{
	struggle.InterventionPrerequisiteReview: 9,
	struggle.InterventionDifficultyStaging:  8,
	struggle.InterventionLoadReduction:      8,
	struggle.InterventionFormatSubstitution: 7,
	struggle.InterventionReviewBoost:        6,
	struggle.InterventionBreakScheduling:    5,
}

// Engine recommends interventions.
type Engine struct {
	cfg   Config
	newID func() string
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, newID: uuid.NewString}
}

// Recommend returns one recommendation per matched intervention type,
// sorted by priority descending, then severity descending. The same inputs
// always yield the same recommendations apart from their ids.
func (e *Engine) Recommend(p *struggle.Prediction, indicators []struggle.Indicator) []struggle.Recommendation {
	best := make(map[struggle.InterventionType]struggle.Recommendation)
	add := func(r struggle.Recommendation) {
		cur, ok := best[r.Type]
		if ok && cur.Severity.Rank() >= r.Severity.Rank() {
			return
		}
		best[r.Type] = r
	}

	for _, ind := range indicators {
		for _, r := range e.match(p, ind) {
			add(r)
		}
	}

	out := make([]struggle.Recommendation, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	Sort(out)
	for i := range out {
		out[i].ID = e.newID()
	}
	return out
}

// Sort orders recommendations by priority descending, then severity
// descending, then type for a total order.
func Sort(recs []struggle.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		if a, b := recs[i].Severity.Rank(), recs[j].Severity.Rank(); a != b {
			return a > b
		}
		return recs[i].Type < recs[j].Type
	})
}

func (e *Engine) match(p *struggle.Prediction, ind struggle.Indicator) []struggle.Recommendation {
	base := func(t struggle.InterventionType, rationale string) struggle.Recommendation {
		return struggle.Recommendation{
			PredictionID:  p.ID,
			LearnerID:     p.LearnerID,
			ObjectiveID:   p.ObjectiveID,
			Type:          t,
			IndicatorType: ind.Type,
			Severity:      ind.Severity,
			Priority:      Priorities[t],
			Status:        struggle.InterventionPending,
			Rationale:     rationale,
			CreatedAt:     p.UpdatedAt,
			UpdatedAt:     p.UpdatedAt,
		}
	}

	switch ind.Type {
	case struggle.IndicatorPrerequisiteGap:
		r := base(struggle.InterventionPrerequisiteReview,
			fmt.Sprintf("Review prerequisites %d day(s) before the objective: %s", e.cfg.PrerequisiteLeadDays, ind.Description))
		if len(ind.Related) > 0 {
			r.TargetObjectiveID = ind.Related[0]
		}
		r.ScheduledFor = e.before(p, e.cfg.PrerequisiteLeadDays)
		return []struggle.Recommendation{r}

	case struggle.IndicatorComplexityMismatch:
		if ind.Feature == features.FormatMismatch {
			r := base(struggle.InterventionFormatSubstitution,
				"Substitute the learner's preferred content format: "+ind.Description)
			r.TargetObjectiveID = p.ObjectiveID
			r.ScheduledFor = e.before(p, 0)
			return []struggle.Recommendation{r}
		}
		r := base(struggle.InterventionDifficultyStaging,
			"Stage easier content before the advanced material: "+ind.Description)
		r.TargetObjectiveID = p.ObjectiveID
		r.ScheduledFor = e.before(p, e.cfg.StagingLeadDays)
		return []struggle.Recommendation{r}

	case struggle.IndicatorCognitiveOverload:
		r := base(struggle.InterventionLoadReduction,
			fmt.Sprintf("Reduce session scope to %.0f%% and add breaks: %s", e.cfg.LoadFactor*100, ind.Description))
		r.DurationFactor = e.cfg.LoadFactor
		r.ScheduledFor = e.before(p, 0)
		out := []struggle.Recommendation{r}
		if e.longSession(p) {
			b := base(struggle.InterventionBreakScheduling,
				fmt.Sprintf("Insert a break every %d minutes in this long session", e.cfg.BreakEveryMinutes))
			b.BreakEveryMinutes = e.cfg.BreakEveryMinutes
			b.ScheduledFor = e.before(p, 0)
			out = append(out, b)
		}
		return out

	case struggle.IndicatorHistoricalPattern, struggle.IndicatorTopicSimilarity, struggle.IndicatorLowRetention:
		// Weak retention and recurring struggle both call for more frequent review.
		r := base(struggle.InterventionReviewBoost,
			fmt.Sprintf("Increase review cadence to %v-day spacing: %s", e.cfg.ReviewOffsetsDays, ind.Description))
		r.TargetObjectiveID = p.ObjectiveID
		r.ReviewOffsetsDays = append([]int(nil), e.cfg.ReviewOffsetsDays...)
		r.ScheduledFor = e.before(p, 0)
		return []struggle.Recommendation{r}
	}
	return nil
}

// longSession reports whether the objective is long relative to the
// learner's comfortable session length.
func (e *Engine) longSession(p *struggle.Prediction) bool {
	return p.Features.IsObserved(features.CognitiveLoad) &&
		p.Features.Get(features.CognitiveLoad) >= e.cfg.LongSessionLoad
}

// before returns the objective's due date minus days, never earlier than
// the prediction's as-of date.
func (e *Engine) before(p *struggle.Prediction, days int) *time.Time {
	asOf, err := time.Parse(struggle.DateLayout, p.AsOf)
	if err != nil {
		return nil
	}
	if p.DueDate == nil {
		t := asOf
		return &t
	}
	t := p.DueDate.UTC().AddDate(0, 0, -days)
	if t.Before(asOf) {
		t = asOf
	}
	return &t
}
