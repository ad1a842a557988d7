package features

import (
	"context"
	"slices"
	"time"

	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/learner"
)

func upstream(f Family, source string, err error) error {
	return &UpstreamDataUnavailableError{Family: f, Source: source, Err: err}
}

// performanceFamily reads retention, lapses, session scores and assessments.
// Objective-level history wins; topic-level history fills in for objectives
// the learner has not studied yet.
func (e *Extractor) performanceFamily(ctx context.Context, in *input) (Vector, error) {
	data, err := e.performanceData(ctx, in)
	if err != nil {
		return Vector{}, upstream(FamilyPerformance, "performance history", err)
	}
	v := NewVector()

	obj := data.Objective
	if r, ok := obj.LatestRetention(); ok {
		v.Set(RetentionScore, r)
	} else if data.Topic != nil && data.Topic.Objectives > 0 {
		v.Set(RetentionScore, data.Topic.MeanRetention)
	}

	if obj != nil && len(obj.Retention) >= 2 {
		first := obj.Retention[0].Retention
		last := obj.Retention[len(obj.Retention)-1].Retention
		if first > 0 {
			v.Set(RetentionDeclineRate, (first-last)/first)
		}
	}

	switch {
	case obj != nil && obj.Reviews > 0:
		v.Set(ReviewLapseRate, float64(obj.Lapses)/float64(obj.Reviews))
	case data.Topic != nil && data.Topic.Reviews > 0:
		v.Set(ReviewLapseRate, float64(data.Topic.Lapses)/float64(data.Topic.Reviews))
	}

	if score, ok := meanSessionScore(data.Sessions, in.objective.Topic); ok {
		v.Set(RecentSessionScore, score)
	}

	if obj != nil && obj.AssessmentScore != nil {
		v.Set(AssessmentScore, *obj.AssessmentScore)
	}
	return v, nil
}

// meanSessionScore averages sessions on the topic, or all sessions when none
// match the topic.
func meanSessionScore(sessions []learner.SessionSummary, topic string) (float64, bool) {
	var onTopic []learner.SessionSummary
	for _, s := range sessions {
		if s.Topic == topic {
			onTopic = append(onTopic, s)
		}
	}
	if len(onTopic) == 0 {
		onTopic = sessions
	}
	if len(onTopic) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range onTopic {
		sum += s.Score
	}
	return sum / float64(len(onTopic)), true
}

// prerequisiteFamily measures unmet prerequisites. It stays unobserved when
// the objective has no prerequisites or the learner has no mastery record
// for any of them; once observed, unrecorded prerequisites count as unmet.
func (e *Extractor) prerequisiteFamily(ctx context.Context, in *input) (Vector, error) {
	reqs, err := curriculum.Closure(ctx, e.src.Curriculum, in.objective.ID, e.cfg.PrerequisiteDepth)
	if err != nil {
		return Vector{}, upstream(FamilyPrerequisite, "prerequisite graph", err)
	}
	v := NewVector()
	if len(reqs) == 0 {
		return v, nil
	}

	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.Objective.ID
	}
	mastery, err := e.src.Performance.Mastery(ctx, in.learnerID, ids)
	if err != nil {
		return Vector{}, upstream(FamilyPrerequisite, "mastery", err)
	}
	if len(mastery) == 0 {
		return v, nil
	}

	threshold := e.cfg.MasteryThreshold
	gaps := 0
	var shortfall float64
	for _, id := range ids {
		level := 0.0
		if m, ok := mastery[id]; ok {
			level = m.Level
		}
		if level < threshold {
			gaps++
			in.gaps = append(in.gaps, id)
			shortfall += (threshold - level) / threshold
		}
	}
	v.Set(PrerequisiteGapCount, float64(gaps)/float64(len(ids)))
	v.Set(PrerequisiteMasteryGap, shortfall/float64(len(ids)))
	return v, nil
}

// complexityFamily compares content difficulty with the learner's ability.
// Ability comes from the profile, or from topic retention when the profile
// has none.
func (e *Extractor) complexityFamily(ctx context.Context, in *input) (Vector, error) {
	v := NewVector()
	if in.objective.Difficulty == nil {
		return v, nil
	}
	difficulty := *in.objective.Difficulty
	v.Set(ContentDifficulty, difficulty)

	var ability float64
	switch {
	case in.profile.Ability != nil:
		ability = *in.profile.Ability
	default:
		data, err := e.performanceData(ctx, in)
		if err != nil {
			return Vector{}, upstream(FamilyComplexity, "performance history", err)
		}
		if data.Topic == nil || data.Topic.Objectives == 0 {
			return v, nil
		}
		ability = data.Topic.MeanRetention
	}
	// 0.5 means difficulty matches ability; 1.0 means far too hard.
	v.Set(DifficultyMismatch, (difficulty-ability+1)/2)
	return v, nil
}

// behavioralFamily reads the long-lived struggle aggregate for the topic,
// the format preference, and how the objective's length compares with the
// learner's comfortable session length.
func (e *Extractor) behavioralFamily(ctx context.Context, in *input) (Vector, error) {
	v := NewVector()

	if in.objective.Topic != "" {
		entry, err := e.behaviorData(ctx, in)
		if err != nil {
			return Vector{}, upstream(FamilyBehavioral, "behavior patterns", err)
		}
		if p := entry.Pattern; p != nil && p.Samples > 0 {
			v.Set(HistoricalStruggle, p.StruggleRate)
		}
	}

	if in.objective.Format != "" && len(in.profile.PreferredFormats) > 0 {
		v.Set(FormatMismatch, formatMismatch(in.objective.Format, in.profile.PreferredFormats))
	}

	if in.objective.EstimatedMinutes > 0 && in.profile.SessionMinutes > 0 {
		v.Set(CognitiveLoad, float64(in.objective.EstimatedMinutes)/float64(2*in.profile.SessionMinutes))
	}
	return v, nil
}

// formatMismatch is 0 for the most preferred format, rising with rank, and
// 1 for a format the learner does not list.
func formatMismatch(f curriculum.Format, preferred []curriculum.Format) float64 {
	idx := slices.Index(preferred, f)
	if idx < 0 {
		return 1
	}
	return float64(idx) / float64(len(preferred))
}

// contextualFamily reads the calendar and recency of study.
func (e *Extractor) contextualFamily(ctx context.Context, in *input) (Vector, error) {
	cal, err := e.src.Calendar.Calendar(ctx, in.learnerID, in.asOf, in.asOf.Add(e.cfg.ContextHorizon))
	if err != nil {
		return Vector{}, upstream(FamilyContextual, "calendar", err)
	}
	v := NewVector()

	if cal != nil {
		if cal.NextAssessment != nil {
			v.Set(DaysUntilAssessment, daysBetween(in.asOf, *cal.NextAssessment)/e.cfg.AssessmentHorizonDays)
		}
		if cal.CapacityMinutes > 0 {
			v.Set(Workload, float64(cal.PlannedMinutes)/float64(cal.CapacityMinutes))
		}
	}

	data, err := e.performanceData(ctx, in)
	if err != nil {
		return Vector{}, upstream(FamilyContextual, "performance history", err)
	}
	var last *time.Time
	if data.Objective != nil && data.Objective.LastStudiedAt != nil {
		last = data.Objective.LastStudiedAt
	} else if data.Topic != nil && data.Topic.LastStudiedAt != nil {
		last = data.Topic.LastStudiedAt
	}
	if last != nil {
		v.Set(DaysSinceLastStudy, daysBetween(*last, in.asOf)/e.cfg.StaleAfterDays)
	}
	return v, nil
}

func daysBetween(from, to time.Time) float64 {
	d := to.Sub(from).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
