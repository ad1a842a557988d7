package struggle

import (
	"fmt"
	"sort"
	"time"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/model"
)

// IndicatorType is the kind of evidence an indicator carries.
type IndicatorType string

const (
	IndicatorLowRetention       IndicatorType = "LOW_RETENTION"
	IndicatorPrerequisiteGap    IndicatorType = "PREREQUISITE_GAP"
	IndicatorComplexityMismatch IndicatorType = "COMPLEXITY_MISMATCH"
	IndicatorCognitiveOverload  IndicatorType = "COGNITIVE_OVERLOAD"
	IndicatorHistoricalPattern  IndicatorType = "HISTORICAL_STRUGGLE_PATTERN"
	IndicatorTopicSimilarity    IndicatorType = "TOPIC_SIMILARITY_STRUGGLE"
)

// Severity ranks indicators.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities: LOW=1, MEDIUM=2, HIGH=3, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Weight maps a severity onto [0,1] for urgency scoring.
func (s Severity) Weight() float64 { return float64(s.Rank()) / 3 }

// Max returns the higher of two severities.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

// Indicator is an immutable, typed signal attached to a prediction. Batch
// indicators come from the prediction's top factors; real-time indicators
// come from an active session and carry its id.
type Indicator struct {
	ID           string        `json:"id"`
	PredictionID string        `json:"prediction_id"`
	LearnerID    string        `json:"learner_id"`
	ObjectiveID  string        `json:"objective_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Type         IndicatorType `json:"type"`
	Severity     Severity      `json:"severity"`
	Feature      features.Name `json:"feature,omitempty"`
	Value        float64       `json:"value"`
	Description  string        `json:"description"`
	Related      []string      `json:"related,omitempty"` // e.g. unmet prerequisite ids
	CreatedAt    time.Time     `json:"created_at"`
}

// IndicatorTypeOf maps a feature onto the indicator it evidences.
// Format mismatch is reported as a complexity mismatch in presentation
// rather than content; the intervention engine tells them apart by feature.
func IndicatorTypeOf(n features.Name) IndicatorType {
	switch n {
	case features.RetentionScore, features.RecentSessionScore, features.AssessmentScore:
		return IndicatorLowRetention
	case features.RetentionDeclineRate, features.ReviewLapseRate, features.DaysSinceLastStudy:
		return IndicatorHistoricalPattern
	case features.PrerequisiteGapCount, features.PrerequisiteMasteryGap:
		return IndicatorPrerequisiteGap
	case features.ContentDifficulty, features.DifficultyMismatch, features.FormatMismatch:
		return IndicatorComplexityMismatch
	case features.CognitiveLoad, features.Workload, features.DaysUntilAssessment:
		return IndicatorCognitiveOverload
	case features.HistoricalStruggle:
		return IndicatorTopicSimilarity
	}
	return IndicatorHistoricalPattern
}

// Risk maps a feature value onto [0,1] where 1 is the riskiest reading.
// Scores are good when high; everything else is risky when high.
func Risk(n features.Name, value float64) float64 {
	switch n {
	case features.RetentionScore, features.RecentSessionScore, features.AssessmentScore, features.DaysUntilAssessment:
		return 1 - value
	}
	return value
}

// SeverityOf grades a risk reading.
func SeverityOf(risk float64) Severity {
	switch {
	case risk >= 0.7:
		return SeverityHigh
	case risk >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// DeriveIndicators turns the top n factors of a prediction into
// indicators, one per type, keeping the most severe reading of each.
// related lists the unmet prerequisites attached to a PREREQUISITE_GAP
// indicator.
func DeriveIndicators(p *Prediction, n int, related []string, now time.Time) []Indicator {
	top := p.Factors
	if n < len(top) {
		top = top[:n]
	}

	byType := make(map[IndicatorType]*Indicator)
	var order []IndicatorType
	for _, f := range top {
		typ := IndicatorTypeOf(f.Feature)
		sev := SeverityOf(Risk(f.Feature, f.Value))
		if cur, ok := byType[typ]; ok {
			if sev.Rank() > cur.Severity.Rank() {
				cur.Severity = sev
				cur.Feature = f.Feature
				cur.Value = f.Value
				cur.Description = describe(f)
			}
			continue
		}
		ind := &Indicator{
			PredictionID: p.ID,
			LearnerID:    p.LearnerID,
			ObjectiveID:  p.ObjectiveID,
			Type:         typ,
			Severity:     sev,
			Feature:      f.Feature,
			Value:        f.Value,
			Description:  describe(f),
			CreatedAt:    now.UTC(),
		}
		if typ == IndicatorPrerequisiteGap {
			ind.Related = append([]string(nil), related...)
		}
		byType[typ] = ind
		order = append(order, typ)
	}

	out := make([]Indicator, 0, len(order))
	for _, t := range order {
		out = append(out, *byType[t])
	}
	SortIndicators(out)
	return out
}

// SortIndicators orders by severity descending, then type.
func SortIndicators(ind []Indicator) {
	sort.SliceStable(ind, func(i, j int) bool {
		if ind[i].Severity.Rank() != ind[j].Severity.Rank() {
			return ind[i].Severity.Rank() > ind[j].Severity.Rank()
		}
		return ind[i].Type < ind[j].Type
	})
}

// MaxSeverity returns the highest severity in ind, or "" when empty.
func MaxSeverity(ind []Indicator) Severity {
	var s Severity
	for _, i := range ind {
		s = s.Max(i.Severity)
	}
	return s
}

func describe(f model.Factor) string {
	if f.Reason != "" {
		return f.Reason
	}
	return fmt.Sprintf("%s at %.0f%%", f.Feature.Label(), f.Value*100)
}
