package features

import (
	"fmt"
	"math"
	"sort"
)

// Name identifies a single normalized feature.
type Name string

const (
	// Performance family.
	RetentionScore       Name = "retention_score"
	RetentionDeclineRate Name = "retention_decline_rate"
	ReviewLapseRate      Name = "review_lapse_rate"
	RecentSessionScore   Name = "recent_session_score"
	AssessmentScore      Name = "assessment_score"

	// Prerequisite family.
	PrerequisiteGapCount   Name = "prerequisite_gap_count"
	PrerequisiteMasteryGap Name = "prerequisite_mastery_gap"

	// Complexity family.
	ContentDifficulty  Name = "content_difficulty"
	DifficultyMismatch Name = "difficulty_mismatch"

	// Behavioral family.
	HistoricalStruggle Name = "historical_struggle"
	FormatMismatch     Name = "format_mismatch"
	CognitiveLoad      Name = "cognitive_load"

	// Contextual family.
	DaysUntilAssessment Name = "days_until_assessment"
	DaysSinceLastStudy  Name = "days_since_last_study"
	Workload            Name = "workload"
)

// Family groups features that are read from the same upstream sources.
type Family string

const (
	FamilyPerformance  Family = "performance"
	FamilyPrerequisite Family = "prerequisite"
	FamilyComplexity   Family = "complexity"
	FamilyBehavioral   Family = "behavioral"
	FamilyContextual   Family = "contextual"
)

// Neutral is the value a feature takes when its signal is missing.
const Neutral = 0.5

var families = map[Family][]Name{
	FamilyPerformance:  {RetentionScore, RetentionDeclineRate, ReviewLapseRate, RecentSessionScore, AssessmentScore},
	FamilyPrerequisite: {PrerequisiteGapCount, PrerequisiteMasteryGap},
	FamilyComplexity:   {ContentDifficulty, DifficultyMismatch},
	FamilyBehavioral:   {HistoricalStruggle, FormatMismatch, CognitiveLoad},
	FamilyContextual:   {DaysUntilAssessment, DaysSinceLastStudy, Workload},
}

// AllFamilies returns the families in extraction order.
func AllFamilies() []Family {
	return []Family{FamilyPerformance, FamilyPrerequisite, FamilyComplexity, FamilyBehavioral, FamilyContextual}
}

// All returns every feature name in a stable order. Trainable models index
// their weights by this order.
func All() []Name {
	var names []Name
	for _, f := range AllFamilies() {
		names = append(names, families[f]...)
	}
	return names
}

// Members returns the features belonging to a family.
func Members(f Family) []Name {
	out := make([]Name, len(families[f]))
	copy(out, families[f])
	return out
}

// FamilyOf returns the family a feature belongs to.
func FamilyOf(n Name) Family {
	for f, names := range families {
		for _, m := range names {
			if m == n {
				return f
			}
		}
	}
	return ""
}

// Label returns a human-readable label for the feature.
func (n Name) Label() string {
	switch n {
	case RetentionScore:
		return "retention"
	case RetentionDeclineRate:
		return "retention decline"
	case ReviewLapseRate:
		return "review lapse rate"
	case RecentSessionScore:
		return "recent session score"
	case AssessmentScore:
		return "assessment score"
	case PrerequisiteGapCount:
		return "prerequisite gaps"
	case PrerequisiteMasteryGap:
		return "prerequisite mastery gap"
	case ContentDifficulty:
		return "content difficulty"
	case DifficultyMismatch:
		return "difficulty vs. ability mismatch"
	case HistoricalStruggle:
		return "struggle on similar topics"
	case FormatMismatch:
		return "content format mismatch"
	case CognitiveLoad:
		return "cognitive load"
	case DaysUntilAssessment:
		return "days until assessment"
	case DaysSinceLastStudy:
		return "days since last study"
	case Workload:
		return "current workload"
	default:
		return string(n)
	}
}

// Vector is a normalized feature vector for one learner/objective pair.
// Every value lies in [0,1]. Features that were not observed hold Neutral
// and are absent from Observed.
type Vector struct {
	Values      map[Name]float64 `json:"values"`
	Observed    map[Name]bool    `json:"observed,omitempty"`
	DataQuality float64          `json:"data_quality"`
}

// NewVector returns a vector with every feature at Neutral and no
// observations.
func NewVector() Vector {
	v := Vector{
		Values:   make(map[Name]float64, len(All())),
		Observed: make(map[Name]bool),
	}
	for _, n := range All() {
		v.Values[n] = Neutral
	}
	return v
}

// Set records an observed value, clamped to [0,1], and refreshes
// DataQuality.
func (v *Vector) Set(n Name, value float64) {
	if v.Values == nil {
		*v = NewVector()
	}
	if v.Observed == nil {
		v.Observed = make(map[Name]bool)
	}
	v.Values[n] = Clamp01(value)
	v.Observed[n] = true
	v.refreshQuality()
}

// Get returns the value of a feature, or Neutral if it is unknown.
func (v Vector) Get(n Name) float64 {
	if val, ok := v.Values[n]; ok {
		return val
	}
	return Neutral
}

// IsObserved reports whether the feature came from real data.
func (v Vector) IsObserved(n Name) bool {
	return v.Observed[n]
}

// Merge copies observed values from other into v.
func (v *Vector) Merge(other Vector) {
	for n, ok := range other.Observed {
		if ok {
			v.Set(n, other.Values[n])
		}
	}
}

// Clone returns a deep copy.
func (v Vector) Clone() Vector {
	out := Vector{
		Values:      make(map[Name]float64, len(v.Values)),
		Observed:    make(map[Name]bool, len(v.Observed)),
		DataQuality: v.DataQuality,
	}
	for n, val := range v.Values {
		out.Values[n] = val
	}
	for n, ok := range v.Observed {
		out.Observed[n] = ok
	}
	return out
}

// Slice returns values in All() order.
func (v Vector) Slice() []float64 {
	names := All()
	out := make([]float64, len(names))
	for i, n := range names {
		out[i] = v.Get(n)
	}
	return out
}

// ObservedNames returns the observed features in sorted order.
func (v Vector) ObservedNames() []Name {
	var out []Name
	for n, ok := range v.Observed {
		if ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the [0,1] invariants.
func (v Vector) Validate() error {
	for n, val := range v.Values {
		if math.IsNaN(val) || val < 0 || val > 1 {
			return fmt.Errorf("feature %s out of range: %v", n, val)
		}
	}
	if v.DataQuality < 0 || v.DataQuality > 1 {
		return fmt.Errorf("data quality out of range: %v", v.DataQuality)
	}
	return nil
}

func (v *Vector) refreshQuality() {
	total := len(All())
	observed := 0
	for _, n := range All() {
		if v.Observed[n] {
			observed++
		}
	}
	v.DataQuality = float64(observed) / float64(total)
}

// Clamp01 clamps x to [0,1]. NaN maps to Neutral.
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return Neutral
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
