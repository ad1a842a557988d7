package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/features"
)

func vector(values map[features.Name]float64) features.Vector {
	v := features.NewVector()
	for n, x := range values {
		v.Set(n, x)
	}
	return v
}

// randomVector observes a random subset of features with random values.
func randomVector(f *gofakeit.Faker) features.Vector {
	v := features.NewVector()
	for _, n := range features.All() {
		if f.Bool() {
			v.Set(n, f.Float64Range(0, 1))
		}
	}
	return v
}

// synthetic labels learners as struggling when they have prerequisite gaps
// or low retention, with 10% label noise.
func synthetic(f *gofakeit.Faker, n int) []Example {
	out := make([]Example, n)
	for i := range out {
		gap := f.Float64Range(0, 1)
		retention := f.Float64Range(0, 1)
		v := vector(map[features.Name]float64{
			features.PrerequisiteGapCount: gap,
			features.RetentionScore:       retention,
			features.FormatMismatch:       f.Float64Range(0, 1),
		})
		struggled := gap > 0.5 || retention < 0.3
		if f.Float64Range(0, 1) < 0.1 {
			struggled = !struggled
		}
		out[i] = Example{Vector: v, Struggled: struggled}
	}
	return out
}

func TestRuleBasedPredict(t *testing.T) {
	m := NewRuleBased(DefaultRuleConfig())

	tests := []struct {
		name        string
		vector      features.Vector
		probability float64
		confidence  float64
		factors     []features.Name
	}{
		{
			name:        "no data",
			vector:      features.NewVector(),
			probability: 0.3,
			confidence:  0.5,
		},
		{
			name: "prerequisite gap with weak retention",
			vector: vector(map[features.Name]float64{
				features.PrerequisiteGapCount:   1,
				features.PrerequisiteMasteryGap: 2.0 / 3.0,
				features.RetentionScore:         0.3,
				features.DifficultyMismatch:     0.75,
			}),
			probability: 1,
			confidence:  0.5 + 0.5*4.0/15.0,
			factors: []features.Name{
				features.PrerequisiteGapCount,
				features.DifficultyMismatch,
				features.RetentionScore,
				features.PrerequisiteMasteryGap,
			},
		},
		{
			name: "thresholds are strict",
			vector: vector(map[features.Name]float64{
				features.RetentionScore:       0.5,
				features.PrerequisiteGapCount: 0.5,
			}),
			probability: 0.3,
			confidence:  0.5 + 0.5*2.0/15.0,
		},
		{
			name:        "lapses alone",
			vector:      vector(map[features.Name]float64{features.ReviewLapseRate: 0.5}),
			probability: 0.45,
			confidence:  0.5 + 0.5/15.0,
			factors:     []features.Name{features.ReviewLapseRate},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := m.Predict(tt.vector)
			assert.InDelta(t, tt.probability, r.Probability, 1e-9)
			assert.InDelta(t, tt.confidence, r.Confidence, 1e-9)
			assert.Equal(t, NameRules, r.Model)

			var got []features.Name
			for _, f := range r.Factors {
				got = append(got, f.Feature)
				assert.NotEmpty(t, f.Reason)
			}
			assert.Equal(t, tt.factors, got)
		})
	}
}

func TestRuleBasedIgnoresUnobservedFeatures(t *testing.T) {
	m := NewRuleBased(DefaultRuleConfig())
	v := features.NewVector()
	// A neutral default that would trigger a "below" rule if it were real.
	v.Values[features.RetentionScore] = 0.1
	assert.Equal(t, 0.3, m.Predict(v).Probability)
}

func TestModelsAreDeterministic(t *testing.T) {
	f := gofakeit.New(7)
	clf, err := TrainLogistic(synthetic(f, 200), DefaultTrainConfig(), time.Now())
	require.NoError(t, err)

	for _, m := range []Model{NewRuleBased(DefaultRuleConfig()), clf} {
		for range 50 {
			v := randomVector(f)
			a, b := m.Predict(v), m.Predict(v.Clone())
			assert.Equal(t, a, b, m.Name())
		}
	}
}

func TestModelsAreMonotoneInRiskFeatures(t *testing.T) {
	f := gofakeit.New(11)
	clf, err := TrainLogistic(synthetic(f, 300), DefaultTrainConfig(), time.Now())
	require.NoError(t, err)
	require.Positive(t, clf.Weight(features.PrerequisiteGapCount))

	for _, m := range []Model{NewRuleBased(DefaultRuleConfig()), clf} {
		for range 50 {
			base := randomVector(f)
			prev := -1.0
			for _, gap := range []float64{0, 0.25, 0.5, 0.75, 1} {
				v := base.Clone()
				v.Set(features.PrerequisiteGapCount, gap)
				p := m.Predict(v).Probability
				assert.GreaterOrEqual(t, p, prev, "%s gap=%v", m.Name(), gap)
				prev = p
			}
		}
	}
}

func TestConfidenceBounds(t *testing.T) {
	f := gofakeit.New(3)
	clf, err := TrainLogistic(synthetic(f, 100), DefaultTrainConfig(), time.Now())
	require.NoError(t, err)

	for _, m := range []Model{NewRuleBased(DefaultRuleConfig()), clf} {
		for range 100 {
			r := m.Predict(randomVector(f))
			assert.GreaterOrEqual(t, r.Confidence, 0.5)
			assert.LessOrEqual(t, r.Confidence, 1.0)
			assert.GreaterOrEqual(t, r.Probability, 0.0)
			assert.LessOrEqual(t, r.Probability, 1.0)
		}
	}
}

func TestTrainLogisticLearnsSignal(t *testing.T) {
	f := gofakeit.New(42)
	train, test := Split(synthetic(f, 500), 0.2, 42)
	require.Len(t, test, 100)

	clf, err := TrainLogistic(train, DefaultTrainConfig(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 400, clf.Examples())
	assert.Positive(t, clf.Weight(features.PrerequisiteGapCount))
	assert.Negative(t, clf.Weight(features.RetentionScore))
	assert.Less(t, LogLoss(clf, test), math.Ln2, "better than a coin flip")

	r := clf.Predict(vector(map[features.Name]float64{features.PrerequisiteGapCount: 1, features.RetentionScore: 0.9}))
	require.NotEmpty(t, r.Factors)
	assert.Equal(t, features.PrerequisiteGapCount, r.Factors[0].Feature)
	assert.LessOrEqual(t, len(r.Factors), maxFactors)
}

func TestTrainLogisticWithoutExamples(t *testing.T) {
	_, err := TrainLogistic(nil, DefaultTrainConfig(), time.Now())
	assert.True(t, errors.Is(err, ErrInsufficientTrainingData))
}

func TestSplitIsDeterministic(t *testing.T) {
	f := gofakeit.New(5)
	ex := synthetic(f, 20)

	a1, b1 := Split(ex, 0.2, 9)
	a2, b2 := Split(ex, 0.2, 9)
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
	assert.Len(t, b1, 4)

	_, one := Split(ex[:2], 0.1, 9)
	assert.Len(t, one, 1)
}

func TestArtifactRoundTrip(t *testing.T) {
	f := gofakeit.New(21)
	clf, err := TrainLogistic(synthetic(f, 120), DefaultTrainConfig(), time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	data, err := MarshalArtifact(clf)
	require.NoError(t, err)
	back, err := UnmarshalArtifact(data)
	require.NoError(t, err)

	assert.Equal(t, clf.Version(), back.Version())
	assert.Equal(t, clf.Examples(), back.Examples())
	assert.True(t, clf.TrainedAt().Equal(back.TrainedAt()))
	for range 20 {
		v := randomVector(f)
		assert.InDelta(t, clf.Score(v), back.Score(v), 1e-12)
	}
}

func TestUnmarshalArtifactRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"kind":`},
		{"wrong kind", `{"kind":"rules","version":"v","bias":0,"weights":{"workload":1},"trained_at":"2026-04-06T00:00:00Z","examples":1}`},
		{"no weights", `{"kind":"logistic","version":"v","bias":0,"weights":{},"trained_at":"2026-04-06T00:00:00Z","examples":1}`},
		{"missing version", `{"kind":"logistic","bias":0,"weights":{"workload":1},"trained_at":"2026-04-06T00:00:00Z","examples":1}`},
		{"unknown feature", `{"kind":"logistic","version":"v","bias":0,"weights":{"shoe_size":1},"trained_at":"2026-04-06T00:00:00Z","examples":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalArtifact([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestRegistrySelection(t *testing.T) {
	reg := NewRegistry(NewRuleBased(DefaultRuleConfig()), 50)
	assert.Equal(t, NameRules, reg.Active().Name())

	clf := NewLogistic("v2", map[features.Name]float64{features.Workload: 1}, 0, 0.01, time.Now(), 60)
	reg.Deploy(clf)
	assert.Equal(t, NameRules, reg.Active().Name(), "not enough labels yet")

	assert.True(t, reg.UpdateDataSufficiency(50))
	assert.Equal(t, NameLogistic, reg.Active().Name())
	assert.Equal(t, "v2", reg.Active().Version())

	assert.False(t, reg.UpdateDataSufficiency(49))
	assert.Equal(t, NameRules, reg.Active().Name())
}

func TestRuleConfigValidate(t *testing.T) {
	require.NoError(t, DefaultRuleConfig().Validate())

	bad := DefaultRuleConfig()
	bad.Rules = append(bad.Rules, Rule{Feature: "shoe_size", Comparison: Above, Threshold: 0.5, Weight: 0.1})
	assert.Error(t, bad.Validate())
}
