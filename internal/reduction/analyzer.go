// Package reduction reports how often learners struggle before and after
// they adopt interventions. It only reads; nothing here writes to the store.
package reduction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

// ErrInvalidPeriod is returned for a non-positive or oversized period.
var ErrInvalidPeriod = errors.New("invalid reduction period")

// PredictionSource lists predictions from every storage tier.
type PredictionSource interface {
	List(ctx context.Context, f store.PredictionFilter) ([]struggle.Prediction, error)
}

// InterventionSource lists interventions and their adoption history.
type InterventionSource interface {
	List(ctx context.Context, f store.InterventionFilter) ([]struggle.Recommendation, error)
	FirstApplied(ctx context.Context, learnerID string) (*time.Time, error)
}

// Config tunes the analyzer.
type Config struct {
	DefaultPeriod time.Duration `yaml:"default_period" validate:"gt=0"`
	MaxPeriod     time.Duration `yaml:"max_period" validate:"gtefield=DefaultPeriod"`
	TrendWeeks    int           `yaml:"trend_weeks" validate:"gte=0,lte=52"`
}

// DefaultConfig returns a 30-day period with an 8-week trend.
func DefaultConfig() Config {
	return Config{
		DefaultPeriod: 30 * 24 * time.Hour,
		MaxPeriod:     365 * 24 * time.Hour,
		TrendWeeks:    8,
	}
}

// Window is the struggle rate over a time range [From, To).
type Window struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Resolved  int       `json:"resolved"`
	Struggles int       `json:"struggles"`
	Rate      float64   `json:"rate"`
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

func (w *Window) add(struggled bool) {
	w.Resolved++
	if struggled {
		w.Struggles++
	}
	w.Rate = float64(w.Struggles) / float64(w.Resolved)
}

// Metrics is the reduction report for one learner, or every learner when
// LearnerID is empty.
type Metrics struct {
	LearnerID            string                  `json:"learner_id,omitempty"`
	PeriodDays           int                     `json:"period_days"`
	AdoptedAt            *time.Time              `json:"adopted_at,omitempty"`
	Baseline             Window                  `json:"baseline"`
	After                Window                  `json:"after"`
	ReductionPct         float64                 `json:"reduction_pct"`
	NoBaseline           bool                    `json:"no_baseline"`
	StatusCounts         map[struggle.Status]int `json:"status_counts"`
	InterventionsApplied int                     `json:"interventions_applied"`
	MeanEffectiveness    *float64                `json:"mean_effectiveness,omitempty"`
	Trend                []Window                `json:"trend,omitempty"`
	ComputedAt           time.Time               `json:"computed_at"`
}

// Analyzer computes reduction metrics.
type Analyzer struct {
	preds PredictionSource
	recs  InterventionSource
	cfg   Config
	log   logrus.FieldLogger
	now   func() time.Time
}

// New creates an analyzer.
func New(preds PredictionSource, recs InterventionSource, cfg Config, log logrus.FieldLogger) *Analyzer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{
		preds: preds,
		recs:  recs,
		cfg:   cfg,
		log:   log.WithField("component", "reduction"),
		now:   time.Now,
	}
}

// Analyze compares the struggle rate after intervention adoption with a
// baseline of equal length. The after window is the last period, starting
// no earlier than the first adoption. The baseline is the period before the
// first adoption, or the period before the after window when the learner
// never adopted one. A zero period uses the configured default.
func (a *Analyzer) Analyze(ctx context.Context, learnerID string, period time.Duration) (*Metrics, error) {
	if period == 0 {
		period = a.cfg.DefaultPeriod
	}
	if period < 24*time.Hour || (a.cfg.MaxPeriod > 0 && period > a.cfg.MaxPeriod) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}

	now := a.now().UTC()
	adopted, err := a.recs.FirstApplied(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("first adoption: %w", err)
	}

	m := &Metrics{
		LearnerID:    learnerID,
		PeriodDays:   int(period / (24 * time.Hour)),
		AdoptedAt:    adopted,
		StatusCounts: make(map[struggle.Status]int),
		ComputedAt:   now,
	}
	m.After = Window{From: now.Add(-period), To: now.Add(time.Nanosecond)}
	if adopted != nil {
		m.Baseline = Window{From: adopted.Add(-period), To: *adopted}
		if adopted.After(m.After.From) {
			m.After.From = *adopted
		}
	} else {
		m.Baseline = Window{From: now.Add(-2 * period), To: now.Add(-period)}
	}

	trendStart := now.AddDate(0, 0, -7*a.cfg.TrendWeeks)
	m.Trend = make([]Window, a.cfg.TrendWeeks)
	for i := range m.Trend {
		from := trendStart.AddDate(0, 0, 7*i)
		m.Trend[i] = Window{From: from, To: from.AddDate(0, 0, 7)}
	}

	start := m.Baseline.From
	if trendStart.Before(start) {
		start = trendStart
	}
	// As-of dates precede resolution, so widen the lower bound by a period.
	preds, err := a.preds.List(ctx, store.PredictionFilter{LearnerID: learnerID, From: start.Add(-period)})
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}

	for _, p := range preds {
		at, ok := resolvedAt(p)
		if !ok {
			if !p.Status.Resolved() {
				m.StatusCounts[p.Status]++
			}
			continue
		}
		if at.Before(start) {
			continue
		}
		m.StatusCounts[p.Status]++
		struggled := p.ActualOutcome != nil && *p.ActualOutcome
		if m.Baseline.contains(at) {
			m.Baseline.add(struggled)
		}
		if m.After.contains(at) {
			m.After.add(struggled)
		}
		for i := range m.Trend {
			if m.Trend[i].contains(at) {
				m.Trend[i].add(struggled)
			}
		}
	}

	if m.Baseline.Resolved == 0 || m.Baseline.Rate == 0 {
		m.NoBaseline = true
	} else {
		m.ReductionPct = (m.Baseline.Rate - m.After.Rate) / m.Baseline.Rate * 100
	}

	if err := a.effectiveness(ctx, m); err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"learner_id":    learnerID,
		"baseline_rate": m.Baseline.Rate,
		"after_rate":    m.After.Rate,
		"reduction_pct": m.ReductionPct,
	}).Debug("reduction analyzed")
	return m, nil
}

func (a *Analyzer) effectiveness(ctx context.Context, m *Metrics) error {
	recs, err := a.recs.List(ctx, store.InterventionFilter{LearnerID: m.LearnerID})
	if err != nil {
		return fmt.Errorf("list interventions: %w", err)
	}
	var sum float64
	var n int
	for _, r := range recs {
		if r.AppliedAt != nil {
			m.InterventionsApplied++
		}
		if r.Effectiveness != nil {
			sum += *r.Effectiveness
			n++
		}
	}
	if n > 0 {
		mean := sum / float64(n)
		m.MeanEffectiveness = &mean
	}
	return nil
}

// resolvedAt returns when the outcome of p was observed.
func resolvedAt(p struggle.Prediction) (time.Time, bool) {
	if !p.Status.Resolved() {
		return time.Time{}, false
	}
	if p.ResolvedAt != nil {
		return p.ResolvedAt.UTC(), true
	}
	t, err := time.Parse(struggle.DateLayout, p.AsOf)
	return t, err == nil
}
