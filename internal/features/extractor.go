package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/abhisek/foresight/internal/cache"
	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/metrics"
)

// Sources are the upstream collaborators the extractor reads.
type Sources struct {
	Profiles    learner.ProfileStore
	Performance learner.PerformanceStore
	Behavior    learner.BehaviorStore
	Calendar    learner.CalendarStore
	Curriculum  curriculum.Graph
}

// Config tunes extraction.
type Config struct {
	ProfileTTL     time.Duration `yaml:"profile_ttl" validate:"gt=0"`
	BehaviorTTL    time.Duration `yaml:"behavior_ttl" validate:"gt=0"`
	PerformanceTTL time.Duration `yaml:"performance_ttl" validate:"gt=0"`

	// MasteryThreshold is the mastery level below which a prerequisite is a gap.
	MasteryThreshold float64 `yaml:"mastery_threshold" validate:"gt=0,lte=1"`
	// PrerequisiteDepth limits how far "requires" edges are followed.
	PrerequisiteDepth int `yaml:"prerequisite_depth" validate:"gte=1"`
	// RecentWindow bounds which sessions count as recent.
	RecentWindow time.Duration `yaml:"recent_window" validate:"gt=0"`
	// ContextHorizon is the calendar window read for workload.
	ContextHorizon time.Duration `yaml:"context_horizon" validate:"gt=0"`
	// AssessmentHorizonDays maps days-until-assessment onto [0,1].
	AssessmentHorizonDays float64 `yaml:"assessment_horizon_days" validate:"gt=0"`
	// StaleAfterDays maps days-since-last-study onto [0,1].
	StaleAfterDays float64 `yaml:"stale_after_days" validate:"gt=0"`
}

// DefaultConfig returns the default extraction settings.
func DefaultConfig() Config {
	return Config{
		ProfileTTL:            time.Hour,
		BehaviorTTL:           12 * time.Hour,
		PerformanceTTL:        30 * time.Minute,
		MasteryThreshold:      0.6,
		PrerequisiteDepth:     2,
		RecentWindow:          14 * 24 * time.Hour,
		ContextHorizon:        7 * 24 * time.Hour,
		AssessmentHorizonDays: 30,
		StaleAfterDays:        30,
	}
}

// Options adjusts a single extraction.
type Options struct {
	// AsOf is the reference time; zero means now.
	AsOf time.Time
	// Refresh bypasses cached reads that are specific to the objective.
	Refresh bool
}

// Extraction is a vector plus the families that degraded to defaults.
type Extraction struct {
	Vector    Vector
	Objective curriculum.Objective
	Degraded  []error
	// Gaps lists the unmet prerequisite objective ids, nearest first.
	Gaps []string
}

// performanceEntry is the cached bundle of recent performance reads.
type performanceEntry struct {
	Objective *learner.ObjectivePerformance `json:"objective,omitempty"`
	Topic     *learner.TopicSummary         `json:"topic,omitempty"`
	Sessions  []learner.SessionSummary      `json:"sessions,omitempty"`
}

type behaviorEntry struct {
	Pattern *learner.BehaviorPattern `json:"pattern,omitempty"`
}

// Extractor builds feature vectors from upstream sources.
type Extractor struct {
	src Sources
	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	profiles    *cache.Cache[*learner.Profile]
	behavior    *cache.Cache[behaviorEntry]
	performance *cache.Cache[performanceEntry]
	loads       singleflight.Group
}

// NewExtractor creates an extractor whose caches share backend.
func NewExtractor(src Sources, cfg Config, backend cache.Backend, log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{
		src:         src,
		cfg:         cfg,
		log:         log.WithField("component", "features"),
		now:         time.Now,
		profiles:    cache.New[*learner.Profile]("profile", cfg.ProfileTTL, backend),
		behavior:    cache.New[behaviorEntry]("behavior", cfg.BehaviorTTL, backend),
		performance: cache.New[performanceEntry]("performance", cfg.PerformanceTTL, backend),
	}
}

// Extract returns the feature vector for a learner/objective pair. It fails
// only with *InsufficientContextError when either does not exist.
func (e *Extractor) Extract(ctx context.Context, learnerID, objectiveID string) (Vector, error) {
	ex, err := e.ExtractWith(ctx, learnerID, objectiveID, Options{})
	if err != nil {
		return Vector{}, err
	}
	return ex.Vector, nil
}

// ExtractWith is Extract with options and degradation details.
func (e *Extractor) ExtractWith(ctx context.Context, learnerID, objectiveID string, opts Options) (*Extraction, error) {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = e.now()
	}

	objective, err := e.src.Curriculum.Objective(ctx, objectiveID)
	if err != nil {
		if errors.Is(err, curriculum.ErrNotFound) {
			return nil, &InsufficientContextError{LearnerID: learnerID, ObjectiveID: objectiveID, Err: err}
		}
		return nil, fmt.Errorf("load objective %q: %w", objectiveID, err)
	}

	profile, err := e.profile(ctx, learnerID)
	if err != nil {
		if errors.Is(err, learner.ErrNotFound) {
			return nil, &InsufficientContextError{LearnerID: learnerID, ObjectiveID: objectiveID, Err: err}
		}
		return nil, fmt.Errorf("load profile %q: %w", learnerID, err)
	}

	in := &input{
		learnerID: learnerID,
		objective: *objective,
		profile:   profile,
		asOf:      asOf,
		refresh:   opts.Refresh,
	}

	type family struct {
		name Family
		run  func(context.Context, *input) (Vector, error)
	}
	runs := []family{
		{FamilyPerformance, e.performanceFamily},
		{FamilyPrerequisite, e.prerequisiteFamily},
		{FamilyComplexity, e.complexityFamily},
		{FamilyBehavioral, e.behavioralFamily},
		{FamilyContextual, e.contextualFamily},
	}

	// Families read disjoint data, so they run concurrently. Their failures
	// degrade the family instead of failing the group.
	partials := make([]Vector, len(runs))
	failures := make([]error, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range runs {
		g.Go(func() error {
			v, err := f.run(gctx, in)
			if err != nil {
				failures[i] = err
				return nil
			}
			partials[i] = v
			return nil
		})
	}
	_ = g.Wait()

	out := &Extraction{Vector: NewVector(), Objective: *objective}
	if failures[1] == nil {
		out.Gaps = in.gaps
	}
	for i, f := range runs {
		if failures[i] != nil {
			var up *UpstreamDataUnavailableError
			if !errors.As(failures[i], &up) {
				up = &UpstreamDataUnavailableError{Family: f.name, Source: "unknown", Err: failures[i]}
			}
			out.Degraded = append(out.Degraded, up)
			metrics.ExtractionDegraded.WithLabelValues(string(f.name)).Inc()
			e.log.WithFields(logrus.Fields{
				"learner_id":   learnerID,
				"objective_id": objectiveID,
				"family":       f.name,
			}).WithError(up).Warn("feature family degraded to defaults")
			continue
		}
		// Keep only the family's own members so a partial vector cannot
		// overwrite another family.
		for _, n := range Members(f.name) {
			if partials[i].IsObserved(n) {
				out.Vector.Set(n, partials[i].Get(n))
			}
		}
	}
	return out, nil
}

// input is the shared, read-only state of one extraction.
type input struct {
	learnerID string
	objective curriculum.Objective
	profile   *learner.Profile
	asOf      time.Time
	refresh   bool

	// gaps is written only by the prerequisite family.
	gaps []string
}

func (e *Extractor) profile(ctx context.Context, learnerID string) (*learner.Profile, error) {
	return e.profiles.GetOrLoad(ctx, learnerID, false, func(ctx context.Context) (*learner.Profile, error) {
		return e.src.Profiles.Profile(ctx, learnerID)
	})
}

func (e *Extractor) performanceData(ctx context.Context, in *input) (performanceEntry, error) {
	key := cache.Key(in.learnerID, in.objective.ID)
	load := func(ctx context.Context) (performanceEntry, error) {
		v, err, _ := e.loads.Do("performance/"+key, func() (any, error) {
			var entry performanceEntry
			var err error
			entry.Objective, err = e.src.Performance.ObjectivePerformance(ctx, in.learnerID, in.objective.ID)
			if err != nil {
				return nil, fmt.Errorf("objective performance: %w", err)
			}
			if in.objective.Topic != "" {
				entry.Topic, err = e.src.Performance.TopicSummary(ctx, in.learnerID, in.objective.Topic)
				if err != nil {
					return nil, fmt.Errorf("topic summary: %w", err)
				}
			}
			entry.Sessions, err = e.src.Performance.RecentSessions(ctx, in.learnerID, in.asOf.Add(-e.cfg.RecentWindow))
			if err != nil {
				return nil, fmt.Errorf("recent sessions: %w", err)
			}
			return entry, nil
		})
		if err != nil {
			return performanceEntry{}, err
		}
		return v.(performanceEntry), nil
	}
	return e.performance.GetOrLoad(ctx, key, in.refresh, load)
}

func (e *Extractor) behaviorData(ctx context.Context, in *input) (behaviorEntry, error) {
	key := cache.Key(in.learnerID, in.objective.Topic)
	return e.behavior.GetOrLoad(ctx, key, in.refresh, func(ctx context.Context) (behaviorEntry, error) {
		p, err := e.src.Behavior.Pattern(ctx, in.learnerID, in.objective.Topic)
		if err != nil {
			return behaviorEntry{}, err
		}
		return behaviorEntry{Pattern: p}, nil
	})
}

// InvalidateProfile drops the cached profile after the profile store writes.
func (e *Extractor) InvalidateProfile(ctx context.Context, learnerID string) error {
	return e.profiles.Invalidate(ctx, learnerID)
}

// InvalidateBehavior drops every cached behavior aggregate of a learner.
func (e *Extractor) InvalidateBehavior(ctx context.Context, learnerID string) error {
	return e.behavior.InvalidateLearner(ctx, learnerID)
}

// InvalidatePerformance drops cached performance for one objective, or for
// all of the learner's objectives when objectiveID is empty.
func (e *Extractor) InvalidatePerformance(ctx context.Context, learnerID, objectiveID string) error {
	if objectiveID == "" {
		return e.performance.InvalidateLearner(ctx, learnerID)
	}
	return e.performance.Invalidate(ctx, cache.Key(learnerID, objectiveID))
}

// InvalidateLearner drops everything cached for a learner.
func (e *Extractor) InvalidateLearner(ctx context.Context, learnerID string) error {
	return errors.Join(
		e.InvalidateProfile(ctx, learnerID),
		e.InvalidateBehavior(ctx, learnerID),
		e.InvalidatePerformance(ctx, learnerID, ""),
	)
}
