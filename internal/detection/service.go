// Package detection orchestrates struggle detection: the daily batch run,
// on-demand re-runs, real-time session checks and outcome capture. It is
// the only package that talks to the external collaborators.
package detection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/abhisek/foresight/internal/accuracy"
	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/intervention"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/plan"
	"github.com/abhisek/foresight/internal/reduction"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

// MaxHorizonDays is the furthest ahead a run looks for upcoming objectives.
const MaxHorizonDays = 14

// PredictionReader reads predictions from every storage tier.
type PredictionReader interface {
	Get(ctx context.Context, id string) (*struggle.Prediction, error)
	List(ctx context.Context, f store.PredictionFilter) ([]struggle.Prediction, error)
}

// LearnerDirectory lists the learners a batch run covers.
type LearnerDirectory interface {
	Learners(ctx context.Context) ([]string, error)
}

// TopicRecorder folds an observed outcome into the learner's behavioral
// aggregate for the topic.
type TopicRecorder interface {
	RecordTopicOutcome(ctx context.Context, learnerID, topic string, struggled bool, at time.Time) error
}

// PlanTracker marks plan items done.
type PlanTracker interface {
	CompleteItem(ctx context.Context, id string, struggled bool, at time.Time) (*plan.Item, error)
}

// Deps are the components and collaborators the service drives.
type Deps struct {
	Extractor *features.Extractor
	Registry  *model.Registry
	Engine    *intervention.Engine
	Tracker   *accuracy.Tracker
	Reduction *reduction.Analyzer

	Predictions   store.PredictionRepo
	Reader        PredictionReader // defaults to Predictions
	Interventions store.InterventionRepo
	Alerts        store.AlertRepo
	Quota         store.QuotaRepo

	Profiles   learner.ProfileStore
	Curriculum curriculum.Graph
	Sessions   learner.SessionStore
	Learners   LearnerDirectory
	Topics     TopicRecorder
	Composer   plan.Composer
	Plan       PlanTracker
	Notifier   Notifier // defaults to LogNotifier

	Log logrus.FieldLogger
}

// Config tunes the orchestrator.
type Config struct {
	// HorizonDays is how far ahead the batch run looks.
	HorizonDays int `yaml:"horizon_days" validate:"gte=7,lte=14"`
	// MinProbability is the lowest probability that is persisted.
	MinProbability float64 `yaml:"min_probability" validate:"gte=0,lte=1"`
	// TopFactors is how many contributing factors become indicators.
	TopFactors int `yaml:"top_factors" validate:"gte=1,lte=10"`
	// MaxAlerts caps the alerts one learner receives per run.
	MaxAlerts int `yaml:"max_alerts" validate:"gte=0"`
	// Concurrency bounds simultaneous unit evaluations across all runs.
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=64"`
	// OnDemandDailyLimit is the per-learner on-demand quota per UTC day.
	OnDemandDailyLimit int `yaml:"on_demand_daily_limit" validate:"gte=1"`
	// ItemMinutes is the length of plan items inserted by interventions.
	ItemMinutes int `yaml:"item_minutes" validate:"gte=5"`

	Retry    RetryConfig    `yaml:"retry"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{
		HorizonDays:        MaxHorizonDays,
		MinProbability:     0.5,
		TopFactors:         3,
		MaxAlerts:          3,
		Concurrency:        5,
		OnDemandDailyLimit: 3,
		ItemMinutes:        20,
		Retry:              DefaultRetryConfig(),
		Realtime:           DefaultRealtimeConfig(),
	}
}

// Service runs detection and exposes its operations.
type Service struct {
	d     Deps
	cfg   Config
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string

	// sem bounds unit evaluations across concurrent runs so batch and
	// on-demand work together never exceed Concurrency.
	sem *semaphore.Weighted

	limitersMu sync.Mutex
	limiters   map[string]*sessionLimiter
}

type sessionLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates a service.
func New(d Deps, cfg Config) *Service {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if d.Reader == nil {
		d.Reader = d.Predictions
	}
	if d.Notifier == nil {
		d.Notifier = LogNotifier{Log: log.WithField("component", "notifier")}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Service{
		d:        d,
		cfg:      cfg,
		log:      log.WithField("component", "detection"),
		now:      time.Now,
		newID:    uuid.NewString,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiters: make(map[string]*sessionLimiter),
	}
}

// Config returns the service settings.
func (s *Service) Config() Config { return s.cfg }

// Registry returns the model registry the service scores with.
func (s *Service) Registry() *model.Registry { return s.d.Registry }
