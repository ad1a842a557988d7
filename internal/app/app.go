// Package app wires the configured components into a running detection
// service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/accuracy"
	"github.com/abhisek/foresight/internal/api"
	"github.com/abhisek/foresight/internal/archive"
	"github.com/abhisek/foresight/internal/cache"
	"github.com/abhisek/foresight/internal/config"
	"github.com/abhisek/foresight/internal/detection"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/intervention"
	"github.com/abhisek/foresight/internal/kv"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/reduction"
	"github.com/abhisek/foresight/internal/scheduler"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

// Options configures New.
type Options struct {
	Config *config.Config
	Log    *logrus.Logger

	// Notifier delivers alerts. Nil logs them.
	Notifier detection.Notifier

	// Version is reported by the health endpoint.
	Version string
}

// App owns every long-lived component. Close releases them.
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Store     *store.Store
	KV        *badger.DB // nil when nothing needs badger
	Registry  *model.Registry
	Tracker   *accuracy.Tracker
	Extractor *features.Extractor
	Service   *detection.Service
	Compactor *archive.Compactor // nil when the archive is disabled

	version string
	memory  *cache.Memory // nil with the badger cache backend
	gc      *kv.GCRunner
}

// New opens storage and builds the service graph. The deployed classifier,
// if any, is restored before New returns.
func New(ctx context.Context, opts Options) (a *App, err error) {
	cfg := opts.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	a = &App{Config: cfg, Log: log, version: opts.Version}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	dsn, err := resolveDSN(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if a.Store, err = store.Open(dsn); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.NeedsBadger() {
		if a.KV, err = kv.Open(cfg.Badger, log); err != nil {
			return nil, err
		}
		if !cfg.Badger.InMemory && cfg.Badger.GCInterval > 0 {
			if a.gc, err = kv.NewGCRunner(a.KV, cfg.Badger.GCInterval, cfg.Badger.GCDiscardRatio, log); err != nil {
				return nil, fmt.Errorf("badger gc: %w", err)
			}
			a.gc.Start()
		}
	}

	var backend cache.Backend
	if cfg.Cache.Backend == config.CacheBadger {
		backend = cache.NewBadger(a.KV, "cache/")
	} else {
		a.memory = cache.NewMemory()
		backend = a.memory
	}

	learning := a.Store.Learning()
	a.Extractor = features.NewExtractor(features.Sources{
		Profiles:    learning,
		Performance: learning,
		Behavior:    learning,
		Calendar:    learning,
		Curriculum:  learning,
	}, cfg.Features, backend, log)

	a.Registry = model.NewRegistry(model.NewRuleBased(cfg.Model.Rules), cfg.Accuracy.Train.MinExamples)
	a.Tracker = accuracy.New(accuracy.Deps{
		Predictions:   a.Store.Predictions(),
		Interventions: a.Store.Interventions(),
		Outcomes:      a.Store.Outcomes(),
		Feedback:      a.Store.Feedback(),
		Models:        a.Store.Models(),
		Registry:      a.Registry,
		Log:           log,
	}, cfg.Accuracy)
	if err := a.Tracker.Load(ctx); err != nil {
		return nil, err
	}

	var reader detection.PredictionReader = a.Store.Predictions()
	var adoption reduction.InterventionSource = a.Store.Interventions()
	if cfg.Archive.Enabled {
		cold := archive.NewCold(a.KV)
		reader = &archive.Tiered{Hot: a.Store.Predictions(), Cold: cold}
		adoption = &archive.TieredInterventions{Hot: a.Store.Interventions(), Cold: cold}
		a.Compactor = archive.NewCompactor(a.Store.Predictions(), a.Store.Interventions(), cold,
			cfg.Archive.Retention, cfg.Archive.BatchSize, log)
	}

	a.Service = detection.New(detection.Deps{
		Extractor:     a.Extractor,
		Registry:      a.Registry,
		Engine:        intervention.NewEngine(cfg.Intervention),
		Tracker:       a.Tracker,
		Reduction:     reduction.New(reader, adoption, cfg.Reduction, log),
		Predictions:   a.Store.Predictions(),
		Reader:        reader,
		Interventions: a.Store.Interventions(),
		Alerts:        a.Store.Alerts(),
		Quota:         a.Store.Quota(),
		Profiles:      learning,
		Curriculum:    learning,
		Sessions:      learning,
		Learners:      learning,
		Topics:        learning,
		Composer:      a.Store.Plan(),
		Plan:          a.Store.Plan(),
		Notifier:      opts.Notifier,
		Log:           log,
	}, cfg.Detection)

	log.WithFields(logrus.Fields{
		"cache":   cfg.Cache.Backend,
		"archive": cfg.Archive.Enabled,
		"model":   a.Registry.Active().Name(),
	}).Debug("application wired")
	return a, nil
}

func resolveDSN(path string) (string, error) {
	if path == "" {
		return store.DefaultDBPath()
	}
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path, nil
	}
	return path, store.EnsureDir(path)
}

// Handlers returns the HTTP handlers over the service.
func (a *App) Handlers() *api.Handlers {
	return api.NewHandlers(a.Service, a.Tracker.Retrain, a.version, a.Log)
}

// Compact moves old resolved predictions to the archive. It is a no-op when
// the archive is disabled.
func (a *App) Compact(ctx context.Context) (int, error) {
	if a.Compactor == nil {
		return 0, nil
	}
	return a.Compactor.Compact(ctx)
}

// SweepCache drops expired entries from the in-memory feature cache.
func (a *App) SweepCache() int {
	if a.memory == nil {
		return 0
	}
	return a.memory.Sweep()
}

// Scheduler builds the background job scheduler.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	sc := a.Config.Scheduler
	jobs := scheduler.Jobs{
		Batch: func(ctx context.Context) error {
			_, err := a.Service.RunBatch(ctx)
			return err
		},
		Retrain: func(ctx context.Context) error {
			_, err := a.Tracker.MaybeRetrain(ctx)
			return err
		},
	}
	if a.Compactor != nil {
		jobs.Compact = func(ctx context.Context) error {
			_, err := a.Compactor.Compact(ctx)
			return err
		}
	}
	if a.memory != nil && sc.CacheSweep {
		jobs.Sweep = func(context.Context) error {
			a.Log.WithField("dropped", a.memory.Sweep()).Debug("cache swept")
			return nil
		}
	}
	return scheduler.New(scheduler.Config{
		Location:      a.Config.Location(),
		BatchAt:       sc.BatchAt,
		CompactAt:     sc.CompactAt,
		RetrainDay:    a.Config.RetrainWeekday(),
		RetrainAt:     sc.RetrainAt,
		SweepInterval: a.Config.Cache.SweepInterval,
	}, jobs, a.Log)
}

// Serve runs the HTTP API and, when enabled, the scheduler until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := api.NewServer(a.Config.Server, a.Handlers())

	if a.Config.Scheduler.Enabled {
		sched, err := a.Scheduler()
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	return srv.Run(ctx)
}

// Close releases storage. It is safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.gc != nil {
		a.gc.Stop()
	}
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// IsUserError reports whether err is caused by the caller's input rather
// than a failure of the service.
func IsUserError(err error) bool {
	return errors.Is(err, struggle.ErrInsufficientContext) ||
		errors.Is(err, struggle.ErrRateLimitExceeded) ||
		errors.Is(err, struggle.ErrInvalidTransition) ||
		errors.Is(err, struggle.ErrNotFound) ||
		errors.Is(err, accuracy.ErrInvalidFeedback) ||
		errors.Is(err, reduction.ErrInvalidPeriod)
}
