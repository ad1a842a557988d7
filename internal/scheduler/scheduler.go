// Package scheduler runs the periodic detection jobs: the daily batch, the
// nightly archive compaction, the weekly retrain check and the cache sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Job tags.
const (
	TagBatch   = "batch"
	TagCompact = "compact"
	TagRetrain = "retrain"
	TagSweep   = "cache_sweep"
)

// Config sets when jobs run. Times are HH:MM in Location.
type Config struct {
	Location      *time.Location
	BatchAt       string
	CompactAt     string
	RetrainDay    time.Weekday
	RetrainAt     string
	SweepInterval time.Duration
}

// Jobs are the work functions. A nil job is not scheduled.
type Jobs struct {
	Batch   func(ctx context.Context) error
	Compact func(ctx context.Context) error
	Retrain func(ctx context.Context) error
	Sweep   func(ctx context.Context) error
}

// Scheduler wraps a gocron scheduler. Jobs never overlap with themselves.
type Scheduler struct {
	cron *gocron.Scheduler
	log  logrus.FieldLogger

	// ctx is handed to every job and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers jobs on a scheduler that is not yet running.
func New(cfg Config, jobs Jobs, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()
	cron.TagsUnique()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron,
		log:    log.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}

	var errs []error
	if jobs.Batch != nil {
		_, err := cron.Every(1).Day().At(cfg.BatchAt).Tag(TagBatch).Do(s.wrap(TagBatch, jobs.Batch))
		errs = append(errs, tagErr(TagBatch, err))
	}
	if jobs.Compact != nil {
		_, err := cron.Every(1).Day().At(cfg.CompactAt).Tag(TagCompact).Do(s.wrap(TagCompact, jobs.Compact))
		errs = append(errs, tagErr(TagCompact, err))
	}
	if jobs.Retrain != nil {
		_, err := cron.Every(1).Week().Weekday(cfg.RetrainDay).At(cfg.RetrainAt).Tag(TagRetrain).Do(s.wrap(TagRetrain, jobs.Retrain))
		errs = append(errs, tagErr(TagRetrain, err))
	}
	if jobs.Sweep != nil && cfg.SweepInterval > 0 {
		_, err := cron.Every(cfg.SweepInterval).WaitForSchedule().Tag(TagSweep).Do(s.wrap(TagSweep, jobs.Sweep))
		errs = append(errs, tagErr(TagSweep, err))
	}
	if err := errors.Join(errs...); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func tagErr(tag string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("schedule %s: %w", tag, err)
}

// wrap adapts fn to a gocron task that logs its outcome and is cancelled
// when the scheduler stops.
func (s *Scheduler) wrap(tag string, fn func(ctx context.Context) error) func() {
	return func() {
		start := time.Now()
		log := s.log.WithField("job", tag)
		if err := fn(s.ctx); err != nil {
			log.WithError(err).WithField("elapsed", time.Since(start)).Error("job failed")
			return
		}
		log.WithField("elapsed", time.Since(start)).Debug("job finished")
	}
}

// Tags lists the scheduled job tags.
func (s *Scheduler) Tags() []string {
	var tags []string
	for _, j := range s.cron.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

// NextRun returns when the job with tag runs next. The scheduler must be
// started.
func (s *Scheduler) NextRun(tag string) (time.Time, bool) {
	jobs, err := s.cron.FindJobsByTag(tag)
	if err != nil || len(jobs) == 0 {
		return time.Time{}, false
	}
	return jobs[0].NextRun(), true
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.log.WithField("jobs", s.Tags()).Info("scheduler started")
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}
