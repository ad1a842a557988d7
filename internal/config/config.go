// Package config assembles the service configuration from defaults, an
// optional YAML file, a .env file and FORESIGHT_* environment variables, in
// that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/foresight/internal/accuracy"
	"github.com/abhisek/foresight/internal/api"
	"github.com/abhisek/foresight/internal/detection"
	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/intervention"
	"github.com/abhisek/foresight/internal/kv"
	"github.com/abhisek/foresight/internal/logging"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/reduction"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FORESIGHT_"

// Config is the complete service configuration.
type Config struct {
	Store        StoreConfig         `yaml:"store"`
	Badger       kv.Config           `yaml:"badger"`
	Cache        CacheConfig         `yaml:"cache"`
	Archive      ArchiveConfig       `yaml:"archive"`
	Features     features.Config     `yaml:"features"`
	Model        ModelConfig         `yaml:"model"`
	Detection    detection.Config    `yaml:"detection"`
	Intervention intervention.Config `yaml:"intervention"`
	Accuracy     accuracy.Config     `yaml:"accuracy"`
	Reduction    reduction.Config    `yaml:"reduction"`
	Server       api.Config          `yaml:"server"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Log          logging.Config      `yaml:"log"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	// Path is the database file. Empty resolves through FORESIGHT_DB and
	// then the XDG data directory.
	Path string `yaml:"path"`
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheBadger = "badger"
)

// CacheConfig selects where cached feature reads live.
type CacheConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory badger"`
	// SweepInterval is how often expired in-memory entries are dropped.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
}

// ArchiveConfig controls compaction of resolved predictions into the cold
// store.
type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention" validate:"gte=24h"`
	BatchSize int           `yaml:"batch_size" validate:"gte=1,lte=10000"`
}

// ModelConfig holds the rule-based scorer weights. Classifier
// hyper-parameters live under accuracy.train.
type ModelConfig struct {
	Rules model.RuleConfig `yaml:"rules"`
}

// SchedulerConfig sets when background jobs run. Times are HH:MM in
// Timezone.
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Timezone   string `yaml:"timezone" validate:"required"`
	BatchAt    string `yaml:"batch_at" validate:"datetime=15:04"`
	CompactAt  string `yaml:"compact_at" validate:"datetime=15:04"`
	RetrainDay string `yaml:"retrain_day" validate:"oneof=sunday monday tuesday wednesday thursday friday saturday"`
	RetrainAt  string `yaml:"retrain_at" validate:"datetime=15:04"`
	// CacheSweep enables the periodic in-memory cache sweep.
	CacheSweep bool `yaml:"cache_sweep"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	badger := kv.DefaultConfig()
	badger.Path = filepath.Join(dataHome(), "foresight", "badger")
	return Config{
		Badger: badger,
		Cache: CacheConfig{
			Backend:       CacheMemory,
			SweepInterval: 10 * time.Minute,
		},
		Archive: ArchiveConfig{
			Enabled:   true,
			Retention: 90 * 24 * time.Hour,
			BatchSize: 500,
		},
		Features:     features.DefaultConfig(),
		Model:        ModelConfig{Rules: model.DefaultRuleConfig()},
		Detection:    detection.DefaultConfig(),
		Intervention: intervention.DefaultConfig(),
		Accuracy:     accuracy.DefaultConfig(),
		Reduction:    reduction.DefaultConfig(),
		Server:       api.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Timezone:   "UTC",
			BatchAt:    "02:00",
			CompactAt:  "03:30",
			RetrainDay: "sunday",
			RetrainAt:  "04:00",
			CacheSweep: true,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case no YAML
// file is read. The first .env file found in config/.env or .env is loaded
// without overriding variables already set.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadDotEnv("config/.env", ".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from FORESIGHT_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.setString("DB", &c.Store.Path)
	env.setString("BADGER_DIR", &c.Badger.Path)
	env.setString("CACHE_BACKEND", &c.Cache.Backend)
	env.setBool("ARCHIVE_ENABLED", &c.Archive.Enabled)
	env.setDuration("ARCHIVE_RETENTION", &c.Archive.Retention)

	env.setInt("CONCURRENCY", &c.Detection.Concurrency)
	env.setInt("HORIZON_DAYS", &c.Detection.HorizonDays)
	env.setInt("MAX_ALERTS", &c.Detection.MaxAlerts)
	env.setInt("ON_DEMAND_DAILY_LIMIT", &c.Detection.OnDemandDailyLimit)
	env.setFloat("MIN_PROBABILITY", &c.Detection.MinProbability)
	env.setFloat("RULE_BASELINE", &c.Model.Rules.Baseline)
	env.setInt("MIN_TRAINING_EXAMPLES", &c.Accuracy.Train.MinExamples)

	env.setString("ADDR", &c.Server.Addr)
	env.setString("GIN_MODE", &c.Server.Mode)

	env.setBool("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	env.setString("TIMEZONE", &c.Scheduler.Timezone)
	env.setString("BATCH_AT", &c.Scheduler.BatchAt)

	env.setString("LOG_LEVEL", &c.Log.Level)
	env.setString("LOG_FORMAT", &c.Log.Format)

	return errors.Join(env.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) get(name string) (string, bool) {
	v, ok := r.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *envReader) fail(name, v string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
}

func (r *envReader) setString(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) setInt(name string, dst *int) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = n
}

func (r *envReader) setFloat(name string, dst *float64) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = f
}

func (r *envReader) setBool(name string, dst *bool) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = b
}

func (r *envReader) setDuration(name string, dst *time.Duration) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = d
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Model.Rules.Validate(); err != nil {
		return fmt.Errorf("invalid config: model.rules: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid config: scheduler.timezone: %w", err)
	}
	if (c.Cache.Backend == CacheBadger || c.Archive.Enabled) && !c.Badger.InMemory && c.Badger.Path == "" {
		return errors.New("invalid config: badger.path is required by the badger cache and the archive")
	}
	return nil
}

// NeedsBadger reports whether any component opens the badger store.
func (c *Config) NeedsBadger() bool {
	return c.Cache.Backend == CacheBadger || c.Archive.Enabled
}

// Location returns the scheduler time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RetrainWeekday parses Scheduler.RetrainDay.
func (c *Config) RetrainWeekday() time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Scheduler.RetrainDay) {
			return d
		}
	}
	return time.Sunday
}

func dataHome() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}
