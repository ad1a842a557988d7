// Package store persists predictions and the learning data the detection
// pipeline reads, in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store holds the database handle and provides access to repositories.
type Store struct {
	db  *sql.DB
	drv *entsql.Driver
	now func() time.Time
}

// Open creates a new Store connected to the SQLite database at dsn.
// It applies recommended pragmas and runs auto-migration.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps pragmas and
	// shared in-memory databases consistent.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	drv := entsql.OpenDB(dialect.SQLite, db)
	if err := migrate(context.Background(), drv); err != nil {
		drv.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db, drv: drv, now: time.Now}, nil
}

func migrate(ctx context.Context, drv dialect.Driver) error {
	m, err := schema.NewMigrate(drv, schema.WithForeignKeys(true))
	if err != nil {
		return err
	}
	return m.Create(ctx, tables...)
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.drv.Close()
}

// Predictions returns the prediction repository.
func (s *Store) Predictions() PredictionRepo {
	return &predictionRepo{s: s}
}

// Interventions returns the intervention repository.
func (s *Store) Interventions() InterventionRepo {
	return &interventionRepo{s: s}
}

// Feedback returns the feedback repository.
func (s *Store) Feedback() FeedbackRepo {
	return &feedbackRepo{s: s}
}

// Outcomes returns the labeled-outcome repository.
func (s *Store) Outcomes() OutcomeRepo {
	return &outcomeRepo{s: s}
}

// Models returns the training-run repository.
func (s *Store) Models() ModelRepo {
	return &modelRepo{s: s}
}

// Quota returns the on-demand usage repository.
func (s *Store) Quota() QuotaRepo {
	return &quotaRepo{s: s}
}

// Alerts returns the alert repository.
func (s *Store) Alerts() AlertRepo {
	return &alertRepo{s: s}
}

// Learning returns the SQLite implementation of the learner, curriculum
// and session collaborators.
func (s *Store) Learning() *Learning {
	return &Learning{s: s}
}

// Plan returns the SQLite study-plan composer.
func (s *Store) Plan() *PlanRepo {
	return &PlanRepo{s: s}
}

// applyPragmas configures SQLite for optimal single-user performance.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. FORESIGHT_DB environment variable
// 2. $XDG_DATA_HOME/foresight/foresight.db
// 3. ~/.local/share/foresight/foresight.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("FORESIGHT_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "foresight", "foresight.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}
