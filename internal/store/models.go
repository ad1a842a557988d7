package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/struggle"
)

// TrainingRun records one retraining attempt and, when deployed, the
// artifact that replaced the serving classifier.
type TrainingRun struct {
	ID               string    `json:"id"`
	TrainedAt        time.Time `json:"trained_at"`
	TrainExamples    int       `json:"train_examples"`
	TestExamples     int       `json:"test_examples"`
	CandidateF1      float64   `json:"candidate_f1"`
	CandidateRecall  float64   `json:"candidate_recall"`
	CandidateLogLoss float64   `json:"candidate_log_loss"`
	IncumbentF1      *float64  `json:"incumbent_f1,omitempty"`
	IncumbentLogLoss *float64  `json:"incumbent_log_loss,omitempty"`
	Deployed         bool      `json:"deployed"`
	Reason           string    `json:"reason,omitempty"`
	Artifact         []byte    `json:"-"`
}

// ModelRepo stores training runs.
type ModelRepo interface {
	SaveRun(ctx context.Context, run *TrainingRun) error

	// LatestDeployed returns the newest deployed run, or struggle.ErrNotFound.
	LatestDeployed(ctx context.Context) (*TrainingRun, error)

	// LastRunAt returns when training last ran, deployed or not. Zero when
	// it never has.
	LastRunAt(ctx context.Context) (time.Time, error)

	// List returns the newest runs first.
	List(ctx context.Context, limit int) ([]TrainingRun, error)
}

var trainingRunCols = []string{
	"id", "trained_at", "train_examples", "test_examples", "candidate_f1", "candidate_recall",
	"candidate_log_loss", "incumbent_f1", "incumbent_log_loss", "deployed", "reason", "artifact",
}

type modelRepo struct {
	s *Store
}

func (r *modelRepo) SaveRun(ctx context.Context, run *TrainingRun) error {
	_, err := execQ(ctx, r.s.db, sq().Insert(tableTrainingRuns).
		Columns(trainingRunCols...).
		Values(run.ID, run.TrainedAt.UTC(), run.TrainExamples, run.TestExamples, run.CandidateF1, run.CandidateRecall,
			run.CandidateLogLoss, nullFloat(run.IncumbentF1), nullFloat(run.IncumbentLogLoss), run.Deployed, run.Reason,
			string(run.Artifact)))
	return writeErr("training run", err)
}

func (r *modelRepo) LatestDeployed(ctx context.Context) (*TrainingRun, error) {
	runs, err := r.list(ctx, entsql.EQ("deployed", true), 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, struggle.ErrNotFound
	}
	return &runs[0], nil
}

func (r *modelRepo) LastRunAt(ctx context.Context) (time.Time, error) {
	var at sql.NullTime
	err := rowQ(ctx, r.s.db, sq().Select("trained_at").
		From(table(tableTrainingRuns)).
		OrderBy(entsql.Desc("trained_at")).
		Limit(1)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) || !at.Valid {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last training run: %w", err)
	}
	return at.Time.UTC(), nil
}

func (r *modelRepo) List(ctx context.Context, limit int) ([]TrainingRun, error) {
	return r.list(ctx, nil, limit)
}

func (r *modelRepo) list(ctx context.Context, where *entsql.Predicate, limit int) ([]TrainingRun, error) {
	sel := sq().Select(trainingRunCols...).From(table(tableTrainingRuns))
	if where != nil {
		sel.Where(where)
	}
	sel.OrderBy(entsql.Desc("trained_at"), entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}

	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	defer rows.Close()

	var out []TrainingRun
	for rows.Next() {
		var (
			run          TrainingRun
			incF1, incLL sql.NullFloat64
			artifact     string
		)
		if err := rows.Scan(&run.ID, &run.TrainedAt, &run.TrainExamples, &run.TestExamples, &run.CandidateF1,
			&run.CandidateRecall, &run.CandidateLogLoss, &incF1, &incLL, &run.Deployed, &run.Reason, &artifact); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		run.TrainedAt = run.TrainedAt.UTC()
		run.IncumbentF1 = floatPtr(incF1)
		run.IncumbentLogLoss = floatPtr(incLL)
		run.Artifact = []byte(artifact)
		out = append(out, run)
	}
	return out, rows.Err()
}
