package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// QuotaRepo counts on-demand runs per learner per calendar day.
type QuotaRepo interface {
	// Consume records one run for (learner, day) if fewer than limit have
	// been recorded. It reports whether the run was allowed and how many
	// runs the day now holds.
	Consume(ctx context.Context, learnerID, day string, limit int) (allowed bool, used int, err error)

	// Used returns the number of runs recorded for (learner, day).
	Used(ctx context.Context, learnerID, day string) (int, error)
}

type quotaRepo struct {
	s *Store
}

func (r *quotaRepo) Consume(ctx context.Context, learnerID, day string, limit int) (bool, int, error) {
	var (
		allowed bool
		used    int
	)
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := usedRuns(ctx, tx, learnerID, day)
		if err != nil {
			return err
		}
		if n >= limit {
			used = n
			return nil
		}
		_, err = execQ(ctx, tx, sq().Insert(tableUsage).
			Columns("learner_id", "day", "runs").
			Values(learnerID, day, n+1).
			OnConflict(
				entsql.ConflictColumns("learner_id", "day"),
				entsql.ResolveWithNewValues(),
			))
		if err != nil {
			return writeErr("on-demand usage", err)
		}
		allowed, used = true, n+1
		return nil
	})
	return allowed, used, err
}

func (r *quotaRepo) Used(ctx context.Context, learnerID, day string) (int, error) {
	return usedRuns(ctx, r.s.db, learnerID, day)
}

func usedRuns(ctx context.Context, q querier, learnerID, day string) (int, error) {
	var n int
	err := rowQ(ctx, q, sq().Select("runs").
		From(table(tableUsage)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("day", day),
		))).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read on-demand usage: %w", err)
	}
	return n, nil
}
