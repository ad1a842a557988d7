package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/struggle"
)

// OutcomeFilter narrows outcome queries. Zero values match all.
type OutcomeFilter struct {
	LearnerID string
	Since     time.Time // inclusive
	Until     time.Time // exclusive
}

func (f OutcomeFilter) predicate() *entsql.Predicate {
	var ps []*entsql.Predicate
	if f.LearnerID != "" {
		ps = append(ps, entsql.EQ("learner_id", f.LearnerID))
	}
	if !f.Since.IsZero() {
		ps = append(ps, entsql.GTE("recorded_at", f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		ps = append(ps, entsql.LT("recorded_at", f.Until.UTC()))
	}
	if len(ps) == 0 {
		return nil
	}
	return entsql.And(ps...)
}

// OutcomeRepo stores labeled outcomes, the training and evaluation set.
type OutcomeRepo interface {
	Insert(ctx context.Context, o *struggle.Outcome) error

	// List returns outcomes oldest first.
	List(ctx context.Context, f OutcomeFilter) ([]struggle.Outcome, error)

	Count(ctx context.Context, f OutcomeFilter) (int, error)
}

var outcomeCols = []string{
	"id", "learner_id", "objective_id", "topic", "prediction_id", "probability",
	"predicted", "actual", "features", "model", "intervened", "recorded_at",
}

type outcomeRepo struct {
	s *Store
}

func (r *outcomeRepo) Insert(ctx context.Context, o *struggle.Outcome) error {
	vec, err := marshalJSON(o.Features)
	if err != nil {
		return fmt.Errorf("encode outcome features: %w", err)
	}
	_, err = execQ(ctx, r.s.db, sq().Insert(tableOutcomes).
		Columns(outcomeCols...).
		Values(o.ID, o.LearnerID, o.ObjectiveID, o.Topic, o.PredictionID, o.Probability,
			o.Predicted, o.Actual, vec, o.Model, o.Intervened, o.RecordedAt.UTC()))
	return writeErr("outcome", err)
}

func (r *outcomeRepo) List(ctx context.Context, f OutcomeFilter) ([]struggle.Outcome, error) {
	sel := sq().Select(outcomeCols...).From(table(tableOutcomes))
	if p := f.predicate(); p != nil {
		sel.Where(p)
	}
	sel.OrderBy("recorded_at", "id")

	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []struggle.Outcome
	for rows.Next() {
		var (
			o   struggle.Outcome
			vec string
		)
		if err := rows.Scan(&o.ID, &o.LearnerID, &o.ObjectiveID, &o.Topic, &o.PredictionID, &o.Probability,
			&o.Predicted, &o.Actual, &vec, &o.Model, &o.Intervened, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if err := unmarshalJSON(vec, &o.Features); err != nil {
			return nil, fmt.Errorf("decode outcome %s features: %w", o.ID, err)
		}
		o.RecordedAt = o.RecordedAt.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *outcomeRepo) Count(ctx context.Context, f OutcomeFilter) (int, error) {
	sel := sq().Select(entsql.Count("*")).From(table(tableOutcomes))
	if p := f.predicate(); p != nil {
		sel.Where(p)
	}
	var n int
	if err := rowQ(ctx, r.s.db, sel).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outcomes: %w", err)
	}
	return n, nil
}
