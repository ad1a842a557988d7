package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/struggle"
)

// InterventionFilter narrows intervention queries. Zero values match all.
type InterventionFilter struct {
	LearnerID     string
	PredictionIDs []string
	Statuses      []struggle.InterventionStatus
	AppliedSince  time.Time
}

// Matches reports whether r satisfies the filter, for records read outside
// SQLite.
func (f InterventionFilter) Matches(r *struggle.Recommendation) bool {
	if f.LearnerID != "" && r.LearnerID != f.LearnerID {
		return false
	}
	if len(f.PredictionIDs) > 0 && !slices.Contains(f.PredictionIDs, r.PredictionID) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if !f.AppliedSince.IsZero() && (r.AppliedAt == nil || r.AppliedAt.Before(f.AppliedSince)) {
		return false
	}
	return true
}

// InterventionRepo stores intervention recommendations.
type InterventionRepo interface {
	// Get returns a recommendation by id, or struggle.ErrNotFound.
	Get(ctx context.Context, id string) (*struggle.Recommendation, error)

	// List returns recommendations matching f, highest priority first.
	List(ctx context.Context, f InterventionFilter) ([]struggle.Recommendation, error)

	// Update persists status, plan item, effectiveness and timestamps.
	// from guards against concurrent transitions.
	Update(ctx context.Context, r *struggle.Recommendation, from struggle.InterventionStatus) error

	// FirstApplied returns when the learner first adopted an intervention,
	// or nil. An empty learner id means any learner.
	FirstApplied(ctx context.Context, learnerID string) (*time.Time, error)
}

var interventionCols = []string{
	"id", "prediction_id", "learner_id", "objective_id", "type", "indicator_type",
	"severity", "priority", "status", "rationale", "target_objective_id", "scheduled_for",
	"duration_factor", "review_offsets", "break_every_minutes", "plan_item_id", "effectiveness", "applied_at",
	"created_at", "updated_at",
}

type interventionRepo struct {
	s *Store
}

func insertInterventions(ctx context.Context, q querier, recs []struggle.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	ins := sq().Insert(tableInterventions).Columns(interventionCols...)
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return err
		}
		offsets, err := marshalJSON(r.ReviewOffsetsDays)
		if err != nil {
			return fmt.Errorf("encode review offsets: %w", err)
		}
		ins.Values(r.ID, r.PredictionID, r.LearnerID, r.ObjectiveID, string(r.Type), string(r.IndicatorType),
			string(r.Severity), r.Priority, string(r.Status), r.Rationale, r.TargetObjectiveID, nullTime(r.ScheduledFor),
			r.DurationFactor, offsets, r.BreakEveryMinutes, r.PlanItemID, nullFloat(r.Effectiveness), nullTime(r.AppliedAt),
			r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	}
	if _, err := execQ(ctx, q, ins); err != nil {
		return fmt.Errorf("insert interventions: %w", err)
	}
	return nil
}

func (r *interventionRepo) Get(ctx context.Context, id string) (*struggle.Recommendation, error) {
	rec, err := scanIntervention(rowQ(ctx, r.s.db, sq().Select(interventionCols...).
		From(table(tableInterventions)).
		Where(entsql.EQ("id", id))))
	return rec, err
}

func (r *interventionRepo) List(ctx context.Context, f InterventionFilter) ([]struggle.Recommendation, error) {
	sel := sq().Select(interventionCols...).From(table(tableInterventions))
	var ps []*entsql.Predicate
	if f.LearnerID != "" {
		ps = append(ps, entsql.EQ("learner_id", f.LearnerID))
	}
	if len(f.PredictionIDs) > 0 {
		args := make([]any, len(f.PredictionIDs))
		for i, id := range f.PredictionIDs {
			args[i] = id
		}
		ps = append(ps, entsql.In("prediction_id", args...))
	}
	if len(f.Statuses) > 0 {
		args := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			args[i] = string(s)
		}
		ps = append(ps, entsql.In("status", args...))
	}
	if !f.AppliedSince.IsZero() {
		ps = append(ps, entsql.GTE("applied_at", f.AppliedSince.UTC()))
	}
	if len(ps) > 0 {
		sel.Where(entsql.And(ps...))
	}
	sel.OrderBy(entsql.Desc("priority"), entsql.Desc("created_at"), "id")

	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", err)
	}
	defer rows.Close()

	var out []struggle.Recommendation
	for rows.Next() {
		rec, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *interventionRepo) Update(ctx context.Context, rec *struggle.Recommendation, from struggle.InterventionStatus) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	res, err := execQ(ctx, r.s.db, sq().Update(tableInterventions).
		Set("status", string(rec.Status)).
		Set("plan_item_id", rec.PlanItemID).
		Set("effectiveness", nullFloat(rec.Effectiveness)).
		Set("applied_at", nullTime(rec.AppliedAt)).
		Set("updated_at", rec.UpdatedAt.UTC()).
		Where(entsql.And(
			entsql.EQ("id", rec.ID),
			entsql.EQ("status", string(from)),
		)))
	if err != nil {
		return writeErr("intervention", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return writeErr("intervention", err)
	}
	if n == 0 {
		return &struggle.TransitionError{Kind: "intervention", ID: rec.ID, From: string(from), To: string(rec.Status)}
	}
	return nil
}

func (r *interventionRepo) FirstApplied(ctx context.Context, learnerID string) (*time.Time, error) {
	sel := sq().Select("applied_at").From(table(tableInterventions))
	ps := []*entsql.Predicate{entsql.NotNull("applied_at")}
	if learnerID != "" {
		ps = append(ps, entsql.EQ("learner_id", learnerID))
	}
	sel.Where(entsql.And(ps...)).OrderBy("applied_at").Limit(1)

	var at sql.NullTime
	err := rowQ(ctx, r.s.db, sel).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first applied intervention: %w", err)
	}
	return timePtr(at), nil
}

func scanIntervention(row rowScanner) (*struggle.Recommendation, error) {
	var (
		r                       struggle.Recommendation
		typ, indType, sev, stat string
		offsets                 string
		scheduled, applied      sql.NullTime
		effectiveness           sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.PredictionID, &r.LearnerID, &r.ObjectiveID, &typ, &indType,
		&sev, &r.Priority, &stat, &r.Rationale, &r.TargetObjectiveID, &scheduled,
		&r.DurationFactor, &offsets, &r.BreakEveryMinutes, &r.PlanItemID, &effectiveness, &applied,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, struggle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intervention: %w", err)
	}
	r.Type = struggle.InterventionType(typ)
	r.IndicatorType = struggle.IndicatorType(indType)
	r.Severity = struggle.Severity(sev)
	r.Status = struggle.InterventionStatus(stat)
	r.ScheduledFor = timePtr(scheduled)
	r.AppliedAt = timePtr(applied)
	r.Effectiveness = floatPtr(effectiveness)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if err := unmarshalJSON(offsets, &r.ReviewOffsetsDays); err != nil {
		return nil, fmt.Errorf("decode review offsets: %w", err)
	}
	return &r, nil
}
