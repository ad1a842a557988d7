package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/foresight/internal/plan"
	"github.com/abhisek/foresight/internal/struggle"
)

var planItemCols = []string{
	"id", "learner_id", "objective_id", "kind", "scheduled_for", "duration_minutes",
	"break_every_minutes", "intervention_id", "before_item_id", "status", "completed_at", "struggled",
}

// PlanRepo is the SQLite study-plan composer.
type PlanRepo struct {
	s *Store
}

var _ plan.Composer = (*PlanRepo)(nil)

// InsertItem implements plan.Composer. A prerequisite review is linked to
// the learner's next planned study item of the objective it precedes.
func (r *PlanRepo) InsertItem(ctx context.Context, item plan.Item) (string, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = plan.StatusPlanned
	}
	_, err := execQ(ctx, r.s.db, sq().Insert(tablePlanItems).
		Columns(planItemCols...).
		Values(item.ID, item.LearnerID, item.ObjectiveID, string(item.Kind), item.ScheduledFor.UTC(), item.DurationMinutes,
			item.BreakEveryMinutes, item.InterventionID, item.BeforeItemID, string(item.Status),
			nullTime(item.CompletedAt), nullBool(item.Struggled)))
	if err != nil {
		return "", writeErr("plan item", err)
	}
	return item.ID, nil
}

// NextStudyItem returns the learner's earliest planned study item of an
// objective, or struggle.ErrNotFound.
func (r *PlanRepo) NextStudyItem(ctx context.Context, learnerID, objectiveID string) (*plan.Item, error) {
	item, err := scanPlanItem(rowQ(ctx, r.s.db, sq().Select(planItemCols...).
		From(table(tablePlanItems)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("objective_id", objectiveID),
			entsql.EQ("kind", string(plan.KindStudy)),
			entsql.EQ("status", string(plan.StatusPlanned)),
		)).
		OrderBy("scheduled_for").
		Limit(1)))
	return item, err
}

// AdjustDuration implements plan.Composer.
func (r *PlanRepo) AdjustDuration(ctx context.Context, a plan.Adjustment) (string, error) {
	var first string
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := queryQ(ctx, tx, sq().Select("id", "duration_minutes").
			From(table(tablePlanItems)).
			Where(entsql.And(
				entsql.EQ("learner_id", a.LearnerID),
				entsql.EQ("objective_id", a.ObjectiveID),
				entsql.EQ("kind", string(plan.KindStudy)),
				entsql.EQ("status", string(plan.StatusPlanned)),
			)).
			OrderBy("scheduled_for"))
		if err != nil {
			return fmt.Errorf("planned items: %w", err)
		}
		type planned struct {
			id      string
			minutes int
		}
		var items []planned
		for rows.Next() {
			var p planned
			if err := rows.Scan(&p.id, &p.minutes); err != nil {
				rows.Close()
				return fmt.Errorf("scan plan item: %w", err)
			}
			items = append(items, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(items) == 0 {
			return plan.ErrNoItem
		}

		for _, p := range items {
			upd := sq().Update(tablePlanItems).Set("intervention_id", a.InterventionID)
			if a.DurationFactor > 0 && a.DurationFactor != 1 {
				upd.Set("duration_minutes", int(math.Max(1, math.Round(float64(p.minutes)*a.DurationFactor))))
			}
			if a.BreakEveryMinutes > 0 {
				upd.Set("break_every_minutes", a.BreakEveryMinutes)
			}
			if _, err := execQ(ctx, tx, upd.Where(entsql.EQ("id", p.id))); err != nil {
				return writeErr("plan item", err)
			}
		}
		first = items[0].id
		return nil
	})
	return first, err
}

// CompleteItem marks an item completed and records whether the learner
// struggled with it.
func (r *PlanRepo) CompleteItem(ctx context.Context, id string, struggled bool, at time.Time) (*plan.Item, error) {
	res, err := execQ(ctx, r.s.db, sq().Update(tablePlanItems).
		Set("status", string(plan.StatusCompleted)).
		Set("completed_at", at.UTC()).
		Set("struggled", struggled).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(plan.StatusPlanned)),
		)))
	if err != nil {
		return nil, writeErr("plan item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Item(ctx, id); err != nil {
			return nil, err
		}
		return nil, &struggle.TransitionError{Kind: "plan item", ID: id, From: "non-planned", To: string(plan.StatusCompleted)}
	}
	return r.Item(ctx, id)
}

// Item returns a plan item by id, or struggle.ErrNotFound.
func (r *PlanRepo) Item(ctx context.Context, id string) (*plan.Item, error) {
	return scanPlanItem(rowQ(ctx, r.s.db, sq().Select(planItemCols...).
		From(table(tablePlanItems)).
		Where(entsql.EQ("id", id))))
}

// Items returns the learner's items scheduled in [from, to], earliest first.
func (r *PlanRepo) Items(ctx context.Context, learnerID string, from, to time.Time) ([]plan.Item, error) {
	rows, err := queryQ(ctx, r.s.db, sq().Select(planItemCols...).
		From(table(tablePlanItems)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.GTE("scheduled_for", from.UTC()),
			entsql.LTE("scheduled_for", to.UTC()),
		)).
		OrderBy("scheduled_for", "id"))
	if err != nil {
		return nil, fmt.Errorf("list plan items: %w", err)
	}
	defer rows.Close()

	var out []plan.Item
	for rows.Next() {
		item, err := scanPlanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func scanPlanItem(row rowScanner) (*plan.Item, error) {
	var (
		it           plan.Item
		kind, status string
		completed    sql.NullTime
		struggled    sql.NullBool
	)
	err := row.Scan(&it.ID, &it.LearnerID, &it.ObjectiveID, &kind, &it.ScheduledFor, &it.DurationMinutes,
		&it.BreakEveryMinutes, &it.InterventionID, &it.BeforeItemID, &status, &completed, &struggled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, struggle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan item: %w", err)
	}
	it.Kind = plan.Kind(kind)
	it.Status = plan.Status(status)
	it.ScheduledFor = it.ScheduledFor.UTC()
	it.CompletedAt = timePtr(completed)
	it.Struggled = boolPtr(struggled)
	return &it, nil
}
