package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/struggle"
)

// AlertRepo stores learner alerts.
type AlertRepo interface {
	Insert(ctx context.Context, alerts ...struggle.Alert) error

	// List returns the learner's alerts created at or after since, newest
	// first. An empty learner id lists every learner.
	List(ctx context.Context, learnerID string, since time.Time, limit int) ([]struggle.Alert, error)

	MarkNotified(ctx context.Context, id string) error
}

var alertCols = []string{
	"id", "learner_id", "prediction_id", "objective_id", "session_id", "source",
	"severity", "urgency", "message", "notified", "created_at",
}

type alertRepo struct {
	s *Store
}

func (r *alertRepo) Insert(ctx context.Context, alerts ...struggle.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	ins := sq().Insert(tableAlerts).Columns(alertCols...)
	for _, a := range alerts {
		ins.Values(a.ID, a.LearnerID, a.PredictionID, a.ObjectiveID, a.SessionID, string(a.Source),
			string(a.Severity), a.Urgency, a.Message, a.Notified, a.CreatedAt.UTC())
	}
	_, err := execQ(ctx, r.s.db, ins)
	return writeErr("alert", err)
}

func (r *alertRepo) List(ctx context.Context, learnerID string, since time.Time, limit int) ([]struggle.Alert, error) {
	sel := sq().Select(alertCols...).From(table(tableAlerts))
	var ps []*entsql.Predicate
	if learnerID != "" {
		ps = append(ps, entsql.EQ("learner_id", learnerID))
	}
	if !since.IsZero() {
		ps = append(ps, entsql.GTE("created_at", since.UTC()))
	}
	if len(ps) > 0 {
		sel.Where(entsql.And(ps...))
	}
	sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("urgency"))
	if limit > 0 {
		sel.Limit(limit)
	}

	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []struggle.Alert
	for rows.Next() {
		var (
			a        struggle.Alert
			src, sev string
		)
		if err := rows.Scan(&a.ID, &a.LearnerID, &a.PredictionID, &a.ObjectiveID, &a.SessionID, &src,
			&sev, &a.Urgency, &a.Message, &a.Notified, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Source = struggle.AlertSource(src)
		a.Severity = struggle.Severity(sev)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *alertRepo) MarkNotified(ctx context.Context, id string) error {
	_, err := execQ(ctx, r.s.db, sq().Update(tableAlerts).
		Set("notified", true).
		Where(entsql.EQ("id", id)))
	return writeErr("alert", err)
}
