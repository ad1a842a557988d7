package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/struggle"
)

// PredictionFilter narrows prediction queries. Zero values match all.
type PredictionFilter struct {
	LearnerID      string
	ObjectiveID    string
	Statuses       []struggle.Status
	MinProbability *float64
	MaxProbability *float64
	From, To       time.Time // as-of date bounds, inclusive
	Limit          int
}

// SaveResult reports what Save did.
type SaveResult struct {
	Prediction    *struggle.Prediction
	Indicators    []struggle.Indicator
	Interventions []struggle.Recommendation
	// Replaced is true when an existing PENDING prediction for the same
	// (learner, objective, as-of date) was overwritten.
	Replaced bool
	// Kept is true when a resolved prediction already existed and nothing
	// was written.
	Kept bool
	// Superseded lists earlier PENDING predictions of the same (learner,
	// objective) that the new row replaced.
	Superseded []string
}

// PredictionRepo is the hot store of predictions and their children.
type PredictionRepo interface {
	// Save writes a prediction with its indicators and interventions in one
	// transaction. A PENDING prediction for the same unit is overwritten;
	// a resolved one is left untouched. Earlier PENDING predictions of the
	// same (learner, objective) are superseded: what the learner acted on
	// moves to the new row and the rest is deleted.
	Save(ctx context.Context, p *struggle.Prediction, ind []struggle.Indicator, recs []struggle.Recommendation) (*SaveResult, error)

	// Get returns a prediction by id, or struggle.ErrNotFound.
	Get(ctx context.Context, id string) (*struggle.Prediction, error)

	// LatestPending returns the most recent PENDING prediction of a unit, or
	// nil.
	LatestPending(ctx context.Context, learnerID, objectiveID string) (*struggle.Prediction, error)

	// List returns predictions matching f, newest as-of first.
	List(ctx context.Context, f PredictionFilter) ([]struggle.Prediction, error)

	// CountByStatus counts predictions matching f per status.
	CountByStatus(ctx context.Context, f PredictionFilter) (map[struggle.Status]int, error)

	// Resolve persists a status change from PENDING. It fails with
	// struggle.ErrInvalidTransition when the row is no longer PENDING.
	Resolve(ctx context.Context, p *struggle.Prediction) error

	// InsertMissed stores a retroactive MISSED prediction. It stores nothing
	// and reports false when the unit already has a prediction for that
	// as-of date.
	InsertMissed(ctx context.Context, p *struggle.Prediction) (bool, error)

	// Indicators returns the indicators of a prediction, most severe first.
	Indicators(ctx context.Context, predictionID string) ([]struggle.Indicator, error)

	// AddIndicators appends indicators to existing predictions.
	AddIndicators(ctx context.Context, ind []struggle.Indicator) error

	// ResolvedBefore returns up to limit resolved predictions whose outcome
	// was observed before cutoff, oldest first.
	ResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]struggle.Prediction, error)

	// Delete removes predictions and, by cascade, their children.
	Delete(ctx context.Context, ids []string) error
}

var predictionCols = []string{
	"id", "learner_id", "objective_id", "topic", "as_of", "due_date",
	"probability", "confidence", "status", "actual_outcome", "features",
	"factors", "model", "model_version", "source", "created_at",
	"updated_at", "resolved_at",
}

type predictionRepo struct {
	s *Store
}

func (r *predictionRepo) Save(ctx context.Context, p *struggle.Prediction, ind []struggle.Indicator, recs []struggle.Recommendation) (*SaveResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	res := &SaveResult{}
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanPrediction(rowQ(ctx, tx, sq().Select(predictionCols...).
			From(table(tablePredictions)).
			Where(entsql.And(
				entsql.EQ("learner_id", p.LearnerID),
				entsql.EQ("objective_id", p.ObjectiveID),
				entsql.EQ("as_of", p.AsOf),
			))))
		if err != nil && !errors.Is(err, struggle.ErrNotFound) {
			return err
		}

		if existing != nil {
			if existing.Status.Resolved() {
				res.Prediction = existing
				res.Kept = true
				return nil
			}
			res.Replaced = true
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			if err := r.replace(ctx, tx, p); err != nil {
				return err
			}
		} else {
			if err := insertPrediction(ctx, tx, p); err != nil {
				return err
			}
			if res.Superseded, err = supersede(ctx, tx, p); err != nil {
				return err
			}
		}

		for i := range ind {
			ind[i].PredictionID = p.ID
		}
		if err := insertIndicators(ctx, tx, ind); err != nil {
			return err
		}

		// Interventions already acted on survive a re-run; only their
		// pending siblings are regenerated.
		acted, err := actedTypes(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		var fresh []struggle.Recommendation
		for _, rec := range recs {
			if acted[rec.Type] {
				continue
			}
			rec.PredictionID = p.ID
			fresh = append(fresh, rec)
		}
		if err := insertInterventions(ctx, tx, fresh); err != nil {
			return err
		}

		res.Prediction = p
		res.Indicators = ind
		res.Interventions = fresh
		return nil
	})
	if err != nil {
		return nil, writeErr("prediction", err)
	}
	return res, nil
}

// replace overwrites a PENDING prediction and drops its regenerated
// children.
func (r *predictionRepo) replace(ctx context.Context, tx *sql.Tx, p *struggle.Prediction) error {
	vec, err := marshalJSON(p.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	factors, err := marshalJSON(p.Factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}
	_, err = execQ(ctx, tx, sq().Update(tablePredictions).
		Set("topic", p.Topic).
		Set("due_date", nullTime(p.DueDate)).
		Set("probability", p.Probability).
		Set("confidence", p.Confidence).
		Set("features", vec).
		Set("factors", factors).
		Set("model", p.Model).
		Set("model_version", p.ModelVersion).
		Set("source", string(p.Source)).
		Set("updated_at", p.UpdatedAt.UTC()).
		Where(entsql.And(
			entsql.EQ("id", p.ID),
			entsql.EQ("status", string(struggle.StatusPending)),
		)))
	if err != nil {
		return fmt.Errorf("update prediction: %w", err)
	}
	if _, err := execQ(ctx, tx, sq().Delete(tableIndicators).Where(entsql.And(
		entsql.EQ("prediction_id", p.ID),
		entsql.EQ("session_id", ""),
	))); err != nil {
		return fmt.Errorf("delete indicators: %w", err)
	}
	if _, err := execQ(ctx, tx, sq().Delete(tableInterventions).Where(entsql.And(
		entsql.EQ("prediction_id", p.ID),
		entsql.EQ("status", string(struggle.InterventionPending)),
	))); err != nil {
		return fmt.Errorf("delete interventions: %w", err)
	}
	return nil
}

// supersede folds older PENDING predictions of p's (learner, objective)
// into p. Acted-on interventions, session indicators, feedback and alerts
// are re-parented; the old rows and their pending children are deleted.
func supersede(ctx context.Context, tx *sql.Tx, p *struggle.Prediction) ([]string, error) {
	rows, err := queryQ(ctx, tx, sq().Select("id").From(table(tablePredictions)).Where(entsql.And(
		entsql.EQ("learner_id", p.LearnerID),
		entsql.EQ("objective_id", p.ObjectiveID),
		entsql.EQ("status", string(struggle.StatusPending)),
		entsql.LT("as_of", p.AsOf),
	)))
	if err != nil {
		return nil, fmt.Errorf("query superseded predictions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	moves := []struct {
		table string
		where *entsql.Predicate
	}{
		{tableInterventions, entsql.NEQ("status", string(struggle.InterventionPending))},
		{tableIndicators, entsql.NEQ("session_id", "")},
		{tableFeedback, nil},
		{tableAlerts, nil},
	}
	for _, m := range moves {
		where := entsql.In("prediction_id", args...)
		if m.where != nil {
			where = entsql.And(where, m.where)
		}
		if _, err := execQ(ctx, tx, sq().Update(m.table).Set("prediction_id", p.ID).Where(where)); err != nil {
			return nil, fmt.Errorf("re-parent %s: %w", m.table, err)
		}
	}
	for _, t := range []string{tableInterventions, tableIndicators} {
		if _, err := execQ(ctx, tx, sq().Delete(t).Where(entsql.In("prediction_id", args...))); err != nil {
			return nil, fmt.Errorf("delete superseded %s: %w", t, err)
		}
	}
	if _, err := execQ(ctx, tx, sq().Delete(tablePredictions).Where(entsql.In("id", args...))); err != nil {
		return nil, fmt.Errorf("delete superseded predictions: %w", err)
	}
	return ids, nil
}

func actedTypes(ctx context.Context, tx *sql.Tx, predictionID string) (map[struggle.InterventionType]bool, error) {
	rows, err := queryQ(ctx, tx, sq().Select("type").From(table(tableInterventions)).Where(entsql.And(
		entsql.EQ("prediction_id", predictionID),
		entsql.NEQ("status", string(struggle.InterventionPending)),
	)))
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer rows.Close()
	out := make(map[struggle.InterventionType]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out[struggle.InterventionType(t)] = true
	}
	return out, rows.Err()
}

func insertPrediction(ctx context.Context, q querier, p *struggle.Prediction) error {
	vec, err := marshalJSON(p.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	factors, err := marshalJSON(p.Factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}
	_, err = execQ(ctx, q, sq().Insert(tablePredictions).
		Columns(predictionCols...).
		Values(
			p.ID, p.LearnerID, p.ObjectiveID, p.Topic, p.AsOf, nullTime(p.DueDate),
			p.Probability, p.Confidence, string(p.Status), nullBool(p.ActualOutcome), vec,
			factors, p.Model, p.ModelVersion, string(p.Source), p.CreatedAt.UTC(),
			p.UpdatedAt.UTC(), nullTime(p.ResolvedAt),
		))
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (r *predictionRepo) Get(ctx context.Context, id string) (*struggle.Prediction, error) {
	return scanPrediction(rowQ(ctx, r.s.db, sq().Select(predictionCols...).
		From(table(tablePredictions)).
		Where(entsql.EQ("id", id))))
}

func (r *predictionRepo) LatestPending(ctx context.Context, learnerID, objectiveID string) (*struggle.Prediction, error) {
	p, err := scanPrediction(rowQ(ctx, r.s.db, sq().Select(predictionCols...).
		From(table(tablePredictions)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("objective_id", objectiveID),
			entsql.EQ("status", string(struggle.StatusPending)),
		)).
		OrderBy(entsql.Desc("as_of")).
		Limit(1)))
	if errors.Is(err, struggle.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (r *predictionRepo) List(ctx context.Context, f PredictionFilter) ([]struggle.Prediction, error) {
	sel := sq().Select(predictionCols...).From(table(tablePredictions))
	if p := f.predicate(); p != nil {
		sel.Where(p)
	}
	sel.OrderBy(entsql.Desc("as_of"), entsql.Desc("probability"), "id")
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []struggle.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *predictionRepo) CountByStatus(ctx context.Context, f PredictionFilter) (map[struggle.Status]int, error) {
	sel := sq().Select("status", entsql.Count("*")).From(table(tablePredictions))
	if p := f.predicate(); p != nil {
		sel.Where(p)
	}
	sel.GroupBy("status")
	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("count predictions: %w", err)
	}
	defer rows.Close()

	out := make(map[struggle.Status]int)
	for _, s := range struggle.AllStatuses() {
		out[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[struggle.Status(status)] = n
	}
	return out, rows.Err()
}

func (r *predictionRepo) Resolve(ctx context.Context, p *struggle.Prediction) error {
	res, err := execQ(ctx, r.s.db, sq().Update(tablePredictions).
		Set("status", string(p.Status)).
		Set("actual_outcome", nullBool(p.ActualOutcome)).
		Set("resolved_at", nullTime(p.ResolvedAt)).
		Set("updated_at", p.UpdatedAt.UTC()).
		Where(entsql.And(
			entsql.EQ("id", p.ID),
			entsql.EQ("status", string(struggle.StatusPending)),
		)))
	if err != nil {
		return writeErr("resolve prediction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return writeErr("resolve prediction", err)
	}
	if n == 0 {
		return &struggle.TransitionError{Kind: "prediction", ID: p.ID, From: "resolved", To: string(p.Status)}
	}
	return nil
}

func (r *predictionRepo) InsertMissed(ctx context.Context, p *struggle.Prediction) (bool, error) {
	if p.Status != struggle.StatusMissed {
		return false, fmt.Errorf("insert missed: prediction %s has status %s", p.ID, p.Status)
	}
	inserted := false
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		err := rowQ(ctx, tx, sq().Select(entsql.Count("*")).From(table(tablePredictions)).
			Where(entsql.And(
				entsql.EQ("learner_id", p.LearnerID),
				entsql.EQ("objective_id", p.ObjectiveID),
				entsql.EQ("as_of", p.AsOf),
			))).Scan(&n)
		if err != nil {
			return fmt.Errorf("look up unit: %w", err)
		}
		if n > 0 {
			return nil
		}
		if err := insertPrediction(ctx, tx, p); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, writeErr("missed prediction", err)
	}
	return inserted, nil
}

var indicatorCols = []string{
	"id", "prediction_id", "learner_id", "objective_id", "session_id", "type",
	"severity", "feature", "value", "description", "related", "created_at",
}

func insertIndicators(ctx context.Context, q querier, ind []struggle.Indicator) error {
	if len(ind) == 0 {
		return nil
	}
	ins := sq().Insert(tableIndicators).Columns(indicatorCols...)
	for _, i := range ind {
		related, err := marshalJSON(i.Related)
		if err != nil {
			return fmt.Errorf("encode related: %w", err)
		}
		ins.Values(i.ID, i.PredictionID, i.LearnerID, i.ObjectiveID, i.SessionID, string(i.Type),
			string(i.Severity), string(i.Feature), i.Value, i.Description, related, i.CreatedAt.UTC())
	}
	if _, err := execQ(ctx, q, ins); err != nil {
		return fmt.Errorf("insert indicators: %w", err)
	}
	return nil
}

func (r *predictionRepo) AddIndicators(ctx context.Context, ind []struggle.Indicator) error {
	return writeErr("indicators", insertIndicators(ctx, r.s.db, ind))
}

func (r *predictionRepo) Indicators(ctx context.Context, predictionID string) ([]struggle.Indicator, error) {
	rows, err := queryQ(ctx, r.s.db, sq().Select(indicatorCols...).
		From(table(tableIndicators)).
		Where(entsql.EQ("prediction_id", predictionID)).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	var out []struggle.Indicator
	for rows.Next() {
		var (
			i                      struggle.Indicator
			typ, severity, feature string
			related                string
		)
		if err := rows.Scan(&i.ID, &i.PredictionID, &i.LearnerID, &i.ObjectiveID, &i.SessionID, &typ,
			&severity, &feature, &i.Value, &i.Description, &related, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.Type = struggle.IndicatorType(typ)
		i.Severity = struggle.Severity(severity)
		i.Feature = features.Name(feature)
		if err := unmarshalJSON(related, &i.Related); err != nil {
			return nil, fmt.Errorf("decode related: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	struggle.SortIndicators(out)
	return out, nil
}

func (r *predictionRepo) ResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]struggle.Prediction, error) {
	sel := sq().Select(predictionCols...).
		From(table(tablePredictions)).
		Where(entsql.And(
			entsql.NEQ("status", string(struggle.StatusPending)),
			entsql.NotNull("resolved_at"),
			entsql.LT("resolved_at", cutoff.UTC()),
		)).
		OrderBy("resolved_at", "id")
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := queryQ(ctx, r.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list resolved predictions: %w", err)
	}
	defer rows.Close()

	var out []struggle.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *predictionRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := execQ(ctx, r.s.db, sq().Delete(tablePredictions).Where(entsql.In("id", args...)))
	return writeErr("delete predictions", err)
}

func (f PredictionFilter) predicate() *entsql.Predicate {
	var ps []*entsql.Predicate
	if f.LearnerID != "" {
		ps = append(ps, entsql.EQ("learner_id", f.LearnerID))
	}
	if f.ObjectiveID != "" {
		ps = append(ps, entsql.EQ("objective_id", f.ObjectiveID))
	}
	if len(f.Statuses) > 0 {
		args := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			args[i] = string(s)
		}
		ps = append(ps, entsql.In("status", args...))
	}
	if f.MinProbability != nil {
		ps = append(ps, entsql.GTE("probability", *f.MinProbability))
	}
	if f.MaxProbability != nil {
		ps = append(ps, entsql.LTE("probability", *f.MaxProbability))
	}
	if !f.From.IsZero() {
		ps = append(ps, entsql.GTE("as_of", struggle.AsOfDate(f.From)))
	}
	if !f.To.IsZero() {
		ps = append(ps, entsql.LTE("as_of", struggle.AsOfDate(f.To)))
	}
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	}
	return entsql.And(ps...)
}

// Matches reports whether p satisfies the filter. The archive uses it to
// apply the same filter to cold records.
func (f PredictionFilter) Matches(p *struggle.Prediction) bool {
	if f.LearnerID != "" && p.LearnerID != f.LearnerID {
		return false
	}
	if f.ObjectiveID != "" && p.ObjectiveID != f.ObjectiveID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == p.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinProbability != nil && p.Probability < *f.MinProbability {
		return false
	}
	if f.MaxProbability != nil && p.Probability > *f.MaxProbability {
		return false
	}
	if !f.From.IsZero() && p.AsOf < struggle.AsOfDate(f.From) {
		return false
	}
	if !f.To.IsZero() && p.AsOf > struggle.AsOfDate(f.To) {
		return false
	}
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*struggle.Prediction, error) {
	var (
		p              struggle.Prediction
		status, source string
		vec, factors   string
		due, resolved  sql.NullTime
		actual         sql.NullBool
	)
	err := row.Scan(&p.ID, &p.LearnerID, &p.ObjectiveID, &p.Topic, &p.AsOf, &due,
		&p.Probability, &p.Confidence, &status, &actual, &vec,
		&factors, &p.Model, &p.ModelVersion, &source, &p.CreatedAt,
		&p.UpdatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, struggle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prediction: %w", err)
	}
	p.Status = struggle.Status(status)
	p.Source = struggle.Source(source)
	p.DueDate = timePtr(due)
	p.ResolvedAt = timePtr(resolved)
	p.ActualOutcome = boolPtr(actual)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if err := unmarshalJSON(vec, &p.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if err := unmarshalJSON(factors, &p.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	return &p, nil
}
