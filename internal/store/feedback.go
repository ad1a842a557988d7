package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/struggle"
)

// FeedbackRepo stores write-once learner feedback.
type FeedbackRepo interface {
	Insert(ctx context.Context, f *struggle.Feedback) error
	ListByPrediction(ctx context.Context, predictionID string) ([]struggle.Feedback, error)
}

var feedbackCols = []string{
	"id", "prediction_id", "intervention_id", "learner_id", "kind", "rating", "comment", "actual_struggle", "created_at",
}

type feedbackRepo struct {
	s *Store
}

func (r *feedbackRepo) Insert(ctx context.Context, f *struggle.Feedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := execQ(ctx, r.s.db, sq().Insert(tableFeedback).
		Columns(feedbackCols...).
		Values(f.ID, f.PredictionID, f.InterventionID, f.LearnerID, string(f.Kind),
			nullInt(f.Rating), f.Comment, nullBool(f.ActualStruggle), f.CreatedAt.UTC()))
	return writeErr("feedback", err)
}

func (r *feedbackRepo) ListByPrediction(ctx context.Context, predictionID string) ([]struggle.Feedback, error) {
	rows, err := queryQ(ctx, r.s.db, sq().Select(feedbackCols...).
		From(table(tableFeedback)).
		Where(entsql.EQ("prediction_id", predictionID)).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []struggle.Feedback
	for rows.Next() {
		var (
			f      struggle.Feedback
			kind   string
			rating sql.NullInt64
			actual sql.NullBool
		)
		if err := rows.Scan(&f.ID, &f.PredictionID, &f.InterventionID, &f.LearnerID, &kind,
			&rating, &f.Comment, &actual, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.Kind = struggle.FeedbackKind(kind)
		f.Rating = intPtr(rating)
		f.ActualStruggle = boolPtr(actual)
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}
