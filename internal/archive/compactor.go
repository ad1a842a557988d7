package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/store"
)

// Compactor moves resolved predictions older than the retention window from
// the hot store to the archive. Records are written to the archive before
// they are deleted from the hot store, so a crash in between leaves a
// duplicate that Tiered hides, never a loss.
type Compactor struct {
	hot       store.PredictionRepo
	recs      store.InterventionRepo
	cold      *Cold
	retention time.Duration
	batch     int
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewCompactor creates a compactor. batch bounds each archive write.
func NewCompactor(hot store.PredictionRepo, recs store.InterventionRepo, cold *Cold, retention time.Duration, batch int, log logrus.FieldLogger) *Compactor {
	if batch <= 0 {
		batch = 200
	}
	return &Compactor{
		hot:       hot,
		recs:      recs,
		cold:      cold,
		retention: retention,
		batch:     batch,
		log:       log.WithField("component", "archive"),
		now:       time.Now,
	}
}

// Compact archives every eligible prediction and returns how many moved.
func (c *Compactor) Compact(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.retention)
	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		preds, err := c.hot.ResolvedBefore(ctx, cutoff, c.batch)
		if err != nil {
			return moved, fmt.Errorf("select archivable predictions: %w", err)
		}
		if len(preds) == 0 {
			break
		}

		ids := make([]string, len(preds))
		recs := make([]Record, len(preds))
		for i := range preds {
			ids[i] = preds[i].ID
			ind, err := c.hot.Indicators(ctx, preds[i].ID)
			if err != nil {
				return moved, fmt.Errorf("indicators of %s: %w", preds[i].ID, err)
			}
			recs[i] = Record{Prediction: preds[i], Indicators: ind, ArchivedAt: c.now().UTC()}
		}
		ivs, err := c.recs.List(ctx, store.InterventionFilter{PredictionIDs: ids})
		if err != nil {
			return moved, fmt.Errorf("interventions of batch: %w", err)
		}
		byPred := make(map[string]int, len(recs))
		for i := range recs {
			byPred[recs[i].Prediction.ID] = i
		}
		for _, iv := range ivs {
			i := byPred[iv.PredictionID]
			recs[i].Interventions = append(recs[i].Interventions, iv)
		}

		if err := c.cold.Put(ctx, recs...); err != nil {
			return moved, err
		}
		if err := c.hot.Delete(ctx, ids); err != nil {
			return moved, fmt.Errorf("delete archived predictions: %w", err)
		}
		moved += len(ids)
		metrics.Archived.Add(float64(len(ids)))

		if len(preds) < c.batch {
			break
		}
	}
	if moved > 0 {
		c.log.WithFields(logrus.Fields{"archived": moved, "cutoff": cutoff.Format(time.RFC3339)}).Info("compacted prediction store")
	}
	return moved, nil
}
