// Package archive keeps resolved predictions that aged out of the SQLite
// hot store in BadgerDB, and reads both tiers as one.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

const (
	recordPrefix = "archive/pred/"
	indexPrefix  = "archive/id/"
)

// Record is an archived prediction with its children.
type Record struct {
	Prediction    struggle.Prediction       `json:"prediction"`
	Indicators    []struggle.Indicator      `json:"indicators,omitempty"`
	Interventions []struggle.Recommendation `json:"interventions,omitempty"`
	ArchivedAt    time.Time                 `json:"archived_at"`
}

// Cold is the BadgerDB archive. Records are keyed by learner and as-of date
// so one learner's history is a single prefix scan; a secondary key maps
// prediction ids to record keys.
type Cold struct {
	db *badger.DB
}

// NewCold wraps an open database.
func NewCold(db *badger.DB) *Cold {
	return &Cold{db: db}
}

func recordKey(p *struggle.Prediction) []byte {
	return []byte(recordPrefix + p.LearnerID + "/" + p.AsOf + "/" + p.ID)
}

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

// Put writes records. Writing the same prediction twice overwrites it.
func (c *Cold) Put(_ context.Context, recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range recs {
		data, err := json.Marshal(&recs[i])
		if err != nil {
			return fmt.Errorf("encode archive record %s: %w", recs[i].Prediction.ID, err)
		}
		key := recordKey(&recs[i].Prediction)
		if err := wb.Set(key, data); err != nil {
			return err
		}
		if err := wb.Set(indexKey(recs[i].Prediction.ID), key); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush archive batch: %w", err)
	}
	return nil
}

// Get returns an archived record, or struggle.ErrNotFound.
func (c *Cold) Get(_ context.Context, id string) (*Record, error) {
	var rec Record
	err := c.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get(indexKey(id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, struggle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read archive record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns archived records matching f. An empty learner id scans the
// whole archive.
func (c *Cold) List(_ context.Context, f store.PredictionFilter) ([]Record, error) {
	prefix := []byte(recordPrefix)
	if f.LearnerID != "" {
		prefix = []byte(recordPrefix + f.LearnerID + "/")
	}
	var out []Record
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if f.Matches(&rec.Prediction) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}
	return out, nil
}

// Tiered reads predictions from the hot store and the archive. A prediction
// present in both is reported once, from the hot store.
type Tiered struct {
	Hot  store.PredictionRepo
	Cold *Cold
}

// Get returns a prediction from whichever tier holds it.
func (t *Tiered) Get(ctx context.Context, id string) (*struggle.Prediction, error) {
	p, err := t.Hot.Get(ctx, id)
	if err == nil || !errors.Is(err, struggle.ErrNotFound) || t.Cold == nil {
		return p, err
	}
	rec, err := t.Cold.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec.Prediction, nil
}

// List merges both tiers, newest as-of first, honoring f.Limit.
func (t *Tiered) List(ctx context.Context, f store.PredictionFilter) ([]struggle.Prediction, error) {
	limit := f.Limit
	f.Limit = 0
	hot, err := t.Hot.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := hot
	if t.Cold != nil {
		cold, err := t.Cold.List(ctx, f)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(hot))
		for _, p := range hot {
			seen[p.ID] = true
		}
		for _, rec := range cold {
			if !seen[rec.Prediction.ID] {
				out = append(out, rec.Prediction)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AsOf != out[j].AsOf {
			return out[i].AsOf > out[j].AsOf
		}
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TieredInterventions reads interventions from the hot store and from
// archived records, so adoption history outlives compaction.
type TieredInterventions struct {
	Hot  store.InterventionRepo
	Cold *Cold
}

// List merges both tiers, highest priority first. An intervention present
// in both is reported once, from the hot store.
func (t *TieredInterventions) List(ctx context.Context, f store.InterventionFilter) ([]struggle.Recommendation, error) {
	out, err := t.Hot.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if t.Cold == nil {
		return out, nil
	}
	cold, err := t.coldInterventions(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(cold) == 0 {
		return out, nil
	}
	seen := make(map[string]bool, len(out))
	for _, r := range out {
		seen[r.ID] = true
	}
	for _, r := range cold {
		if !seen[r.ID] {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FirstApplied returns the earliest adoption across both tiers, or nil.
func (t *TieredInterventions) FirstApplied(ctx context.Context, learnerID string) (*time.Time, error) {
	first, err := t.Hot.FirstApplied(ctx, learnerID)
	if err != nil || t.Cold == nil {
		return first, err
	}
	cold, err := t.coldInterventions(ctx, store.InterventionFilter{LearnerID: learnerID})
	if err != nil {
		return nil, err
	}
	for _, r := range cold {
		if r.AppliedAt != nil && (first == nil || r.AppliedAt.Before(*first)) {
			at := r.AppliedAt.UTC()
			first = &at
		}
	}
	return first, nil
}

func (t *TieredInterventions) coldInterventions(ctx context.Context, f store.InterventionFilter) ([]struggle.Recommendation, error) {
	recs, err := t.Cold.List(ctx, store.PredictionFilter{LearnerID: f.LearnerID})
	if err != nil {
		return nil, err
	}
	var out []struggle.Recommendation
	for _, rec := range recs {
		for i := range rec.Interventions {
			if f.Matches(&rec.Interventions[i]) {
				out = append(out, rec.Interventions[i])
			}
		}
	}
	return out, nil
}
