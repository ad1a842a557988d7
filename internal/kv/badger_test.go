package kv

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/logging"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"in memory", InMemoryConfig(), false},
		{"persistent", Config{Path: filepath.Join(t.TempDir(), "kv")}, false},
		{"persistent without path", Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.cfg, logging.Discard())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, db.Update(func(txn *badger.Txn) error {
				return txn.Set([]byte("k"), []byte("v"))
			}))
			require.NoError(t, db.View(func(txn *badger.Txn) error {
				_, err := txn.Get([]byte("k"))
				return err
			}))
		})
	}
}

func TestNewGCRunnerValidates(t *testing.T) {
	db, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name     string
		db       *badger.DB
		interval time.Duration
		ratio    float64
	}{
		{"nil db", nil, time.Minute, 0.5},
		{"zero interval", db, 0, 0.5},
		{"ratio above one", db, time.Minute, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGCRunner(tt.db, tt.interval, tt.ratio, logging.Discard())
			assert.Error(t, err)
		})
	}

	r, err := NewGCRunner(db, 10*time.Millisecond, 0.5, logging.Discard())
	require.NoError(t, err)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}
