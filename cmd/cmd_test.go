package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "foresight (devel)\n", out)
}

func TestSeedBatchAndList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FORESIGHT_BADGER_DIR", filepath.Join(dir, "badger"))
	t.Setenv("FORESIGHT_SCHEDULER_ENABLED", "false")
	db := filepath.Join(dir, "foresight.db")

	due := time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339)
	fixture := filepath.Join(dir, "fixture.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(fmt.Sprintf(`
learners:
  - id: ana
    name: Ana
    session_minutes: 30
objectives:
  - id: basics
    title: Basics
    topic: physiology
    difficulty: 0.3
  - id: advanced
    title: Advanced
    topic: physiology
    difficulty: 0.8
edges:
  - objective: advanced
    requires: basics
mastery:
  - learner: ana
    objective: basics
    level: 0.1
plan:
  - id: item-1
    learner: ana
    objective: advanced
    kind: study
    scheduled_for: %s
    duration_minutes: 30
`, due)), 0o600))

	out, err := run(t, "seed", fixture, "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 1 learners, 2 objectives, 1 plan items.")

	out, err = run(t, "batch", "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "1 learners")

	out, err = run(t, "predict", "ana", "--db", db, "--log-level", "error", "--json")
	require.NoError(t, err)
	var res struct {
		Predictions []struct {
			ObjectiveID string  `json:"objective_id"`
			Probability float64 `json:"probability"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res.Predictions)
	assert.Equal(t, "advanced", res.Predictions[0].ObjectiveID)
	assert.InDelta(t, 0.8, res.Predictions[0].Probability, 1e-9)
}

func TestFeedbackRejectsUnknownKind(t *testing.T) {
	_, err := run(t, "feedback", "p-1", "--kind", "meh", "--db", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, `unknown feedback kind "meh"`)
}
