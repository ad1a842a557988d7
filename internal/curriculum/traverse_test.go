package curriculum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapGraph is a Graph over an adjacency map of "requires" edges.
type mapGraph struct {
	requires map[string][]string
	fail     string
}

func (g mapGraph) Objective(_ context.Context, id string) (*Objective, error) {
	return &Objective{ID: id}, nil
}

func (g mapGraph) Prerequisites(_ context.Context, id string) ([]Objective, error) {
	if id == g.fail {
		return nil, errors.New("graph unavailable")
	}
	var out []Objective
	for _, r := range g.requires[id] {
		out = append(out, Objective{ID: r})
	}
	return out, nil
}

func (g mapGraph) Upcoming(context.Context, string, time.Time, time.Time) ([]Scheduled, error) {
	return nil, nil
}

func ids(reqs []Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Objective.ID
	}
	return out
}

func TestClosure(t *testing.T) {
	g := mapGraph{requires: map[string][]string{
		"calculus":  {"limits", "algebra"},
		"limits":    {"algebra", "functions"},
		"functions": {"algebra"},
		"algebra":   {"arithmetic"},
		// A cycle must not loop forever.
		"arithmetic": {"calculus"},
	}}

	tests := []struct {
		name     string
		maxDepth int
		want     []string
		depths   []int
	}{
		{"direct only", 1, []string{"algebra", "limits"}, []int{1, 1}},
		{"two levels", 2, []string{"algebra", "limits", "arithmetic", "functions"}, []int{1, 1, 2, 2}},
		{"zero means direct", 0, []string{"algebra", "limits"}, []int{1, 1}},
		{"deep walk stops at cycle", 10, []string{"algebra", "limits", "arithmetic", "functions"}, []int{1, 1, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Closure(context.Background(), g, "calculus", tt.maxDepth)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
			for i, r := range got {
				assert.Equal(t, tt.depths[i], r.Depth, r.Objective.ID)
			}
		})
	}
}

func TestClosurePropagatesErrors(t *testing.T) {
	g := mapGraph{requires: map[string][]string{"b": {"a"}}, fail: "a"}
	_, err := Closure(context.Background(), g, "b", 3)
	assert.ErrorContains(t, err, `prerequisites of "a"`)
}
