package curriculum

import (
	"context"
	"fmt"
	"sort"
)

// Requirement is a prerequisite found while walking the graph, with its
// distance from the starting objective (1 = direct).
type Requirement struct {
	Objective Objective
	Depth     int
}

// Closure walks "requires" edges breadth-first from id up to maxDepth levels
// and returns every prerequisite once, nearest first. Cycles are tolerated.
func Closure(ctx context.Context, g Graph, id string, maxDepth int) ([]Requirement, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	visited := map[string]bool{id: true}
	queue := []Requirement{{Objective: Objective{ID: id}, Depth: 0}}
	var out []Requirement

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Depth >= maxDepth {
			continue
		}

		prereqs, err := g.Prerequisites(ctx, cur.Objective.ID)
		if err != nil {
			return nil, fmt.Errorf("prerequisites of %q: %w", cur.Objective.ID, err)
		}
		// Sort for deterministic ordering.
		sort.Slice(prereqs, func(i, j int) bool { return prereqs[i].ID < prereqs[j].ID })

		for _, p := range prereqs {
			if visited[p.ID] {
				continue
			}
			visited[p.ID] = true
			req := Requirement{Objective: p, Depth: cur.Depth + 1}
			out = append(out, req)
			queue = append(queue, req)
		}
	}
	return out, nil
}
