package analyzer

import (
	"fmt"
	"sort"

	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/internal/graph"
	"github.com/grovekit/grove/pkg/models"
)

// planGroups partitions the task set into an ordered list of parallel
// groups via topological layering. A task enters group k only if all of
// its dependencies were placed in groups < k and it conflicts with no
// task already placed in group k.
//
// When multiple tasks are eligible for the same slot, lower estimated
// duration wins, then lexicographic task ID. The ordering is total, so
// the partition is reproducible.
func planGroups(tasks []*models.Task, g *graph.DependencyGraph, matrix *conflict.Matrix) ([][]string, error) {
	placed := make(map[string]int, len(tasks)) // task ID -> group index
	remaining := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		remaining[t.ID] = t
	}

	var groups [][]string
	for len(remaining) > 0 {
		k := len(groups)

		// Eligible: all dependencies placed in earlier groups.
		var eligible []*models.Task
		for _, t := range remaining {
			ok := true
			for _, dep := range g.GetDependencies(t.ID) {
				if gi, done := placed[dep]; !done || gi >= k {
					ok = false
					break
				}
			}
			if ok {
				eligible = append(eligible, t)
			}
		}

		if len(eligible) == 0 {
			// Build already rejected cycles, so this is unreachable
			// unless the graph and task set diverge.
			return nil, fmt.Errorf("no eligible tasks for group %d with %d tasks unplaced", k+1, len(remaining))
		}

		sort.Slice(eligible, func(i, j int) bool {
			if eligible[i].EstimatedDuration != eligible[j].EstimatedDuration {
				return eligible[i].EstimatedDuration < eligible[j].EstimatedDuration
			}
			return eligible[i].ID < eligible[j].ID
		})

		var group []string
		for _, t := range eligible {
			conflicted := false
			for _, member := range group {
				if matrix.Conflicts(t.ID, member) {
					conflicted = true
					break
				}
			}
			if conflicted {
				continue
			}
			group = append(group, t.ID)
			placed[t.ID] = k
			delete(remaining, t.ID)
		}

		groups = append(groups, group)
	}

	return groups, nil
}
