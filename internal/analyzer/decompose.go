package analyzer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

// decomposeDescriptionBound is the description length above which a
// high-complexity task is considered for decomposition.
const decomposeDescriptionBound = 280

// stepMarker matches ordered step lines such as "1. do x" or "2) do y".
var stepMarker = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)

// shouldDecompose reports whether a task must be split into subtasks:
// high complexity plus either an oversized description or explicit
// ordered steps.
func shouldDecompose(t *models.Task) bool {
	if t.Complexity != models.ComplexityHigh {
		return false
	}
	if len(stepMarker.FindAllStringIndex(t.Description, -1)) >= 2 {
		return true
	}
	return len(t.Description) > decomposeDescriptionBound
}

// decompose splits a task into an ordered chain of subtasks, each with
// a dependency edge to its predecessor. The split is a pure function of
// the description, so re-analyzing the same input yields the same
// subtasks (IDs included).
func decompose(t *models.Task) []*models.Task {
	steps := splitSteps(t.Description)
	if len(steps) < 2 {
		// Nothing to split on; keep the task whole.
		return []*models.Task{t}
	}

	subtasks := make([]*models.Task, 0, len(steps))
	perStep := t.EstimatedDuration / time.Duration(len(steps))
	if perStep <= 0 {
		perStep = time.Minute
	}

	prevID := ""
	for i, step := range steps {
		sub := t.Clone()
		sub.ID = fmt.Sprintf("%s-s%d", t.ID, i+1)
		sub.ParentID = t.ID
		sub.Title = fmt.Sprintf("%s (step %d/%d)", t.Title, i+1, len(steps))
		sub.Description = step
		sub.Complexity = models.ComplexityMedium
		sub.EstimatedDuration = perStep

		// Chain: each step depends on its predecessor; the first step
		// inherits the parent's dependencies.
		if prevID == "" {
			sub.DependsOn = append([]string(nil), t.DependsOn...)
		} else {
			sub.DependsOn = []string{prevID}
		}
		prevID = sub.ID
		subtasks = append(subtasks, sub)
	}
	return subtasks
}

// splitSteps breaks a description into ordered steps. Numbered step
// markers take precedence; otherwise the text is split on paragraph
// boundaries.
func splitSteps(description string) []string {
	locs := stepMarker.FindAllStringIndex(description, -1)
	if len(locs) >= 2 {
		var steps []string
		for i, loc := range locs {
			end := len(description)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			step := strings.TrimSpace(description[loc[0]:end])
			if step != "" {
				steps = append(steps, step)
			}
		}
		return steps
	}

	var steps []string
	for _, para := range strings.Split(description, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			steps = append(steps, p)
		}
	}
	return steps
}
