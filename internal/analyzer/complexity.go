package analyzer

import (
	"strings"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

// Score is a numeric complexity score mapped to a Complexity class via
// fixed thresholds.
type Score int

// Fixed thresholds for the complexity classes.
const (
	mediumThreshold Score = 4
	highThreshold   Score = 8
)

// Class maps the score to a complexity class.
func (s Score) Class() models.Complexity {
	switch {
	case s >= highThreshold:
		return models.ComplexityHigh
	case s >= mediumThreshold:
		return models.ComplexityMedium
	default:
		return models.ComplexityLow
	}
}

// riskKeywords flag descriptions that historically correlate with
// risky, sprawling changes.
var riskKeywords = []string{
	"migration", "refactor", "rewrite", "schema",
	"authentication", "authorization", "concurrency", "breaking",
}

// scoreComplexity computes the complexity score from descriptive
// features: breadth of the file footprint, dependency fan-in, risk
// keywords and declared resource intensity.
func scoreComplexity(t *models.Task) Score {
	score := Score(len(t.TargetFiles))
	score += Score(2 * len(t.TargetDirs))
	score += Score(len(t.DependsOn))

	text := strings.ToLower(t.Title + " " + t.Description)
	for _, kw := range riskKeywords {
		if strings.Contains(text, kw) {
			score += 3
			break
		}
	}

	if t.ResourceIntensive {
		score += 2
	}
	return score
}

// estimateDuration derives the duration estimate used as the scheduling
// tie-break. It is a pure function of the complexity score so repeated
// analysis passes agree.
func estimateDuration(t *models.Task) time.Duration {
	base := 2 * time.Minute
	return base + time.Duration(scoreComplexity(t))*90*time.Second
}
