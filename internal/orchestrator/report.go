package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/grovekit/grove/internal/checkpoint"
	"github.com/grovekit/grove/pkg/models"
)

// Report is the final run summary handed to the CLI.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Tasks      []*models.Task
	Groups     [][]string
	Counts     map[models.TaskStatus]int
	// Breaker is the circuit breaker's final state.
	Breaker string

	mu       sync.Mutex
	Warnings []string
}

func newReport(runID string, state *checkpoint.WorkflowState) *Report {
	return &Report{
		RunID:     runID,
		StartedAt: state.CreatedAt,
		Groups:    state.Groups,
		Counts:    map[models.TaskStatus]int{},
	}
}

func (r *Report) addWarning(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, msg)
}

// finalize snapshots the terminal state into the report.
func (r *Report) finalize(state *checkpoint.WorkflowState, breaker string) {
	r.FinishedAt = time.Now().UTC()
	r.Tasks = state.Tasks
	r.Breaker = breaker
	r.Counts = map[models.TaskStatus]int{}
	for _, task := range state.Tasks {
		r.Counts[task.Status]++
	}
}

// Success reports whether every task succeeded.
func (r *Report) Success() bool {
	if len(r.Tasks) == 0 {
		return false
	}
	return r.Counts[models.TaskStatusSucceeded] == len(r.Tasks)
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)
)

func statusStyle(s models.TaskStatus) lipgloss.Style {
	switch s {
	case models.TaskStatusSucceeded:
		return okStyle
	case models.TaskStatusFailed, models.TaskStatusTimedOut:
		return failStyle
	case models.TaskStatusCancelled:
		return warnStyle
	default:
		return subtleStyle
	}
}

// Render formats the report for terminal output.
func (r *Report) Render() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("grove run %s", r.RunID)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-28s %-10s %-9s %-10s %s",
		"TASK", "STATUS", "ATTEMPTS", "DURATION", "DETAIL")))
	b.WriteString("\n")

	tasks := append([]*models.Task(nil), r.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	for _, task := range tasks {
		attempts := "-"
		duration := "-"
		detail := ""
		if task.Result != nil {
			attempts = fmt.Sprintf("%d", task.Result.Attempt)
			duration = task.Result.Duration().Round(time.Millisecond).String()
			detail = task.Result.ErrorMessage
		}
		if task.Status == models.TaskStatusCancelled && task.CancelReason != "" {
			detail = task.CancelReason
		}
		line := fmt.Sprintf("%-28s %-10s %-9s %-10s %s",
			truncate(task.ID, 28), task.Status, attempts, duration, detail)
		b.WriteString(statusStyle(task.Status).Render(line))
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("%d succeeded, %d failed, %d timed out, %d cancelled of %d tasks in %d groups",
		r.Counts[models.TaskStatusSucceeded],
		r.Counts[models.TaskStatusFailed],
		r.Counts[models.TaskStatusTimedOut],
		r.Counts[models.TaskStatusCancelled],
		len(r.Tasks), len(r.Groups))
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		summary += fmt.Sprintf(" (%s)", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.Breaker != "" && r.Breaker != "closed" {
		summary += fmt.Sprintf("; circuit breaker %s", r.Breaker)
	}
	b.WriteString("\n")
	b.WriteString(summaryStyle.Render(summary))
	b.WriteString("\n")

	r.mu.Lock()
	warnings := append([]string(nil), r.Warnings...)
	r.mu.Unlock()
	for _, w := range warnings {
		b.WriteString(warnStyle.Render("warning: " + w))
		b.WriteString("\n")
	}

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
