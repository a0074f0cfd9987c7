package orchestrator

import (
	"time"

	"github.com/grovekit/grove/internal/engine"
)

// EventKind classifies orchestrator events.
type EventKind string

const (
	// EventRunStarted fires once when the pipeline begins.
	EventRunStarted EventKind = "run_started"
	// EventPlanReady fires after analysis, before execution.
	EventPlanReady EventKind = "plan_ready"
	// EventGroupStarted fires when a parallel group begins executing.
	EventGroupStarted EventKind = "group_started"
	// EventGroupCompleted fires when every task in a group is terminal.
	EventGroupCompleted EventKind = "group_completed"
	// EventTask wraps an engine task event.
	EventTask EventKind = "task"
	// EventWarning reports a non-fatal problem, e.g. a checkpoint write
	// failure.
	EventWarning EventKind = "warning"
	// EventRunCompleted fires once when the pipeline finishes.
	EventRunCompleted EventKind = "run_completed"
)

// Event is one orchestrator occurrence, delivered to the observer in
// order.
type Event struct {
	Kind  EventKind
	RunID string
	// Group is the 1-based group number for group events, 0 otherwise.
	Group int
	// Task holds the engine event for EventTask.
	Task *engine.Event
	// Message is free-form detail.
	Message string
	Time    time.Time
}
