// Package checkpoint persists workflow state so an interrupted run can
// resume without re-deriving any planning decision. Checkpoints are
// versioned JSON documents, one per run ID, written atomically via a
// temp file and rename. A SQLite history store keeps run summaries and
// the attempt audit trail across runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/pkg/models"
)

// stateVersion is bumped when the checkpoint layout changes.
const stateVersion = 1

// Phase is the pipeline phase recorded in the checkpoint.
type Phase string

const (
	// PhasePlanned means analysis finished and the plan is persisted.
	PhasePlanned Phase = "planned"
	// PhaseExecuting means task groups are running.
	PhaseExecuting Phase = "executing"
	// PhaseIntegrating means execution finished and results are being
	// integrated.
	PhaseIntegrating Phase = "integrating"
	// PhaseCompleted means the run finished, successfully or not.
	PhaseCompleted Phase = "completed"
	// PhaseAborted means the run stopped on an unrecoverable error.
	PhaseAborted Phase = "aborted"
)

// Resumable reports whether a run in this phase can be picked up again.
func (p Phase) Resumable() bool {
	return p == PhasePlanned || p == PhaseExecuting || p == PhaseIntegrating
}

// PairRecord is one persisted conflict-matrix entry.
type PairRecord struct {
	A          string              `json:"a"`
	B          string              `json:"b"`
	Descriptor conflict.Descriptor `json:"descriptor"`
}

// WorkflowState is the complete persisted state of one run: the task
// set, the plan (groups and conflict matrix) and every task's current
// status. Loading it back is sufficient to continue the run; nothing
// is re-derived.
type WorkflowState struct {
	// Version is the checkpoint layout version.
	Version int `json:"version"`
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`
	// Phase is the pipeline phase at write time.
	Phase Phase `json:"phase"`
	// BaseRef is the git ref workspaces are created from.
	BaseRef string `json:"base_ref,omitempty"`
	// Tasks is the full task set with current statuses and results.
	Tasks []*models.Task `json:"tasks"`
	// Groups is the planned parallel groups, ordered.
	Groups [][]string `json:"groups"`
	// Conflicts is the persisted conflict matrix.
	Conflicts []PairRecord `json:"conflicts,omitempty"`
	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when this checkpoint was written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Matrix reconstructs the conflict matrix from the persisted pairs.
func (s *WorkflowState) Matrix() *conflict.Matrix {
	pairs := make(map[conflict.PairKey]conflict.Descriptor, len(s.Conflicts))
	for _, rec := range s.Conflicts {
		pairs[conflict.NewPairKey(rec.A, rec.B)] = rec.Descriptor
	}
	return conflict.MatrixFromPairs(pairs)
}

// PairRecords flattens a matrix into persistable entries, sorted for
// stable output.
func PairRecords(m *conflict.Matrix) []PairRecord {
	var recs []PairRecord
	for key, desc := range m.Pairs() {
		recs = append(recs, PairRecord{A: key.A, B: key.B, Descriptor: desc})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].A != recs[j].A {
			return recs[i].A < recs[j].A
		}
		return recs[i].B < recs[j].B
	})
	return recs
}

// IOError wraps a checkpoint read/write failure. Callers log it loudly
// and keep executing; losing resumability must not kill a healthy run.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Manager reads and writes checkpoints under a single directory.
type Manager struct {
	dir string
}

// NewManager creates a checkpoint manager rooted at dir, creating the
// directory if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the checkpoint file path for a run.
func (m *Manager) Path(runID string) string {
	return filepath.Join(m.dir, runID+".json")
}

// Save writes the state atomically: serialize to a temp file in the
// same directory, fsync, then rename over the final path. A reader
// never observes a partially written checkpoint.
func (m *Manager) Save(state *WorkflowState) error {
	state.Version = stateVersion
	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: m.Path(state.RunID), Err: err}
	}

	tmp, err := os.CreateTemp(m.dir, state.RunID+".tmp-*")
	if err != nil {
		return &IOError{Op: "create temp for", Path: m.Path(state.RunID), Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &IOError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, m.Path(state.RunID)); err != nil {
		return &IOError{Op: "rename", Path: m.Path(state.RunID), Err: err}
	}
	return nil
}

// ErrNotFound indicates no checkpoint exists for the run ID.
var ErrNotFound = errors.New("checkpoint not found")

// Load reads the checkpoint for a run.
func (m *Manager) Load(runID string) (*WorkflowState, error) {
	data, err := os.ReadFile(m.Path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load run %s: %w", runID, ErrNotFound)
		}
		return nil, &IOError{Op: "read", Path: m.Path(runID), Err: err}
	}

	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &IOError{Op: "decode", Path: m.Path(runID), Err: err}
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("load run %s: unsupported checkpoint version %d", runID, state.Version)
	}
	return &state, nil
}

// Summary describes one persisted run for listings.
type Summary struct {
	RunID     string
	Phase     Phase
	UpdatedAt time.Time
	Total     int
	Terminal  int
}

// DetectResumable scans the checkpoint directory and returns runs that
// can be resumed, most recently updated first. Unreadable files are
// skipped.
func (m *Manager) DetectResumable() ([]Summary, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, &IOError{Op: "scan", Path: m.dir, Err: err}
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		state, err := m.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if !state.Phase.Resumable() {
			continue
		}
		s := Summary{
			RunID:     state.RunID,
			Phase:     state.Phase,
			UpdatedAt: state.UpdatedAt,
			Total:     len(state.Tasks),
		}
		for _, task := range state.Tasks {
			if task.Status.Terminal() {
				s.Terminal++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// NormalizeForResume prepares a loaded state for re-execution. Tasks
// persisted as running were interrupted mid-attempt: their work cannot
// be trusted, so they become failed. Terminal tasks stay terminal and
// queued tasks stay queued. Returns the number of tasks demoted.
func NormalizeForResume(state *WorkflowState) int {
	demoted := 0
	now := time.Now().UTC()
	for _, task := range state.Tasks {
		if task.Status != models.TaskStatusRunning {
			continue
		}
		task.Status = models.TaskStatusFailed
		ts := now
		task.CompletedAt = &ts
		if task.Result == nil {
			task.Result = &models.ExecutionResult{
				TaskID:       task.ID,
				Status:       models.ResultFailed,
				ExitCode:     -1,
				ErrorMessage: "interrupted while running",
			}
		}
		demoted++
	}
	return demoted
}
