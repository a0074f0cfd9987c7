package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/pkg/models"
)

func testState(runID string) *WorkflowState {
	return &WorkflowState{
		RunID:   runID,
		Phase:   PhaseExecuting,
		BaseRef: "main",
		Tasks: []*models.Task{
			{ID: "t1", Status: models.TaskStatusSucceeded},
			{ID: "t2", Status: models.TaskStatusRunning},
			{ID: "t3", DependsOn: []string{"t1"}, Status: models.TaskStatusQueued},
		},
		Groups: [][]string{{"t1", "t2"}, {"t3"}},
		Conflicts: []PairRecord{
			{A: "t2", B: "t3", Descriptor: conflict.Descriptor{
				Conflicted: true,
				Dimensions: []conflict.Dimension{conflict.DimensionFile},
			}},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	state := testState("run-1")
	if err := m.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := m.Load("run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.Phase != PhaseExecuting {
		t.Errorf("loaded = %s/%s", loaded.RunID, loaded.Phase)
	}
	if !reflect.DeepEqual(loaded.Groups, state.Groups) {
		t.Errorf("groups = %v, want %v", loaded.Groups, state.Groups)
	}
	if len(loaded.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(loaded.Tasks))
	}

	// The conflict matrix must reload without re-deriving anything.
	matrix := loaded.Matrix()
	if !matrix.Conflicts("t2", "t3") || !matrix.Conflicts("t3", "t2") {
		t.Error("matrix lost the t2/t3 conflict")
	}
	if matrix.Conflicts("t1", "t2") {
		t.Error("matrix invented a conflict")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Save(testState("run-1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "run-1.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only run-1.json", names)
	}
}

func TestLoadMissing(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadCorruptReturnsIOError(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{truncated"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = m.Load("bad")
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestDetectResumable(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	running := testState("run-a")
	if err := m.Save(running); err != nil {
		t.Fatal(err)
	}
	done := testState("run-b")
	done.Phase = PhaseCompleted
	if err := m.Save(done); err != nil {
		t.Fatal(err)
	}

	resumable, err := m.DetectResumable()
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(resumable) != 1 || resumable[0].RunID != "run-a" {
		t.Fatalf("resumable = %+v, want only run-a", resumable)
	}
	if resumable[0].Total != 3 || resumable[0].Terminal != 1 {
		t.Errorf("summary = %+v, want total 3 terminal 1", resumable[0])
	}
}

func TestNormalizeForResume(t *testing.T) {
	state := testState("run-1")
	demoted := NormalizeForResume(state)
	if demoted != 1 {
		t.Fatalf("demoted = %d, want 1", demoted)
	}

	byID := map[string]*models.Task{}
	for _, task := range state.Tasks {
		byID[task.ID] = task
	}
	if byID["t1"].Status != models.TaskStatusSucceeded {
		t.Error("terminal task must stay terminal")
	}
	if byID["t2"].Status != models.TaskStatusFailed {
		t.Errorf("running task = %s, want failed", byID["t2"].Status)
	}
	if byID["t2"].Result == nil || byID["t2"].Result.ErrorMessage == "" {
		t.Error("demoted task should carry an explanatory result")
	}
	if byID["t3"].Status != models.TaskStatusQueued {
		t.Error("queued task must stay queued")
	}

	// Normalizing twice changes nothing.
	if again := NormalizeForResume(state); again != 0 {
		t.Errorf("second normalize demoted %d", again)
	}
}

func TestHistoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()

	state := testState("run-1")
	if err := store.RecordRun(state); err != nil {
		t.Fatalf("record run: %v", err)
	}

	now := time.Now().UTC()
	res := &models.ExecutionResult{
		TaskID:    "t1",
		Attempt:   1,
		Status:    models.ResultSuccess,
		StartTime: now,
		EndTime:   now.Add(time.Second),
		StdoutRef: "/data/run-1/t1-attempt1.stdout",
	}
	if err := store.RecordAttempt("run-1", res); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	// Upsert updates the phase in place.
	state.Phase = PhaseCompleted
	if err := store.RecordRun(state); err != nil {
		t.Fatalf("re-record run: %v", err)
	}

	runs, err := store.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Phase != string(PhaseCompleted) || runs[0].Total != 3 {
		t.Errorf("run = %+v", runs[0])
	}

	attempts, err := store.AttemptsForRun("run-1")
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].TaskID != "t1" || attempts[0].Status != string(models.ResultSuccess) {
		t.Errorf("attempts = %+v", attempts)
	}
	if attempts[0].StdoutRef != res.StdoutRef || attempts[0].StderrRef != "" {
		t.Errorf("output refs = %q/%q, want %q/empty", attempts[0].StdoutRef, attempts[0].StderrRef, res.StdoutRef)
	}
}

func TestWatchSeesUpdates(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	state := testState("run-1")
	if err := m.Save(state); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	phases := make(chan Phase, 8)
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx, "run-1", func(s *WorkflowState) bool {
			phases <- s.Phase
			return s.Phase != PhaseCompleted
		})
	}()

	// First delivery is the current state.
	select {
	case p := <-phases:
		if p != PhaseExecuting {
			t.Fatalf("initial phase = %s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch never delivered the initial state")
	}

	state.Phase = PhaseCompleted
	if err := m.Save(state); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-phases:
			if p == PhaseCompleted {
				if err := <-done; err != nil {
					t.Fatalf("watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("watch never observed the completed phase")
		}
	}
}
