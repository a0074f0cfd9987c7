package analyzer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/internal/graph"
	"github.com/grovekit/grove/pkg/models"
)

func newAnalyzer() *Analyzer {
	return New(conflict.NewDetector())
}

func TestAnalyzeBasic(t *testing.T) {
	specs := []TaskSpec{
		{Title: "Add login endpoint", TargetFiles: []string{"internal/api/login.go"}},
		{Title: "Add logout endpoint", TargetFiles: []string{"internal/api/logout.go"}},
	}

	analysis, err := newAnalyzer().Analyze(specs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(analysis.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(analysis.Tasks))
	}
	for _, task := range analysis.Tasks {
		if task.ID == "" {
			t.Error("task ID not generated")
		}
		if task.Status != models.TaskStatusQueued {
			t.Errorf("task %s status = %s, want queued", task.ID, task.Status)
		}
		if task.EstimatedDuration == 0 {
			t.Errorf("task %s has no duration estimate", task.ID)
		}
	}
	if len(analysis.Groups) != 1 {
		t.Errorf("two independent tasks should share one group, got %v", analysis.Groups)
	}
}

func TestAnalyzeMissingTitle(t *testing.T) {
	_, err := newAnalyzer().Analyze([]TaskSpec{{Description: "no title"}})
	if err == nil {
		t.Fatal("expected parse error")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestAnalyzeCycleIsFatal(t *testing.T) {
	specs := []TaskSpec{
		{ID: "a", Title: "A", DependsOn: []string{"b"}},
		{ID: "b", Title: "B", DependsOn: []string{"a"}},
	}
	_, err := newAnalyzer().Analyze(specs)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *graph.CycleError, got %T: %v", err, err)
	}
}

func TestAnalyzeDependsOnByTitle(t *testing.T) {
	specs := []TaskSpec{
		{Title: "Build schema"},
		{Title: "Seed data", DependsOn: []string{"Build schema"}},
	}
	analysis, err := newAnalyzer().Analyze(specs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var seed *models.Task
	for _, task := range analysis.Tasks {
		if task.Title == "Seed data" {
			seed = task
		}
	}
	if seed == nil || len(seed.DependsOn) != 1 {
		t.Fatalf("dependency by title not resolved: %+v", seed)
	}
}

// Spec scenario: 5 tasks where task 3 depends on task 1 and tasks 2 and
// 4 conflict on a shared file. Tasks 2 and 4 must never share a group,
// and task 3 must be in a later group than task 1.
func TestPlanSeparatesConflictingTasks(t *testing.T) {
	specs := []TaskSpec{
		{ID: "t1", Title: "one"},
		{ID: "t2", Title: "two", TargetFiles: []string{"shared/config.go"}},
		{ID: "t3", Title: "three", DependsOn: []string{"t1"}},
		{ID: "t4", Title: "four", TargetFiles: []string{"shared/config.go"}},
		{ID: "t5", Title: "five"},
	}

	for i := 0; i < 20; i++ {
		analysis, err := newAnalyzer().Analyze(specs)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}

		groupOf := make(map[string]int)
		for gi, group := range analysis.Groups {
			for _, id := range group {
				groupOf[id] = gi
			}
		}

		if len(groupOf) != 5 {
			t.Fatalf("not all tasks placed: %v", analysis.Groups)
		}
		if groupOf["t2"] == groupOf["t4"] {
			t.Fatalf("conflicting tasks t2 and t4 share group %d: %v", groupOf["t2"], analysis.Groups)
		}
		if groupOf["t3"] <= groupOf["t1"] {
			t.Fatalf("t3 must run after t1: %v", analysis.Groups)
		}
	}
}

func TestPlanDeterministic(t *testing.T) {
	specs := []TaskSpec{
		{ID: "t1", Title: "alpha", TargetDirs: []string{"internal/a"}},
		{ID: "t2", Title: "beta", TargetDirs: []string{"internal/a"}},
		{ID: "t3", Title: "gamma", TargetDirs: []string{"internal/b"}},
		{ID: "t4", Title: "delta", DependsOn: []string{"t3"}},
	}

	first, err := newAnalyzer().Analyze(specs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for i := 0; i < 10; i++ {
		next, err := newAnalyzer().Analyze(specs)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if !reflect.DeepEqual(first.Groups, next.Groups) {
			t.Fatalf("group plan not deterministic: %v vs %v", first.Groups, next.Groups)
		}
	}
}

func TestComplexityScoring(t *testing.T) {
	tests := []struct {
		name string
		task models.Task
		want models.Complexity
	}{
		{
			name: "small task",
			task: models.Task{Title: "Fix typo", TargetFiles: []string{"README.md"}},
			want: models.ComplexityLow,
		},
		{
			name: "moderate footprint",
			task: models.Task{Title: "Add handler", TargetFiles: []string{"a.go", "b.go"}, TargetDirs: []string{"internal/api"}},
			want: models.ComplexityMedium,
		},
		{
			name: "risky keyword",
			task: models.Task{
				Title:       "Schema migration for orders",
				TargetFiles: []string{"a.go", "b.go", "c.go"},
				TargetDirs:  []string{"internal/store"},
			},
			want: models.ComplexityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreComplexity(&tt.task).Class()
			if got != tt.want {
				t.Errorf("complexity = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecomposeChainsSubtasks(t *testing.T) {
	spec := TaskSpec{
		ID:    "big",
		Title: "Rewrite storage layer",
		Description: "1. Extract the storage interface\n" +
			"2. Port the sql backend to the new interface\n" +
			"3. Delete the legacy layer",
		TargetFiles: []string{"a.go", "b.go", "c.go", "d.go"},
		TargetDirs:  []string{"internal/store", "internal/legacy"},
	}

	analysis, err := newAnalyzer().Analyze([]TaskSpec{spec})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(analysis.Tasks) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(analysis.Tasks))
	}
	for i, task := range analysis.Tasks {
		if task.ParentID != "big" {
			t.Errorf("subtask %s missing parent", task.ID)
		}
		if i == 0 {
			if len(task.DependsOn) != 0 {
				t.Errorf("first subtask should inherit (empty) parent deps, got %v", task.DependsOn)
			}
			continue
		}
		if len(task.DependsOn) != 1 || task.DependsOn[0] != analysis.Tasks[i-1].ID {
			t.Errorf("subtask %s should depend on predecessor %s, got %v", task.ID, analysis.Tasks[i-1].ID, task.DependsOn)
		}
	}

	// Chained subtasks must land in strictly increasing groups.
	groupOf := make(map[string]int)
	for gi, group := range analysis.Groups {
		for _, id := range group {
			groupOf[id] = gi
		}
	}
	for i := 1; i < len(analysis.Tasks); i++ {
		if groupOf[analysis.Tasks[i].ID] <= groupOf[analysis.Tasks[i-1].ID] {
			t.Errorf("subtask order not preserved in groups: %v", analysis.Groups)
		}
	}
}

// A task that depends on a decomposed task must end up depending on
// the final subtask of the chain, since the original ID no longer
// exists in the task set.
func TestDecomposedTaskDependentsRepointed(t *testing.T) {
	specs := []TaskSpec{
		{
			ID:    "big",
			Title: "Rewrite storage layer",
			Description: "1. Extract the storage interface\n" +
				"2. Port the sql backend\n" +
				"3. Delete the legacy layer",
			TargetFiles: []string{"a.go", "b.go", "c.go", "d.go"},
			TargetDirs:  []string{"internal/store", "internal/legacy"},
		},
		{ID: "after", Title: "Migrate callers", DependsOn: []string{"big"}},
	}

	analysis, err := newAnalyzer().Analyze(specs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var after *models.Task
	var lastSub string
	for _, task := range analysis.Tasks {
		if task.ID == "after" {
			after = task
		}
		if task.ParentID == "big" && task.ID > lastSub {
			lastSub = task.ID
		}
	}
	if after == nil || lastSub == "" {
		t.Fatalf("task set missing dependent or subtasks: %v", analysis.Tasks)
	}
	if len(after.DependsOn) != 1 || after.DependsOn[0] != lastSub {
		t.Errorf("dependent deps = %v, want [%s]", after.DependsOn, lastSub)
	}

	// The dependent lands in a later group than every subtask.
	groupOf := make(map[string]int)
	for gi, group := range analysis.Groups {
		for _, id := range group {
			groupOf[id] = gi
		}
	}
	for _, task := range analysis.Tasks {
		if task.ParentID == "big" && groupOf["after"] <= groupOf[task.ID] {
			t.Errorf("dependent scheduled before subtask %s: %v", task.ID, analysis.Groups)
		}
	}
}

func TestDecomposeDeterministic(t *testing.T) {
	spec := TaskSpec{
		ID:          "big",
		Title:       "Refactor auth",
		Description: "1. Split the middleware\n2. Move token parsing\n3. Update call sites",
		TargetFiles: []string{"a.go", "b.go", "c.go"},
		TargetDirs:  []string{"internal/auth"},
	}

	first, err := newAnalyzer().Analyze([]TaskSpec{spec})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := newAnalyzer().Analyze([]TaskSpec{spec})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(first.Tasks) != len(second.Tasks) {
		t.Fatalf("subtask count differs across runs")
	}
	for i := range first.Tasks {
		if first.Tasks[i].ID != second.Tasks[i].ID {
			t.Errorf("subtask IDs differ: %s vs %s", first.Tasks[i].ID, second.Tasks[i].ID)
		}
	}
}

func TestAnalyzeFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	content := `- title: First task
  target_files: [one.go]
- title: Second task
  target_files: [two.go]
  depends_on: [First task]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	analysis, err := newAnalyzer().AnalyzeFiles([]string{path})
	if err != nil {
		t.Fatalf("analyze files: %v", err)
	}
	if len(analysis.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(analysis.Tasks))
	}
	if len(analysis.Groups) != 2 {
		t.Errorf("dependent tasks should span 2 groups, got %v", analysis.Groups)
	}
}

func TestAnalyzeFilesMissing(t *testing.T) {
	_, err := newAnalyzer().AnalyzeFiles([]string{"/does/not/exist.yaml"})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestEstimateDurationMonotonic(t *testing.T) {
	small := &models.Task{Title: "tiny"}
	large := &models.Task{
		Title:       "massive concurrency refactor",
		TargetFiles: []string{"a", "b", "c", "d", "e"},
		TargetDirs:  []string{"x", "y"},
	}
	if estimateDuration(small) >= estimateDuration(large) {
		t.Error("larger task should get a larger estimate")
	}
	if estimateDuration(small) < time.Minute {
		t.Error("estimates should have a sane floor")
	}
}
