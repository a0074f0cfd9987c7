// Package analyzer turns raw task inputs into a validated, scheduled
// task set: it parses specs, scores complexity, decomposes oversized
// tasks, validates the dependency DAG, and partitions the set into
// conflict-free parallel groups.
package analyzer

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/internal/graph"
	"github.com/grovekit/grove/pkg/models"
)

// ParseError indicates a raw input could not be resolved to a task
// description. It is fatal: the run aborts before any execution.
type ParseError struct {
	// Source identifies the offending input (file path or record index).
	Source string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse task input %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// TaskSpec is the on-disk shape of one task input.
type TaskSpec struct {
	// ID optionally pins the task ID; generated when empty.
	ID string `yaml:"id"`
	// Title is the short task description. Required.
	Title string `yaml:"title"`
	// Description is the detailed task description.
	Description string `yaml:"description"`
	// DependsOn lists IDs or titles of prerequisite tasks.
	DependsOn []string `yaml:"depends_on"`
	// EstimatedDuration optionally overrides the derived estimate.
	EstimatedDuration time.Duration `yaml:"estimated_duration"`

	TargetFiles        []string `yaml:"target_files"`
	TargetDirs         []string `yaml:"target_dirs"`
	Components         []string `yaml:"components"`
	Interfaces         []string `yaml:"interfaces"`
	SchemaWrites       []string `yaml:"schema_writes"`
	ExclusiveResources []string `yaml:"exclusive_resources"`
	TestEnvs           []string `yaml:"test_envs"`
	ResourceIntensive  bool     `yaml:"resource_intensive"`
}

// Analysis is the result of one analysis pass. The matrix and groups
// are persisted with the plan checkpoint so a resumed run never
// re-derives them.
type Analysis struct {
	// Tasks is the full task set, including decomposed subtasks,
	// ordered by ID.
	Tasks []*models.Task
	// Groups is the parallel-group plan: tasks in the same group may
	// run concurrently, groups run in order.
	Groups [][]string
	// Matrix is the pairwise conflict matrix for the task set.
	Matrix *conflict.Matrix
}

// Analyzer parses, scores and partitions task inputs.
type Analyzer struct {
	detector *conflict.Detector
}

// New creates an Analyzer using the given conflict detector.
func New(detector *conflict.Detector) *Analyzer {
	return &Analyzer{detector: detector}
}

// AnalyzeFiles loads YAML task specs from the given paths, in order,
// and analyzes them. Each file holds a single spec or a list of specs.
func (a *Analyzer) AnalyzeFiles(paths []string) (*Analysis, error) {
	var specs []TaskSpec
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, &ParseError{Source: p, Err: err}
		}
		loaded, err := decodeSpecs(data)
		if err != nil {
			return nil, &ParseError{Source: p, Err: err}
		}
		specs = append(specs, loaded...)
	}
	return a.Analyze(specs)
}

// decodeSpecs accepts either a YAML list of specs or a single spec
// document.
func decodeSpecs(data []byte) ([]TaskSpec, error) {
	var list []TaskSpec
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var single TaskSpec
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	if single.Title == "" {
		return nil, fmt.Errorf("no task description found")
	}
	return []TaskSpec{single}, nil
}

// Analyze converts specs into tasks, decomposes where needed, validates
// the DAG, builds the conflict matrix, and computes parallel groups.
//
// The whole pass is deterministic for a fixed input: IDs derive from
// spec order, decomposition is a pure function of the description, and
// group assignment uses the documented tie-break (estimated duration,
// then lexicographic ID).
func (a *Analyzer) Analyze(specs []TaskSpec) (*Analysis, error) {
	tasks, err := a.buildTasks(specs)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}

	matrix := conflict.BuildMatrix(a.detector, tasks)

	groups, err := planGroups(tasks, g, matrix)
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return &Analysis{Tasks: tasks, Groups: groups, Matrix: matrix}, nil
}

// buildTasks parses each spec into a TaskModel, resolves title-based
// dependency references to IDs, and expands high-complexity tasks into
// subtask chains.
func (a *Analyzer) buildTasks(specs []TaskSpec) ([]*models.Task, error) {
	now := time.Now().UTC()

	// First pass: assign IDs so dependency references can resolve.
	idByTitle := make(map[string]string, len(specs))
	ids := make([]string, len(specs))
	for i, spec := range specs {
		if strings.TrimSpace(spec.Title) == "" {
			return nil, &ParseError{
				Source: fmt.Sprintf("record %d", i+1),
				Err:    fmt.Errorf("missing title"),
			}
		}
		id := spec.ID
		if id == "" {
			id = taskID(i+1, spec.Title)
		}
		if _, dup := idByTitle[spec.Title]; !dup {
			idByTitle[spec.Title] = id
		}
		ids[i] = id
	}

	seen := make(map[string]bool, len(specs))
	// Decomposition replaces a task with its subtask chain; dependents
	// that referenced the original ID must wait on the final step.
	finalStep := make(map[string]string)
	var tasks []*models.Task
	for i, spec := range specs {
		id := ids[i]
		if seen[id] {
			return nil, &ParseError{
				Source: fmt.Sprintf("record %d", i+1),
				Err:    fmt.Errorf("duplicate task id %s", id),
			}
		}
		seen[id] = true

		deps := make([]string, 0, len(spec.DependsOn))
		for _, ref := range spec.DependsOn {
			if resolved, ok := idByTitle[ref]; ok {
				deps = append(deps, resolved)
			} else {
				deps = append(deps, ref)
			}
		}

		task := &models.Task{
			ID:                 id,
			Title:              spec.Title,
			Description:        spec.Description,
			DependsOn:          deps,
			Status:             models.TaskStatusQueued,
			TargetFiles:        spec.TargetFiles,
			TargetDirs:         spec.TargetDirs,
			Components:         spec.Components,
			Interfaces:         spec.Interfaces,
			SchemaWrites:       spec.SchemaWrites,
			ExclusiveResources: spec.ExclusiveResources,
			TestEnvs:           spec.TestEnvs,
			ResourceIntensive:  spec.ResourceIntensive,
			CreatedAt:          now,
		}

		task.Complexity = scoreComplexity(task).Class()
		task.EstimatedDuration = spec.EstimatedDuration
		if task.EstimatedDuration == 0 {
			task.EstimatedDuration = estimateDuration(task)
		}

		if shouldDecompose(task) {
			subs := decompose(task)
			if len(subs) > 1 {
				finalStep[task.ID] = subs[len(subs)-1].ID
			}
			tasks = append(tasks, subs...)
		} else {
			tasks = append(tasks, task)
		}
	}

	if len(finalStep) > 0 {
		for _, task := range tasks {
			for i, dep := range task.DependsOn {
				if last, ok := finalStep[dep]; ok {
					task.DependsOn[i] = last
				}
			}
		}
	}

	return tasks, nil
}

// taskID derives a deterministic ID from the spec's position and title.
// Position keeps IDs unique across identical titles; the slug keeps
// them readable in reports and branch names.
func taskID(position int, title string) string {
	return fmt.Sprintf("t%03d-%s", position, slugify(title))
}

// slugify reduces a title to a short branch-safe slug.
func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if len(slug) > 24 {
		slug = strings.Trim(slug[:24], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}
