// Package workspace manages isolated git worktrees, one per task.
package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grovekit/grove/internal/git"
	"github.com/grovekit/grove/pkg/models"
)

// ErrWorkspaceExists indicates a live workspace already exists for the
// task ID. Creation is rejected rather than silently reused so a task
// is never executed twice against stale state; the caller must remove
// the workspace first.
var ErrWorkspaceExists = errors.New("workspace already exists for task")

// branchPrefix namespaces all grove-managed branches.
const branchPrefix = "grove/task-"

// Manager creates and destroys task workspaces. Calls for different
// task IDs may run concurrently; calls for the same ID serialize on a
// per-ID lock.
type Manager struct {
	baseDir  string
	repoPath string
	git      git.Runner

	// mu guards live and locks.
	mu sync.Mutex
	// live maps task ID to its current workspace.
	live map[string]*models.Workspace
	// locks holds one mutex per task ID.
	locks map[string]*sync.Mutex
}

// NewManager creates a workspace manager rooted at baseDir for the
// repository at repoPath. baseDir defaults to
// ~/.cache/grove/workspaces when empty.
func NewManager(baseDir, repoPath string) (*Manager, error) {
	return NewManagerWithRunner(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewManagerWithRunner creates a Manager with a custom git runner (for
// testing).
func NewManagerWithRunner(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "grove", "workspaces")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		live:     map[string]*models.Workspace{},
		locks:    map[string]*sync.Mutex{},
	}, nil
}

// taskLock returns the per-task mutex, creating it on first use.
func (m *Manager) taskLock(taskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

// BranchName returns the branch a task's workspace lives on.
func BranchName(taskID string) string {
	return branchPrefix + taskID
}

// Create creates an isolated worktree for the task from baseRef on a
// fresh branch. It fails with ErrWorkspaceExists when a live workspace
// already exists for the ID, and rejects branch-name collisions with
// pre-existing branches.
func (m *Manager) Create(taskID, baseRef string) (*models.Workspace, error) {
	lock := m.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, exists := m.live[taskID]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("create workspace for %s: %w", taskID, ErrWorkspaceExists)
	}

	branch := BranchName(taskID)
	if exists, err := m.git.BranchExists(branch); err != nil {
		return nil, fmt.Errorf("check branch %s: %w", branch, err)
	} else if exists {
		return nil, fmt.Errorf("create workspace for %s: branch %s already exists: %w", taskID, branch, ErrWorkspaceExists)
	}

	path := filepath.Join(m.baseDir, "task-"+taskID)
	if err := m.git.WorktreeAddNewBranch(path, branch, baseRef); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	ws := &models.Workspace{
		TaskID:     taskID,
		Path:       path,
		BranchName: branch,
		BaseRef:    baseRef,
		Status:     models.WorkspaceCreated,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.live[taskID] = ws
	m.mu.Unlock()
	return ws, nil
}

// Activate marks a task's workspace as actively executing.
func (m *Manager) Activate(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.live[taskID]; ok {
		ws.Status = models.WorkspaceActive
	}
}

// Get returns the live workspace for the task, or nil.
func (m *Manager) Get(taskID string) *models.Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[taskID]
}

// Remove tears down the task's workspace. It is idempotent: removing a
// workspace that does not exist returns false without error.
func (m *Manager) Remove(taskID string) (bool, error) {
	lock := m.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	ws, exists := m.live[taskID]
	m.mu.Unlock()
	if !exists {
		return false, nil
	}

	if err := m.git.WorktreeRemoveForce(ws.Path); err != nil {
		// The worktree directory may already be gone; fall back to a
		// direct removal before giving up.
		if rmErr := os.RemoveAll(ws.Path); rmErr != nil {
			return false, fmt.Errorf("remove worktree %s: %w", ws.Path, err)
		}
	}
	_ = m.git.DeleteBranch(ws.BranchName)

	ws.Status = models.WorkspaceRemoved
	m.mu.Lock()
	delete(m.live, taskID)
	m.mu.Unlock()
	return true, nil
}

// Release tears down the task's worktree but keeps its branch, leaving
// completed work available for integration. Idempotent like Remove.
func (m *Manager) Release(taskID string) (bool, error) {
	lock := m.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	ws, exists := m.live[taskID]
	m.mu.Unlock()
	if !exists {
		return false, nil
	}

	if err := m.git.WorktreeRemoveForce(ws.Path); err != nil {
		if rmErr := os.RemoveAll(ws.Path); rmErr != nil {
			return false, fmt.Errorf("release worktree %s: %w", ws.Path, err)
		}
	}

	ws.Status = models.WorkspaceRemoved
	m.mu.Lock()
	delete(m.live, taskID)
	m.mu.Unlock()
	return true, nil
}

// Live returns the task IDs with live workspaces.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	return ids
}

// Prune removes references to worktrees that no longer exist on disk.
func (m *Manager) Prune() error {
	if err := m.git.WorktreePruneExpireNow(); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// ListOrphans returns grove-managed worktrees that do not belong to any
// of the given active task IDs. Orphans are left behind by crashed runs.
func (m *Manager) ListOrphans(activeTaskIDs []string) ([]*models.Workspace, error) {
	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	active := make(map[string]bool, len(activeTaskIDs))
	for _, id := range activeTaskIDs {
		active[id] = true
	}

	var orphans []*models.Workspace
	for _, ws := range parseWorktreeList(output) {
		if ws.TaskID == "" || ws.Path == m.repoPath {
			continue
		}
		if active[ws.TaskID] {
			continue
		}
		orphans = append(orphans, ws)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees and returns the count
// removed. If verbose is non-nil it is called with each removed path.
func (m *Manager) CleanupOrphans(activeTaskIDs []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(activeTaskIDs)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ws := range orphans {
		if err := m.git.WorktreeRemoveForce(ws.Path); err != nil {
			if err := os.RemoveAll(ws.Path); err != nil {
				continue
			}
		}
		_ = m.git.DeleteBranch(ws.BranchName)
		if verbose != nil {
			verbose(ws.Path)
		}
		removed++
	}

	// Final prune cleans up any dangling references.
	_ = m.git.WorktreePruneExpireNow()
	return removed, nil
}

// parseWorktreeList parses 'git worktree list --porcelain' output into
// workspaces. Only grove-managed branches carry a task ID.
func parseWorktreeList(output string) []*models.Workspace {
	var result []*models.Workspace
	var current *models.Workspace

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				result = append(result, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &models.Workspace{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			ref := strings.TrimPrefix(line, "branch ")
			current.BranchName = strings.TrimPrefix(ref, "refs/heads/")
			if strings.HasPrefix(current.BranchName, branchPrefix) {
				current.TaskID = strings.TrimPrefix(current.BranchName, branchPrefix)
			}
		}
	}
	if current != nil {
		result = append(result, current)
	}
	return result
}

// BaseDir returns the directory worktrees are created under.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RepoPath returns the path to the main git repository.
func (m *Manager) RepoPath() string {
	return m.repoPath
}
