package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the checkpoint file of one run and calls fn with the
// freshly loaded state after every write. fn returning false stops the
// watch. Blocks until ctx is done, fn stops it, or the watcher fails.
//
// Checkpoints are written via rename, so the interesting events are
// Create and Rename on the final path rather than Write.
func (m *Manager) Watch(ctx context.Context, runID string, fn func(*WorkflowState) bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create checkpoint watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watch checkpoint directory: %w", err)
	}

	target := m.Path(runID)

	// Deliver the current state first so the caller does not wait for
	// the next write to see anything.
	if state, err := m.Load(runID); err == nil {
		if !fn(state) {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			state, err := m.Load(runID)
			if err != nil {
				// A rename can race the read; the next event retries.
				continue
			}
			if !fn(state) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("checkpoint watcher: %w", err)
		}
	}
}
