package changetracker

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/nefrols/fsedit/internal/logging"
)

// Watcher proactively tightens the window in which an external change goes
// unnoticed: instead of only discovering a third-party edit the next time
// the agent re-reads a path, it forgets the stored snapshot for any tracked
// path as soon as the filesystem reports a write to it, forcing a fresh
// baseline on the next observation.
type Watcher struct {
	fsw     *fsnotify.Watcher
	tracker *Tracker
}

// NewWatcher starts watching root non-recursively for changes that should
// invalidate the Tracker's cached snapshots. Callers are expected to call
// Watch for each subdirectory they want covered (the core only watches
// directories it has actually read from, to bound the number of watches).
func NewWatcher(tracker *Tracker) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, tracker: tracker}
	return w, nil
}

// WatchDir adds dir to the set of watched directories, ignoring a repeat add.
func (w *Watcher) WatchDir(dir string) error {
	return w.fsw.Add(dir)
}

// Run drains filesystem events until ctx is cancelled, invalidating the
// tracker's snapshot for any modified or removed path so the next
// CheckForExternalChange call sees a fresh baseline rather than a stale hit.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.tracker.Forget(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn(ctx, "changetracker: watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
