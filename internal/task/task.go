// Package task implements C11: the per-task lifecycle binding a working
// directory to its own access registry, external-change tracker, file
// lineage, transaction manager, and persisted metadata.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nefrols/fsedit/internal/changetracker"
	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/hud"
	"github.com/nefrols/fsedit/internal/lineage"
	"github.com/nefrols/fsedit/internal/logging"
	"github.com/nefrols/fsedit/internal/registry"
	"github.com/nefrols/fsedit/internal/sandbox"
	"github.com/nefrols/fsedit/internal/snapshot"
	"github.com/nefrols/fsedit/internal/txn"
	"github.com/nefrols/fsedit/internal/undo"
	"github.com/nefrols/fsedit/internal/validation"
	"github.com/nefrols/fsedit/internal/vcsprobe"
)

// metadataFile is the per-task persisted key/value store, surviving a
// server restart so a task can be reactivated.
const metadataFile = "metadata.json"

// Task is one agent session's isolated view of a workspace.
type Task struct {
	ID        string
	WorkDir   string
	tasksRoot string

	Box      *sandbox.Sandbox
	Registry *registry.Registry
	Changes  *changetracker.Tracker
	Lineage  *lineage.Tracker
	Txn      *txn.Manager
	Journal  *txn.Journal
	Before   *snapshot.Store
	After    *snapshot.Store
	Probe    *vcsprobe.Probe
	HUD      *hud.HUD

	Metadata map[string]string

	watcher       *changetracker.Watcher
	watcherCancel context.CancelFunc
}

// maxWatchedDirs bounds how many subdirectories the external-change watcher
// registers per task, so a huge repository doesn't exhaust the process's
// inotify watch limit.
const maxWatchedDirs = 4000

func taskDir(tasksRoot, id string) string { return filepath.Join(tasksRoot, id) }

// New creates a fresh task rooted at workDir, with a newly generated id.
func New(tasksRoot, workDir string, roots []string, settings *config.Settings) (*Task, error) {
	id := uuid.NewString()
	return open(tasksRoot, id, workDir, roots, settings, true)
}

// Reactivate restores a previously-created task by id: the durable journal
// (and therefore its undo stack) comes back, but per §4.10 no live access
// tokens are restored — the agent must re-read before it can edit again.
func Reactivate(tasksRoot, id string, roots []string, settings *config.Settings) (*Task, error) {
	if err := validation.ValidateTaskID(id); err != nil {
		return nil, fmt.Errorf("task: %w", err)
	}
	t, err := open(tasksRoot, id, "", roots, settings, false)
	if err != nil {
		return nil, err
	}
	if err := t.Txn.Reactivate(); err != nil {
		return nil, err
	}
	return t, nil
}

func open(tasksRoot, id, workDir string, roots []string, settings *config.Settings, fresh bool) (*Task, error) {
	dir := taskDir(tasksRoot, id)
	if err := os.MkdirAll(filepath.Join(dir, "snapshots-before"), 0o750); err != nil {
		return nil, fmt.Errorf("task: creating task dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "snapshots-after"), 0o750); err != nil {
		return nil, fmt.Errorf("task: creating task dir: %w", err)
	}

	box, err := sandbox.New(roots, ".fsedit", settings.ProtectedPathPatterns)
	if err != nil {
		return nil, err
	}

	journal, err := txn.OpenJournal(filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, err
	}

	before, err := snapshot.New(filepath.Join(dir, "snapshots-before"), settings.SnapshotCompression, settings.SnapshotCompressionThreshold, 256)
	if err != nil {
		journal.Close()
		return nil, err
	}
	after, err := snapshot.New(filepath.Join(dir, "snapshots-after"), settings.SnapshotCompression, settings.SnapshotCompressionThreshold, 256)
	if err != nil {
		journal.Close()
		return nil, err
	}

	metadata := make(map[string]string)
	if !fresh {
		metadata, _ = loadMetadata(dir)
		if wd, ok := metadata["work_dir"]; ok {
			workDir = wd
		}
	} else {
		metadata["work_dir"] = workDir
		metadata["created_at"] = time.Now().Format(time.RFC3339)
	}

	var probe *vcsprobe.Probe
	if p, ok := vcsprobe.Open(workDir); ok {
		probe = p
	}

	t := &Task{
		ID:        id,
		WorkDir:   workDir,
		tasksRoot: tasksRoot,
		Box:       box,
		Registry:  registry.New(),
		Changes:   changetracker.New(),
		Lineage:   lineage.New(),
		Txn:       txn.NewManager(journal, settings.JournalRingSize),
		Journal:   journal,
		Before:    before,
		After:     after,
		Probe:     probe,
		HUD:       hud.New(hud.NewPostHogSink(settings.Telemetry)),
		Metadata:  metadata,
	}
	if err := t.saveMetadata(); err != nil {
		return nil, err
	}

	if err := logging.Init(id, workDir); err != nil {
		return nil, fmt.Errorf("task: initializing logging: %w", err)
	}
	logging.Info(t.ctx(), "task opened", "fresh", fresh)

	if settings.ExternalWatch == nil || *settings.ExternalWatch {
		t.startWatcher()
	}

	return t, nil
}

// startWatcher registers the task's working directory tree with a
// fsnotify-backed Watcher so an external edit invalidates the changetracker
// baseline as soon as it happens, rather than only on the next read.
// Best-effort: a failure here only means external changes are caught later,
// at the next HandleRead or HandleEdit's own CRC check, instead of sooner.
func (t *Task) startWatcher() {
	w, err := changetracker.NewWatcher(t.Changes)
	if err != nil {
		logging.Warn(t.ctx(), "changetracker: watcher unavailable", "error", err)
		return
	}

	watched := 0
	_ = filepath.WalkDir(t.WorkDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || watched >= maxWatchedDirs {
			return nil
		}
		if d.Name() == ".fsedit" || d.Name() == ".git" {
			return filepath.SkipDir
		}
		if werr := w.WatchDir(path); werr == nil {
			watched++
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.watcher = w
	t.watcherCancel = cancel
	go w.Run(ctx)
}

// ctx returns a background context tagged with this task's ID, for the
// handful of lifecycle events the core logs directly (most logging happens
// closer to the operation, e.g. in the editor or txn packages).
func (t *Task) ctx() context.Context {
	return logging.WithTask(context.Background(), t.ID)
}

// SetMetadata records an arbitrary key/value pair and persists it
// immediately, so a restarted server observes the latest value.
func (t *Task) SetMetadata(key, value string) error {
	t.Metadata[key] = value
	return t.saveMetadata()
}

func (t *Task) saveMetadata() error {
	data, err := json.MarshalIndent(t.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("task: marshaling metadata: %w", err)
	}
	path := filepath.Join(taskDir(t.tasksRoot, t.ID), metadataFile)
	return os.WriteFile(path, data, 0o600)
}

func loadMetadata(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile)) //nolint:gosec
	if err != nil {
		return make(map[string]string), err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return make(map[string]string), err
	}
	return m, nil
}

// Undo pops the most recently committed transaction and reverses it via
// the smart-undo engine, pushing it onto the redo stack unless the outcome
// was STUCK.
func (t *Task) Undo() (undo.Result, error) {
	tx, ok := t.Txn.PopUndo()
	if !ok {
		return undo.Result{Outcome: undo.OutcomeSuccess}, nil
	}
	result, err := undo.SmartUndo(tx, t.Before, t.Lineage, t.Box, t.Probe, t.WorkDir)
	if err != nil {
		return undo.Result{}, err
	}
	if result.Outcome == undo.OutcomeStuck {
		t.Txn.MarkStuck(tx.ID) //nolint:errcheck
		logging.Warn(logging.WithTxn(t.ctx(), tx.ID), "undo left transaction stuck")
		t.HUD.RecordUndo(string(result.Outcome))
		return result, nil
	}
	t.Txn.PushRedo(tx)
	logging.Info(logging.WithTxn(t.ctx(), tx.ID), "undo applied", "outcome", string(result.Outcome))
	t.HUD.RecordUndo(string(result.Outcome))
	return result, nil
}

// Redo pops the most recently undone transaction and re-applies its
// forward effect, pushing it back onto the undo stack.
func (t *Task) Redo() (undo.Result, error) {
	tx, ok := t.Txn.PopRedo()
	if !ok {
		return undo.Result{Outcome: undo.OutcomeSuccess}, nil
	}
	result, err := undo.SmartRedo(tx, t.After, t.Lineage, t.Box, t.Probe, t.WorkDir)
	if err != nil {
		return undo.Result{}, err
	}
	if result.Outcome == undo.OutcomeStuck {
		logging.Warn(logging.WithTxn(t.ctx(), tx.ID), "redo left transaction stuck")
		t.HUD.RecordRedo(string(result.Outcome))
		return result, nil
	}
	t.Txn.PushUndo(tx)
	logging.Info(logging.WithTxn(t.ctx(), tx.ID), "redo applied", "outcome", string(result.Outcome))
	t.HUD.RecordRedo(string(result.Outcome))
	return result, nil
}

// Checkpoint names the current top of the undo stack.
func (t *Task) Checkpoint(name string) {
	t.Txn.CreateCheckpoint(name)
}

// RollbackToCheckpoint inverts, in LIFO order, every transaction committed
// since the named checkpoint.
func (t *Task) RollbackToCheckpoint(name string) ([]undo.Result, error) {
	txs, err := t.Txn.TransactionsAboveCheckpoint(name)
	if err != nil {
		return nil, err
	}
	var results []undo.Result
	for _, tx := range txs {
		result, err := undo.SmartUndo(tx, t.Before, t.Lineage, t.Box, t.Probe, t.WorkDir)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if result.Outcome == undo.OutcomeStuck {
			t.Txn.MarkStuck(tx.ID) //nolint:errcheck
			break
		}
	}
	t.Txn.RemoveCheckpoint(name)
	return results, nil
}

// Terminate closes the task's journal handle and reaps its snapshot
// directories, per §5's resource-release policy.
func (t *Task) Terminate() error {
	if t.watcherCancel != nil {
		t.watcherCancel()
	}
	if t.watcher != nil {
		t.watcher.Close() //nolint:errcheck
	}

	t.HUD.RecordUnlock(t.Registry.LiveFileCount())
	t.HUD.Close()

	logging.Info(t.ctx(), "task terminated")
	logging.Close()
	if err := t.Journal.Close(); err != nil {
		return err
	}
	return os.RemoveAll(taskDir(t.tasksRoot, t.ID))
}
