// Package undo implements C8: reversing a committed transaction using its
// snapshots and C5's file-lineage index, tolerating files that have moved,
// vanished, or been reclaimed by something outside the core.
package undo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nefrols/fsedit/internal/changetracker"
	"github.com/nefrols/fsedit/internal/lineage"
	"github.com/nefrols/fsedit/internal/sandbox"
	"github.com/nefrols/fsedit/internal/snapshot"
	"github.com/nefrols/fsedit/internal/txn"
	"github.com/nefrols/fsedit/internal/vcsprobe"
)

// Classification is the pre-validation bucket for one path in a
// transaction being reversed.
type Classification string

const (
	ClassAvailable Classification = "AVAILABLE"
	ClassRelocated Classification = "RELOCATED"
	ClassDeleted   Classification = "DELETED"
	ClassStuck     Classification = "STUCK"
)

// FileOutcome is the per-file result of attempting a restore.
type FileOutcome string

const (
	FileRestored FileOutcome = "RESTORED"
	FileSkipped  FileOutcome = "SKIPPED"
	FileRelocated FileOutcome = "RELOCATED"
	FileConflict FileOutcome = "CONFLICT"
)

// Outcome is the transaction-level roll-up of every file's outcome.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeResolvedMove Outcome = "RESOLVED_MOVE"
	OutcomePartial      Outcome = "PARTIAL"
	OutcomeStuck        Outcome = "STUCK"
)

// FileResult is the detailed per-path record of one restore attempt.
type FileResult struct {
	Path           string
	Target         string
	Classification Classification
	Outcome        FileOutcome
	Reason         string
}

// Result is the full outcome of a smart-undo (or, run in the forward
// direction, smart-redo) attempt.
type Result struct {
	TransactionID string
	Outcome       Outcome
	Files         []FileResult
	Hints         []vcsprobe.RecoveryHint
}

// searchBudget bounds DeepSearchByCRC's filesystem walk when lineage has no
// recorded move for a vanished path.
const searchBudget = 5000

// SmartUndo reverses tx: for each path in tx.Snapshots it restores the
// pre-image bytes held in store (or, for a path recorded as NONE, deletes
// whatever now occupies the original location). box bounds path resolution
// to the workspace; tracker resolves relocations; probe (nil if the
// workspace isn't under version control) supplies recovery hints.
func SmartUndo(tx *txn.Transaction, store *snapshot.Store, tracker *lineage.Tracker, box *sandbox.Sandbox, probe *vcsprobe.Probe, workspaceRoot string) (Result, error) {
	return apply(tx.ID, tx.Snapshots, store, tracker, box, probe, workspaceRoot, tx.Description)
}

// SmartRedo re-applies tx's forward effect: it restores each path to its
// post-image bytes (captured under the same transaction ID in a paired
// "after" store namespace by the caller at commit time), using identical
// classification and recovery-hint machinery.
func SmartRedo(tx *txn.Transaction, afterStore *snapshot.Store, tracker *lineage.Tracker, box *sandbox.Sandbox, probe *vcsprobe.Probe, workspaceRoot string) (Result, error) {
	return apply(tx.ID, tx.Snapshots, afterStore, tracker, box, probe, workspaceRoot, tx.Description)
}

func apply(txID string, snapshots map[string]bool, store *snapshot.Store, tracker *lineage.Tracker, box *sandbox.Sandbox, probe *vcsprobe.Probe, workspaceRoot, description string) (Result, error) {
	paths := make([]string, 0, len(snapshots))
	for p := range snapshots {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type classified struct {
		path   string
		target string
		class  Classification
	}
	classifiedList := make([]classified, 0, len(paths))
	allStuck := len(paths) > 0
	for _, p := range paths {
		target, class := classify(p, tracker, box, store, txID)
		if class != ClassStuck {
			allStuck = false
		}
		classifiedList = append(classifiedList, classified{path: p, target: target, class: class})
	}

	if allStuck {
		result := Result{TransactionID: txID, Outcome: OutcomeStuck}
		for _, c := range classifiedList {
			result.Files = append(result.Files, FileResult{Path: c.path, Target: c.target, Classification: c.class, Outcome: FileConflict, Reason: "unresolvable target"})
		}
		result.Hints = hintsFor(probe, paths)
		return result, nil
	}

	var results []FileResult
	anySkipped := false
	anyRelocated := false
	anyConflict := false

	for _, c := range classifiedList {
		wasNone := snapshots[c.path]
		fr := restoreOne(txID, c.path, c.target, c.class, wasNone, store)
		switch fr.Outcome {
		case FileSkipped:
			anySkipped = true
		case FileRelocated:
			anyRelocated = true
		case FileConflict:
			anyConflict = true
		}
		results = append(results, fr)
	}

	outcome := OutcomeSuccess
	switch {
	case anySkipped || anyConflict:
		outcome = OutcomePartial
	case anyRelocated:
		outcome = OutcomeResolvedMove
	}

	result := Result{TransactionID: txID, Outcome: outcome, Files: results}
	if outcome == OutcomePartial || outcome == OutcomeStuck {
		result.Hints = hintsFor(probe, paths)
	}
	return result, nil
}

func classify(path string, tracker *lineage.Tracker, box *sandbox.Sandbox, store *snapshot.Store, txID string) (string, Classification) {
	if exists(path) {
		return path, ClassAvailable
	}

	if tracker != nil {
		if id, ok := tracker.GetFileID(path); ok {
			if current, ok := tracker.GetCurrentPath(id); ok && current != path && exists(current) {
				if box == nil || withinSandbox(box, current) {
					return current, ClassRelocated
				}
			}
		}
	}

	if tracker != nil {
		if data, isNone, err := store.Get(txID, path); err == nil && !isNone {
			if found, ok := lineage.DeepSearchByCRC(changetracker.CRC32C(data), filepath.Dir(path), searchBudget); ok && found != path {
				if box == nil || withinSandbox(box, found) {
					return found, ClassRelocated
				}
			}
		}
	}

	if box != nil && !withinSandbox(box, path) {
		return path, ClassStuck
	}

	return path, ClassDeleted
}

func withinSandbox(box *sandbox.Sandbox, path string) bool {
	resolved, err := box.Resolve(path)
	return err == nil && resolved == path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func restoreOne(txID, path, target string, class Classification, wasNone bool, store *snapshot.Store) FileResult {
	data, storedNone, err := store.Get(txID, path)
	if err != nil {
		return FileResult{Path: path, Target: target, Classification: class, Outcome: FileConflict, Reason: err.Error()}
	}
	isNone := wasNone || storedNone

	targetExists := exists(target)

	switch {
	case !isNone && !targetExists:
		if err := writeBytes(target, data); err != nil {
			return FileResult{Path: path, Target: target, Classification: class, Outcome: FileConflict, Reason: err.Error()}
		}
		return FileResult{Path: path, Target: target, Classification: class, Outcome: FileRestored}

	case isNone && targetExists:
		info, statErr := os.Stat(target)
		if statErr == nil && info.IsDir() {
			entries, _ := os.ReadDir(target)
			if len(entries) > 0 {
				return FileResult{Path: path, Target: target, Classification: class, Outcome: FileSkipped, Reason: "directory is non-empty"}
			}
		}
		if err := os.RemoveAll(target); err != nil {
			return FileResult{Path: path, Target: target, Classification: class, Outcome: FileConflict, Reason: err.Error()}
		}
		pruneEmptyParents(filepath.Dir(target))
		return FileResult{Path: path, Target: target, Classification: class, Outcome: FileRestored}

	case !isNone && targetExists:
		if err := writeBytes(target, data); err != nil {
			return FileResult{Path: path, Target: target, Classification: class, Outcome: FileConflict, Reason: err.Error()}
		}
		if class == ClassRelocated {
			return FileResult{Path: path, Target: target, Classification: class, Outcome: FileRelocated}
		}
		return FileResult{Path: path, Target: target, Classification: class, Outcome: FileRestored}

	default: // isNone && !targetExists: nothing to do, already matches.
		return FileResult{Path: path, Target: target, Classification: class, Outcome: FileRestored}
	}
}

func writeBytes(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	tmp := target + ".undo-tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// pruneEmptyParents removes dir and any now-empty ancestors, stopping at the
// first non-empty directory or any error.
func pruneEmptyParents(dir string) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func hintsFor(probe *vcsprobe.Probe, paths []string) []vcsprobe.RecoveryHint {
	if probe == nil {
		return nil
	}
	return probe.Hints(paths)
}
