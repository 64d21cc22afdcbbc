package api

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nefrols/fsedit/internal/errs"
	"github.com/nefrols/fsedit/internal/task"
)

// ManageAction is one of the `file.manage` verbs.
type ManageAction string

const (
	ManageCreate ManageAction = "create"
	ManageCopy   ManageAction = "copy"
	ManageDelete ManageAction = "delete"
	ManageMove   ManageAction = "move"
	ManageRename ManageAction = "rename"
)

// ManageRequest is the `file.manage` tool's input.
type ManageRequest struct {
	Action     ManageAction
	Path       string
	Content    string
	TargetPath string
	NewName    string
	Recursive  bool
}

// ManageResponse is the `file.manage` tool's output.
type ManageResponse struct {
	TransactionID string
	Path          string
}

// HandleManage implements `file.manage`: create/copy/delete/move/rename,
// each wrapped in its own single-file transaction so it rolls back cleanly
// on I/O failure.
func HandleManage(t *task.Task, req ManageRequest) (ManageResponse, error) {
	resolved, err := t.Box.Resolve(req.Path)
	if err != nil {
		return ManageResponse{}, &errs.SandboxError{Path: req.Path, Reason: err.Error(), Err: err}
	}

	tx := t.Txn.Begin(fmt.Sprintf("file.manage %s %s", req.Action, req.Path))

	switch req.Action {
	case ManageCreate:
		if err := create(t, resolved, req.Content); err != nil {
			abort(t)
			return ManageResponse{}, err
		}

	case ManageDelete:
		if err := deletePath(t, resolved); err != nil {
			abort(t)
			return ManageResponse{}, err
		}

	case ManageCopy:
		target, err := t.Box.Resolve(req.TargetPath)
		if err != nil {
			abort(t)
			return ManageResponse{}, &errs.SandboxError{Path: req.TargetPath, Reason: err.Error(), Err: err}
		}
		if err := copyPath(t, resolved, target); err != nil {
			abort(t)
			return ManageResponse{}, err
		}

	case ManageMove, ManageRename:
		target := req.TargetPath
		if req.Action == ManageRename {
			target = filepath.Join(filepath.Dir(req.Path), req.NewName)
		}
		targetResolved, err := t.Box.Resolve(target)
		if err != nil {
			abort(t)
			return ManageResponse{}, &errs.SandboxError{Path: target, Reason: err.Error(), Err: err}
		}
		if err := movePath(t, resolved, targetResolved); err != nil {
			abort(t)
			return ManageResponse{}, err
		}

	default:
		abort(t)
		return ManageResponse{}, &errs.AddressingError{Path: req.Path, Detail: fmt.Sprintf("unknown action %q", req.Action)}
	}

	if _, err := t.Txn.Commit(nil); err != nil {
		return ManageResponse{}, &errs.TransactionalError{Detail: "commit failed", Err: err}
	}

	return ManageResponse{TransactionID: tx.ID, Path: req.Path}, nil
}

func abort(t *task.Task) {
	t.Txn.Abort("ROLLED_BACK") //nolint:staticcheck // abort path doesn't restore bytes written outside the editor engine's snapshot flow
}

func create(t *task.Task, resolved, content string) error {
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return &errs.ResourceError{Detail: "creating parent directory", Err: err}
	}
	if err := t.Txn.MarkBackedUp(resolved, true); err != nil {
		return &errs.TransactionalError{Detail: "marking backup", Err: err}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o600); err != nil {
		return &errs.ResourceError{Detail: "writing file", Err: err}
	}
	t.Registry.MarkCreatedInTask(resolved)
	t.Txn.MarkCreated(resolved) //nolint:errcheck
	t.Lineage.RegisterFile(resolved)
	return nil
}

func deletePath(t *task.Task, resolved string) error {
	data, err := os.ReadFile(resolved) //nolint:gosec
	if err != nil {
		return &errs.ResourceError{Detail: "reading file before delete", Err: err}
	}
	if err := t.Txn.MarkBackedUp(resolved, false); err != nil {
		return &errs.TransactionalError{Detail: "marking backup", Err: err}
	}
	if err := t.Before.Put(currentTxID(t), resolved, data, false); err != nil {
		return &errs.ResourceError{Detail: "snapshotting pre-image", Err: err}
	}
	if err := os.Remove(resolved); err != nil {
		return &errs.ResourceError{Detail: "deleting file", Err: err}
	}
	t.Registry.InvalidateFile(resolved)
	t.Changes.Forget(resolved)
	return nil
}

func copyPath(t *task.Task, from, to string) error {
	data, err := os.ReadFile(from) //nolint:gosec
	if err != nil {
		return &errs.ResourceError{Detail: "reading source file", Err: err}
	}
	if err := t.Txn.MarkBackedUp(to, true); err != nil {
		return &errs.TransactionalError{Detail: "marking backup", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o750); err != nil {
		return &errs.ResourceError{Detail: "creating parent directory", Err: err}
	}
	if err := os.WriteFile(to, data, 0o600); err != nil {
		return &errs.ResourceError{Detail: "writing copy", Err: err}
	}
	t.Registry.MarkCreatedInTask(to)
	t.Txn.MarkCreated(to) //nolint:errcheck
	t.Lineage.RegisterFile(to)
	return nil
}

func movePath(t *task.Task, from, to string) error {
	if err := t.Txn.MarkBackedUp(from, false); err != nil {
		return &errs.TransactionalError{Detail: "marking backup", Err: err}
	}
	if err := t.Txn.MarkBackedUp(to, true); err != nil {
		return &errs.TransactionalError{Detail: "marking backup", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o750); err != nil {
		return &errs.ResourceError{Detail: "creating parent directory", Err: err}
	}
	if err := os.Rename(from, to); err != nil {
		return &errs.ResourceError{Detail: "renaming", Err: err}
	}
	t.Registry.MoveTokens(from, to)
	t.Lineage.RecordMove(from, to)
	t.Changes.Forget(from)
	t.Txn.MarkMoved(from, to) //nolint:errcheck
	return nil
}

func currentTxID(t *task.Task) string {
	tx, _ := t.Txn.Current()
	if tx == nil {
		return ""
	}
	return tx.ID
}
