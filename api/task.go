package api

import (
	"github.com/nefrols/fsedit/internal/errs"
	"github.com/nefrols/fsedit/internal/hud"
	"github.com/nefrols/fsedit/internal/task"
	"github.com/nefrols/fsedit/internal/undo"
	"github.com/nefrols/fsedit/internal/validation"
)

// TaskAction is one of the `task` tool's verbs.
type TaskAction string

const (
	TaskCheckpoint TaskAction = "checkpoint"
	TaskRollback   TaskAction = "rollback"
	TaskUndo       TaskAction = "undo"
	TaskRedo       TaskAction = "redo"
	TaskJournal    TaskAction = "journal"
	TaskMetadata   TaskAction = "metadata"
)

// planMetadataKey is the metadata key that doubles as the agent's current
// plan, mirrored into the HUD's ActivePlan counter.
const planMetadataKey = "plan"

// TaskRequest is the `task` tool's input.
type TaskRequest struct {
	Action TaskAction
	Name   string // checkpoint name, for checkpoint/rollback
	Key    string // metadata key, for metadata
	Value  string // metadata value, for metadata
}

// JournalRecord is one entry of a `task journal` listing.
type JournalRecord struct {
	ID          string
	Description string
	Status      string
}

// TaskResponse is the `task` tool's output. Only the field(s) relevant to
// the requested action are populated, plus the HUD counter snapshot, which
// accompanies every response.
type TaskResponse struct {
	UndoResult   *undo.Result
	RollbackLog  []undo.Result
	Journal      []JournalRecord
	EvictedCount int
	Counters     hud.Counters
}

// HandleTask implements the `task` tool.
func HandleTask(t *task.Task, req TaskRequest) (TaskResponse, error) {
	resp, err := handleTaskAction(t, req)
	if err != nil {
		return TaskResponse{}, err
	}
	resp.Counters = t.HUD.Snapshot()
	return resp, nil
}

func handleTaskAction(t *task.Task, req TaskRequest) (TaskResponse, error) {
	switch req.Action {
	case TaskCheckpoint:
		if err := validation.ValidateCheckpointName(req.Name); err != nil {
			return TaskResponse{}, &errs.AddressingError{Detail: err.Error(), Err: err}
		}
		t.Checkpoint(req.Name)
		return TaskResponse{}, nil

	case TaskRollback:
		if err := validation.ValidateCheckpointName(req.Name); err != nil {
			return TaskResponse{}, &errs.AddressingError{Detail: err.Error(), Err: err}
		}
		results, err := t.RollbackToCheckpoint(req.Name)
		if err != nil {
			return TaskResponse{}, &errs.TransactionalError{Detail: "rollback to checkpoint " + req.Name, Err: err}
		}
		return TaskResponse{RollbackLog: results}, nil

	case TaskUndo:
		res, err := t.Undo()
		if err != nil {
			return TaskResponse{}, &errs.TransactionalError{Detail: "undo", Err: err}
		}
		return TaskResponse{UndoResult: &res}, nil

	case TaskRedo:
		res, err := t.Redo()
		if err != nil {
			return TaskResponse{}, &errs.TransactionalError{Detail: "redo", Err: err}
		}
		return TaskResponse{UndoResult: &res}, nil

	case TaskJournal:
		entries, err := t.Journal.ListEntries()
		if err != nil {
			return TaskResponse{}, &errs.ResourceError{Detail: "reading journal", Err: err}
		}
		out := make([]JournalRecord, len(entries))
		for i, e := range entries {
			out[i] = JournalRecord{ID: e.ID, Description: e.Description, Status: string(e.Status)}
		}
		evicted, err := t.Txn.EvictedCount()
		if err != nil {
			return TaskResponse{}, &errs.ResourceError{Detail: "reading evicted count", Err: err}
		}
		return TaskResponse{Journal: out, EvictedCount: evicted}, nil

	case TaskMetadata:
		if err := t.SetMetadata(req.Key, req.Value); err != nil {
			return TaskResponse{}, &errs.ResourceError{Detail: "setting metadata", Err: err}
		}
		if req.Key == planMetadataKey {
			t.HUD.SetPlan(req.Value)
		}
		return TaskResponse{}, nil

	default:
		return TaskResponse{}, &errs.AddressingError{Detail: "unknown task action"}
	}
}
