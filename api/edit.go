package api

import (
	"github.com/nefrols/fsedit/internal/editor"
	"github.com/nefrols/fsedit/internal/hud"
	"github.com/nefrols/fsedit/internal/task"
)

// EditRequest is the `file.edit` tool's input: a multi-file batch applied
// under one outer transaction. DryRun (spec'd as the `dryRun` option)
// previews the resulting unified diffs without writing anything.
type EditRequest struct {
	Description string
	Edits       []editor.FileEdit
	DryRun      bool
}

// EditResponse is the `file.edit` tool's output. TransactionID is empty for
// a dry run, since no transaction is opened.
type EditResponse struct {
	TransactionID string
	Files         []editor.FileResult
	Counters      hud.Counters
}

// HandleEdit implements `file.edit`.
func HandleEdit(t *task.Task, req EditRequest) (EditResponse, error) {
	eng := &editor.Engine{
		Box:            t.Box,
		Registry:       t.Registry,
		Changes:        t.Changes,
		Lineage:        t.Lineage,
		Txn:            t.Txn,
		Snapshots:      t.Before,
		AfterSnapshots: t.After,
	}
	result, err := eng.Apply(editor.Request{Description: req.Description, Edits: req.Edits, DryRun: req.DryRun})
	if err != nil {
		return EditResponse{}, err
	}
	if req.DryRun {
		return EditResponse{Files: result.Files}, nil
	}
	for _, fr := range result.Files {
		t.HUD.RecordEdit(fr.Path, fr.LinesAdded, fr.LinesRemoved)
	}
	return EditResponse{TransactionID: result.TransactionID, Files: result.Files, Counters: t.HUD.Snapshot()}, nil
}
