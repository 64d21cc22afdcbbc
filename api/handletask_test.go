package api

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/editor"
	"github.com/nefrols/fsedit/internal/task"
)

func TestHandleTaskCheckpointAndRollback(t *testing.T) {
	tk, workDir := newTestTask(t)

	if _, err := HandleManage(tk, ManageRequest{Action: ManageCreate, Path: "a.go", Content: "v1\n"}); err != nil {
		t.Fatal(err)
	}

	if _, err := HandleTask(tk, TaskRequest{Action: TaskCheckpoint, Name: "cp1"}); err != nil {
		t.Fatalf("HandleTask(checkpoint) error: %v", err)
	}

	readResp, err := HandleRead(tk, ReadRequest{Path: "a.go"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := HandleEdit(tk, EditRequest{
		Edits: []editor.FileEdit{{Path: "a.go", Token: readResp.Ranges[0].Token, Op: editor.Op{StartLine: 1, EndLine: readResp.LineCount, Content: "v2\n"}}},
	}); err != nil {
		t.Fatalf("HandleEdit() error: %v", err)
	}

	resp, err := HandleTask(tk, TaskRequest{Action: TaskRollback, Name: "cp1"})
	if err != nil {
		t.Fatalf("HandleTask(rollback) error: %v", err)
	}
	if len(resp.RollbackLog) != 1 {
		t.Fatalf("HandleTask(rollback) log = %+v, want 1 entry", resp.RollbackLog)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "a.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1\n" {
		t.Errorf("content after rollback = %q, want %q", data, "v1\n")
	}
}

func TestHandleTaskUndoRedo(t *testing.T) {
	tk, workDir := newTestTask(t)
	if _, err := HandleManage(tk, ManageRequest{Action: ManageCreate, Path: "a.go", Content: "hello\n"}); err != nil {
		t.Fatal(err)
	}

	resp, err := HandleTask(tk, TaskRequest{Action: TaskUndo})
	if err != nil {
		t.Fatalf("HandleTask(undo) error: %v", err)
	}
	if resp.UndoResult == nil {
		t.Fatal("HandleTask(undo) missing UndoResult")
	}
	if _, err := os.Stat(filepath.Join(workDir, "a.go")); !os.IsNotExist(err) {
		t.Error("undo of a file-creation transaction should remove the file")
	}

	if _, err := HandleTask(tk, TaskRequest{Action: TaskRedo}); err != nil {
		t.Fatalf("HandleTask(redo) error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "a.go")); err != nil {
		t.Error("redo should recreate the file")
	}
}

func TestHandleTaskJournalListsEntries(t *testing.T) {
	tk, _ := newTestTask(t)
	if _, err := HandleManage(tk, ManageRequest{Action: ManageCreate, Path: "a.go", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	resp, err := HandleTask(tk, TaskRequest{Action: TaskJournal})
	if err != nil {
		t.Fatalf("HandleTask(journal) error: %v", err)
	}
	if len(resp.Journal) != 1 {
		t.Fatalf("HandleTask(journal) = %+v, want 1 entry", resp.Journal)
	}
}

func TestHandleTaskMetadata(t *testing.T) {
	tk, _ := newTestTask(t)
	if _, err := HandleTask(tk, TaskRequest{Action: TaskMetadata, Key: "foo", Value: "bar"}); err != nil {
		t.Fatalf("HandleTask(metadata) error: %v", err)
	}
	if tk.Metadata["foo"] != "bar" {
		t.Errorf("Metadata[foo] = %q, want bar", tk.Metadata["foo"])
	}
}

func TestHandleTaskInvalidCheckpointNameRejected(t *testing.T) {
	tk, _ := newTestTask(t)
	if _, err := HandleTask(tk, TaskRequest{Action: TaskCheckpoint, Name: "../escape"}); err == nil {
		t.Error("HandleTask(checkpoint) with an invalid name should error")
	}
}

func TestHandleTaskUnknownActionErrors(t *testing.T) {
	tk, _ := newTestTask(t)
	if _, err := HandleTask(tk, TaskRequest{Action: "bogus"}); err == nil {
		t.Error("HandleTask() with an unknown action should error")
	}
}

func TestHandleTaskMetadataPlanUpdatesHUD(t *testing.T) {
	tk, _ := newTestTask(t)
	resp, err := HandleTask(tk, TaskRequest{Action: TaskMetadata, Key: "plan", Value: "rewrite the parser"})
	if err != nil {
		t.Fatalf("HandleTask(metadata) error: %v", err)
	}
	if resp.Counters.ActivePlan != "rewrite the parser" {
		t.Errorf("Counters.ActivePlan = %q, want %q", resp.Counters.ActivePlan, "rewrite the parser")
	}
}

func TestHandleTaskJournalReportsEvictedCount(t *testing.T) {
	tasksRoot := t.TempDir()
	workDir := t.TempDir()
	settings, err := config.Load(workDir)
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	falseVal := false
	settings.ExternalWatch = &falseVal
	settings.JournalRingSize = 2

	tk, err := task.New(tasksRoot, workDir, []string{workDir}, settings)
	if err != nil {
		t.Fatalf("task.New() error: %v", err)
	}
	t.Cleanup(func() { tk.Terminate() }) //nolint:errcheck

	for i := 0; i < 4; i++ {
		if _, err := HandleManage(tk, ManageRequest{Action: ManageCreate, Path: fmt.Sprintf("f%d.go", i), Content: "x"}); err != nil {
			t.Fatalf("HandleManage(create) error: %v", err)
		}
	}

	resp, err := HandleTask(tk, TaskRequest{Action: TaskJournal})
	if err != nil {
		t.Fatalf("HandleTask(journal) error: %v", err)
	}
	if resp.EvictedCount != 2 {
		t.Errorf("HandleTask(journal) EvictedCount = %d, want 2", resp.EvictedCount)
	}
	if len(resp.Journal) != 2 {
		t.Errorf("HandleTask(journal) live entries = %d, want 2", len(resp.Journal))
	}
}

func TestHandleEditCountersAccumulateAcrossEdits(t *testing.T) {
	tk, _ := newTestTask(t)
	if _, err := HandleManage(tk, ManageRequest{Action: ManageCreate, Path: "a.go", Content: "v1\n"}); err != nil {
		t.Fatal(err)
	}

	readResp, err := HandleRead(tk, ReadRequest{Path: "a.go"})
	if err != nil {
		t.Fatal(err)
	}
	editResp, err := HandleEdit(tk, EditRequest{
		Edits: []editor.FileEdit{{Path: "a.go", Token: readResp.Ranges[0].Token, Op: editor.Op{StartLine: 1, EndLine: 1, Content: "v2\n"}}},
	})
	if err != nil {
		t.Fatalf("HandleEdit() error: %v", err)
	}
	// ManageCreate does not itself record an edit, so only the one HandleEdit
	// call above should be reflected.
	if editResp.Counters.Edits != 1 {
		t.Errorf("Counters.Edits = %d, want 1", editResp.Counters.Edits)
	}
}
