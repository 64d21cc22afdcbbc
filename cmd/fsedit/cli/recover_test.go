package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nefrols/fsedit/internal/sandbox"
	"github.com/nefrols/fsedit/internal/txn"
)

func TestRunRecoverNoTasksRoot(t *testing.T) {
	cmd, buf := newTestCmd()
	workDir := t.TempDir()
	tasksRoot := filepath.Join(t.TempDir(), "does-not-exist")

	require.NoError(t, runRecover(cmd, tasksRoot, workDir, true))
	assert.Contains(t, buf.String(), "nothing to recover")
}

func TestRunRecoverNoStuckTransactions(t *testing.T) {
	cmd, buf := newTestCmd()
	workDir := t.TempDir()
	tasksRoot := t.TempDir()

	require.NoError(t, runRecover(cmd, tasksRoot, workDir, true))
	assert.Contains(t, buf.String(), "no stuck transactions found")
}

func TestRunRecoverForceRetriesStuckTransaction(t *testing.T) {
	cmd, buf := newTestCmd()
	workDir := t.TempDir()
	tasksRoot := t.TempDir()

	taskDir := filepath.Join(tasksRoot, "task1")
	require.NoError(t, os.MkdirAll(filepath.Join(taskDir, "snapshots-before"), 0o750))
	j, err := txn.OpenJournal(filepath.Join(taskDir, "journal.db"))
	require.NoError(t, err)
	entry := txn.JournalEntry{ID: "tx1", Description: "edit", Status: txn.StatusStuck, CreatedAt: time.Now(), Paths: []string{filepath.Join(workDir, "never-existed.go")}}
	require.NoError(t, j.Append(entry, nil))
	require.NoError(t, j.Close())

	require.NoError(t, runRecover(cmd, tasksRoot, workDir, true))
	assert.Contains(t, buf.String(), "Stuck transaction tx1")
}

func TestWorkspaceRootReturnsFirstRoot(t *testing.T) {
	dir := t.TempDir()
	box, err := sandbox.New([]string{dir}, ".fsedit", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, workspaceRoot(box))
}
