package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nefrols/fsedit/internal/changetracker"
	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/editor"
	"github.com/nefrols/fsedit/internal/token"
)

func newTestTaskFixture(t *testing.T) (tasksRoot, workDir string, settings *config.Settings) {
	t.Helper()
	tasksRoot = t.TempDir()
	workDir = t.TempDir()
	settings, err := config.Load(workDir)
	require.NoError(t, err)
	falseVal := false
	settings.ExternalWatch = &falseVal // keep tests free of background watcher goroutines
	return tasksRoot, workDir, settings
}

func TestNewCreatesIsolatedTask(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)

	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)
	defer tk.Terminate()

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, workDir, tk.WorkDir)
	_, err = os.Stat(filepath.Join(tasksRoot, tk.ID, "journal.db"))
	assert.NoError(t, err, "expected a journal file to exist")
}

func TestSetMetadataPersists(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)
	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)
	defer tk.Terminate()

	require.NoError(t, tk.SetMetadata("foo", "bar"))

	data, err := os.ReadFile(filepath.Join(tasksRoot, tk.ID, "metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"foo": "bar"`)
}

func TestReactivateRestoresTaskFromJournal(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)
	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)
	id := tk.ID

	path := filepath.Join(workDir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o600))

	eng := &editor.Engine{
		Box:       tk.Box,
		Registry:  tk.Registry,
		Changes:   tk.Changes,
		Lineage:   tk.Lineage,
		Txn:       tk.Txn,
		Snapshots: tk.Before,
	}
	eng.Registry.MarkCreatedInTask(path)
	_, err = eng.Apply(editor.Request{
		Edits: []editor.FileEdit{{Path: path, Op: editor.Op{StartLine: 1, Content: "rewritten\n"}}},
	})
	require.NoError(t, err)

	require.NoError(t, tk.Journal.Close())

	reactivated, err := Reactivate(tasksRoot, id, []string{workDir}, settings)
	require.NoError(t, err)
	defer reactivated.Terminate()

	assert.Equal(t, id, reactivated.ID)

	result, err := reactivated.Undo()
	require.NoError(t, err)
	assert.NotEmpty(t, result.Outcome)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
}

func TestUndoRedoRoundTrip(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)
	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)
	defer tk.Terminate()

	path := filepath.Join(workDir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o600))

	eng := &editor.Engine{
		Box:            tk.Box,
		Registry:       tk.Registry,
		Changes:        tk.Changes,
		Lineage:        tk.Lineage,
		Txn:            tk.Txn,
		Snapshots:      tk.Before,
		AfterSnapshots: tk.After,
	}
	eng.Registry.MarkCreatedInTask(path)
	_, err = eng.Apply(editor.Request{
		Edits: []editor.FileEdit{{Path: path, Op: editor.Op{StartLine: 1, Content: "rewritten\n"}}},
	})
	require.NoError(t, err)

	_, err = tk.Undo()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))

	_, err = tk.Redo()
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rewritten\n", string(data))
}

func TestCheckpointAndRollback(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)
	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)
	defer tk.Terminate()

	path := filepath.Join(workDir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("v1\n"), 0o600))
	eng := &editor.Engine{
		Box: tk.Box, Registry: tk.Registry, Changes: tk.Changes,
		Lineage: tk.Lineage, Txn: tk.Txn, Snapshots: tk.Before,
	}
	eng.Registry.MarkCreatedInTask(path)
	_, err = eng.Apply(editor.Request{
		Edits: []editor.FileEdit{{Path: path, Op: editor.Op{StartLine: 1, Content: "v1\n"}}},
	})
	require.NoError(t, err)

	tk.Checkpoint("before-v2")

	data, _ := os.ReadFile(path)
	tok := mintReadToken(t, eng, path)
	_, err = eng.Apply(editor.Request{
		Edits: []editor.FileEdit{{Path: path, Token: tok, Op: editor.Op{StartLine: 1, EndLine: countLines(data), Content: "v2\n"}}},
	})
	require.NoError(t, err)

	results, err := tk.RollbackToCheckpoint("before-v2")
	require.NoError(t, err)
	require.Len(t, results, 1)

	final, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(final))
}

func TestHUDRecordsUndoAndRedo(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)
	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)
	defer tk.Terminate()

	require.NotNil(t, tk.HUD)

	path := filepath.Join(workDir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o600))

	eng := &editor.Engine{
		Box: tk.Box, Registry: tk.Registry, Changes: tk.Changes,
		Lineage: tk.Lineage, Txn: tk.Txn, Snapshots: tk.Before, AfterSnapshots: tk.After,
	}
	eng.Registry.MarkCreatedInTask(path)
	_, err = eng.Apply(editor.Request{
		Edits: []editor.FileEdit{{Path: path, Op: editor.Op{StartLine: 1, Content: "rewritten\n"}}},
	})
	require.NoError(t, err)

	_, err = tk.Undo()
	require.NoError(t, err)
	assert.Equal(t, 1, tk.HUD.Snapshot().Undos)

	_, err = tk.Redo()
	require.NoError(t, err)
	assert.Equal(t, 1, tk.HUD.Snapshot().Redos)
}

func TestTerminateRecordsUnlock(t *testing.T) {
	tasksRoot, workDir, settings := newTestTaskFixture(t)
	tk, err := New(tasksRoot, workDir, []string{workDir}, settings)
	require.NoError(t, err)

	path := filepath.Join(workDir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o600))
	resolved, err := tk.Box.Resolve(path)
	require.NoError(t, err)
	tk.Registry.RegisterAccess(resolved, 1, 2, []string{"a", "b"}, 2, 0)

	hud := tk.HUD
	require.NoError(t, tk.Terminate())
	assert.Equal(t, 1, hud.Snapshot().FilesUnlocked)
}

func mintReadToken(t *testing.T, eng *editor.Engine, path string) string {
	t.Helper()
	resolved, err := eng.Box.Resolve(path)
	require.NoError(t, err)
	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	crc := changetracker.CRC32C(data)
	tok := eng.Registry.RegisterAccess(resolved, 1, len(lines), lines, len(lines), crc)
	return token.Encode(tok)
}

func countLines(data []byte) int {
	n := 1
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
