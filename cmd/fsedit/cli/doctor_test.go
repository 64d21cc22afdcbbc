package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nefrols/fsedit/internal/txn"
)

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func TestRunDoctorNoTasksRoot(t *testing.T) {
	cmd, buf := newTestCmd()
	workDir := t.TempDir()
	tasksRoot := filepath.Join(t.TempDir(), "does-not-exist")

	require.NoError(t, runDoctor(cmd, tasksRoot, workDir))
	assert.Contains(t, buf.String(), "no tasks recorded")
}

func TestRunDoctorReportsTaskAndStuckCount(t *testing.T) {
	cmd, buf := newTestCmd()
	workDir := t.TempDir()
	tasksRoot := t.TempDir()

	taskDir := filepath.Join(tasksRoot, "task1")
	require.NoError(t, os.MkdirAll(taskDir, 0o750))
	j, err := txn.OpenJournal(filepath.Join(taskDir, "journal.db"))
	require.NoError(t, err)
	entry := txn.JournalEntry{ID: "tx1", Description: "edit", Status: txn.StatusStuck, CreatedAt: time.Now(), Paths: []string{"a.go"}}
	require.NoError(t, j.Append(entry, nil))
	require.NoError(t, j.Close())

	require.NoError(t, runDoctor(cmd, tasksRoot, workDir))
	out := buf.String()
	assert.Contains(t, out, "task1")
	assert.Contains(t, out, "stuck transaction(s) found")
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		500:             "500B",
		2048:            "2.0KiB",
		5 * 1024 * 1024: "5.0MiB",
	}
	for in, want := range cases {
		assert.Equal(t, want, humanBytes(in))
	}
}

func TestSettingsOrDefault(t *testing.T) {
	assert.Equal(t, 42, settingsOrDefault(0, 42))
	assert.Equal(t, 7, settingsOrDefault(7, 42))
}

func TestDirSizeSumsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("12345"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("123"), 0o600))

	assert.Equal(t, int64(8), dirSize(dir))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
