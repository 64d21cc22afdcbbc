package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/task"
)

func newTestTask(t *testing.T) (*task.Task, string) {
	t.Helper()
	tasksRoot := t.TempDir()
	workDir := t.TempDir()
	settings, err := config.Load(workDir)
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	falseVal := false
	settings.ExternalWatch = &falseVal

	tk, err := task.New(tasksRoot, workDir, []string{workDir}, settings)
	if err != nil {
		t.Fatalf("task.New() error: %v", err)
	}
	t.Cleanup(func() { tk.Terminate() }) //nolint:errcheck
	return tk, workDir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
