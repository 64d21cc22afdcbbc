package changetracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherForgetsSnapshotOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}

	tracker := New()
	tracker.RecordSnapshot(path, "v1", "utf-8", 1)

	w, err := NewWatcher(tracker)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	if err := w.WatchDir(dir); err != nil {
		t.Fatalf("WatchDir() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("v2, written outside the task"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := tracker.Snapshot(path); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not forget the snapshot after an external write within the timeout")
}
