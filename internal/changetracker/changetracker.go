// Package changetracker implements C4: per-path content+CRC snapshots used
// to detect third-party modifications to the workspace between agent steps.
package changetracker

import (
	"hash/crc32"
	"sync"
	"time"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32C checksum of data, the canonical checksum used
// throughout the core for both range and whole-file content.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// Snapshot is the recorded state of a path the last time the core itself
// observed it (via a successful read or a committed write).
type Snapshot struct {
	Content   string
	Charset   string
	CRC32C    uint32
	LineCount int
	At        time.Time
}

// Event describes an external-change detection: the file's content at the
// core's last observation differs from its content now, and no in-task
// transaction is responsible for the difference.
type Event struct {
	Path     string
	Previous Snapshot
	Current  Snapshot
}

// Tracker is a per-task external-change detector.
type Tracker struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	touched   map[string]bool
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		snapshots: make(map[string]Snapshot),
		touched:   make(map[string]bool),
	}
}

// RecordSnapshot stores the current observed state of path, called after
// every successful read and after every committed write. It also clears the
// "touched by this task's own transaction" flag, since the snapshot now
// reflects that transaction's effect.
func (t *Tracker) RecordSnapshot(path, content, charset string, lineCount int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		Content:   content,
		Charset:   charset,
		CRC32C:    CRC32C([]byte(content)),
		LineCount: lineCount,
		At:        time.Now(),
	}
	t.snapshots[path] = snap
	delete(t.touched, path)
	return snap
}

// MarkTouchedByTransaction records that the current task's own transaction
// machinery is about to modify path, so a subsequent CRC mismatch against
// the last snapshot should not be reported as an external change.
func (t *Tracker) MarkTouchedByTransaction(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched[path] = true
}

// CheckForExternalChange compares the stored snapshot's CRC against the
// currently observed content. If they differ and no in-task transaction has
// touched path since the snapshot, it returns an external-change Event.
func (t *Tracker) CheckForExternalChange(path, currentText, currentCharset string, currentLineCount int) (Event, bool) {
	t.mu.Lock()
	prev, ok := t.snapshots[path]
	touchedByTask := t.touched[path]
	t.mu.Unlock()

	if !ok {
		return Event{}, false
	}

	currentCRC := CRC32C([]byte(currentText))
	if prev.CRC32C == currentCRC {
		return Event{}, false
	}
	if touchedByTask {
		return Event{}, false
	}

	return Event{
		Path:     path,
		Previous: prev,
		Current: Snapshot{
			Content:   currentText,
			Charset:   currentCharset,
			CRC32C:    currentCRC,
			LineCount: currentLineCount,
			At:        time.Now(),
		},
	}, true
}

// Snapshot returns the last recorded snapshot for path, if any.
func (t *Tracker) Snapshot(path string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.snapshots[path]
	return s, ok
}

// Forget drops the stored snapshot for path (used when a file is deleted).
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.snapshots, path)
	delete(t.touched, path)
}
