// Package lineage implements C5: stable file identity across moves and
// renames, keyed by an opaque id, used both to translate access tokens
// (path aliasing) and to resolve smart-undo targets that have relocated.
package lineage

import (
	"crypto/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Move records a single rename/move event in a file's path history.
type Move struct {
	OldPath   string
	NewPath   string
	Timestamp time.Time
}

// identity is the internal record for one file's lineage.
type identity struct {
	currentPath  string
	history      []Move
	lastKnownCRC uint32
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Tracker is a per-task file-lineage index. Exactly one identity exists per
// currently-live file; a path never maps to two identities simultaneously.
type Tracker struct {
	mu         sync.Mutex
	pathToID   map[string]string
	identities map[string]*identity

	// formerPathToID retains the id a path resolved to before it was moved
	// away, so a transaction's snapshot (recorded against that now-stale
	// path) can still be traced to the file's current location.
	formerPathToID map[string]string
}

// New creates an empty lineage Tracker.
func New() *Tracker {
	return &Tracker{
		pathToID:       make(map[string]string),
		identities:     make(map[string]*identity),
		formerPathToID: make(map[string]string),
	}
}

// RegisterFile returns the identity id for path, creating one on first
// registration. Idempotent: re-registering an already-tracked path returns
// its existing id.
func (t *Tracker) RegisterFile(path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.pathToID[path]; ok {
		return id
	}
	id := uuid.NewString()
	t.pathToID[path] = id
	t.identities[id] = &identity{currentPath: path}
	return id
}

// RecordMove transfers the identity at from to to. If from was never
// registered, it registers a fresh identity at to instead (a move the
// tracker did not observe the origin of).
func (t *Tracker) RecordMove(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.pathToID[from]
	if !ok {
		id = uuid.NewString()
		t.identities[id] = &identity{currentPath: from}
		t.pathToID[from] = id
	}

	rec := t.identities[id]
	rec.history = append(rec.history, Move{OldPath: from, NewPath: to, Timestamp: time.Now()})
	rec.currentPath = to

	delete(t.pathToID, from)
	t.pathToID[to] = id
	t.formerPathToID[from] = id
}

// GetCurrentPath returns the live path for a given identity id.
func (t *Tracker) GetCurrentPath(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.identities[id]
	if !ok {
		return "", false
	}
	return rec.currentPath, true
}

// GetFileID returns the identity id associated with path: its current
// location if path is still live, or the id it last resolved to before
// being moved away, so a stale path recorded in an older transaction
// snapshot can still be traced to the file's identity.
func (t *Tracker) GetFileID(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.pathToID[path]; ok {
		return id, true
	}
	id, ok := t.formerPathToID[path]
	return id, ok
}

// UpdateCRC records the last-known content CRC for the identity at path.
// A no-op if path isn't tracked.
func (t *Tracker) UpdateCRC(path string, crc uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.pathToID[path]
	if !ok {
		return
	}
	t.identities[id].lastKnownCRC = crc
}

// HistoricalPaths implements token.AliasResolver: it returns every prior
// path recorded for the file identity now living at boundPath, enabling a
// token issued against an old path to decode successfully after a
// move/rename chain (§4.1 path aliasing).
func (t *Tracker) HistoricalPaths(boundPath string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.pathToID[boundPath]
	if !ok {
		return nil
	}
	rec := t.identities[id]
	paths := make([]string, 0, len(rec.history))
	for _, m := range rec.history {
		paths = append(paths, m.OldPath)
	}
	return paths
}

// FindByCRC returns every currently-tracked path whose last-known CRC
// matches crc.
func (t *Tracker) FindByCRC(crc uint32) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for path, id := range t.pathToID {
		if t.identities[id].lastKnownCRC == crc {
			out = append(out, path)
		}
	}
	return out
}

// DeepSearchByCRC walks root (up to budget files) computing each regular
// file's content CRC, returning the first path whose CRC matches. Used only
// by smart undo when a file has disappeared without a recorded move.
func DeepSearchByCRC(crc uint32, root string, budget int) (string, bool) {
	visited := 0
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil //nolint:nilerr // best-effort walk, errors simply skip entries
		}
		if d.IsDir() {
			return nil
		}
		if visited >= budget {
			return filepath.SkipAll
		}
		visited++
		data, readErr := os.ReadFile(path) //nolint:gosec // bounded deep search over the sandboxed workspace
		if readErr != nil {
			return nil //nolint:nilerr
		}
		if crc32.Checksum(data, crcTable) == crc {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}
