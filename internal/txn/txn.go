// Package txn implements C7: nestable, atomic transactions over the
// workspace, backed by a durable per-task journal and bounded undo/redo
// stacks.
package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a transaction's place in its state machine: OPEN, then exactly
// one of COMMITTED, ROLLED_BACK, or STUCK.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusCommitted  Status = "COMMITTED"
	StatusRolledBack Status = "ROLLED_BACK"
	StatusStuck      Status = "STUCK"
)

// Move records a rename/move performed under a transaction.
type Move struct {
	From string
	To   string
}

// Transaction is a nested, atomic group of file mutations. Snapshots holds,
// per path, whether the pre-image was NONE (the path didn't exist); the
// actual bytes live in the paired snapshot.Store under the same ID.
type Transaction struct {
	ID           string
	Description  string
	Status       Status
	Snapshots    map[string]bool // path -> wasNone
	CreatedPaths map[string]bool
	MovedPaths   []Move
	Timestamp    time.Time

	nestDepth int
}

// ErrNoOpenTransaction is returned by operations that require an open
// transaction on the current nesting stack.
type ErrNoOpenTransaction struct{}

func (ErrNoOpenTransaction) Error() string { return "txn: no open transaction" }

// ErrStuck is returned when a rollback leaves the filesystem partially
// restored; the caller must surface a recovery hint and stop.
type ErrStuck struct {
	TxID  string
	Cause error
}

func (e ErrStuck) Error() string {
	return fmt.Sprintf("txn: transaction %s is STUCK: %v", e.TxID, e.Cause)
}

func (e ErrStuck) Unwrap() error { return e.Cause }

const defaultHistoryBound = 50

// Manager owns a single task's transaction nesting stack, the committed
// undo/redo history, and named checkpoints into that history. It does not
// itself touch the filesystem; callers supply pre/post-image bytes to
// Backup/Commit and restore bytes via the snapshot.Store keyed by the same
// transaction ID.
type Manager struct {
	mu sync.Mutex

	journal      *Journal
	historyBound int

	current *Transaction // top of the nesting stack; nil when no tx open

	undoStack []*Transaction
	redoStack []*Transaction

	checkpoints map[string]int // name -> length of undoStack at creation
}

// NewManager creates a Manager backed by journal, bounding the undo history
// at historyBound entries (<=0 uses the default of 50).
func NewManager(journal *Journal, historyBound int) *Manager {
	if historyBound <= 0 {
		historyBound = defaultHistoryBound
	}
	return &Manager{
		journal:      journal,
		historyBound: historyBound,
		checkpoints:  make(map[string]int),
	}
}

// Begin opens a transaction, or increments the nesting counter if one is
// already open on this manager.
func (m *Manager) Begin(description string) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.nestDepth++
		return m.current
	}

	m.current = &Transaction{
		ID:           uuid.NewString(),
		Description:  description,
		Status:       StatusOpen,
		Snapshots:    make(map[string]bool),
		CreatedPaths: make(map[string]bool),
		Timestamp:    time.Now(),
		nestDepth:    1,
	}
	return m.current
}

// Current returns the currently open transaction, if any.
func (m *Manager) Current() (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// MarkBackedUp records that path's pre-image was captured for the open
// transaction (wasNone indicates the path did not exist). First backup for a
// path within a transaction wins; a later call is a no-op so nested edits
// to the same path still roll back to the transaction's true starting
// state.
func (m *Manager) MarkBackedUp(path string, wasNone bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoOpenTransaction{}
	}
	if _, ok := m.current.Snapshots[path]; ok {
		return nil
	}
	m.current.Snapshots[path] = wasNone
	return nil
}

// MarkCreated records that path was created within the open transaction (or
// an earlier transaction in the same task), feeding C3's infinite-range
// rule.
func (m *Manager) MarkCreated(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoOpenTransaction{}
	}
	m.current.CreatedPaths[path] = true
	return nil
}

// MarkMoved records a rename performed within the open transaction.
func (m *Manager) MarkMoved(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoOpenTransaction{}
	}
	m.current.MovedPaths = append(m.current.MovedPaths, Move{From: from, To: to})
	return nil
}

// Commit decrements the nesting counter. When it reaches zero the
// transaction flips to COMMITTED, its journal entry is written (snapshots
// must already be durable in the paired snapshot.Store), it is pushed onto
// the undo stack, the redo stack is cleared, and the oldest entries past
// historyBound are evicted.
func (m *Manager) Commit(stats []PathStat) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoOpenTransaction{}
	}

	m.current.nestDepth--
	if m.current.nestDepth > 0 {
		return nil, nil
	}

	tx := m.current
	tx.Status = StatusCommitted
	m.current = nil

	paths := make([]string, 0, len(tx.Snapshots))
	for p := range tx.Snapshots {
		paths = append(paths, p)
	}

	entry := JournalEntry{
		ID:          tx.ID,
		Description: tx.Description,
		Status:      tx.Status,
		CreatedAt:   tx.Timestamp,
		Paths:       paths,
	}
	if err := m.journal.Append(entry, stats); err != nil {
		return nil, fmt.Errorf("txn: committing journal entry: %w", err)
	}

	m.undoStack = append(m.undoStack, tx)
	m.redoStack = nil

	evicted := m.evictLocked()
	return evicted, nil
}

// evictLocked drops the oldest undo entries past historyBound, evicting
// their journal rows too. Callers must still forget the corresponding
// snapshot.Store entries for the returned transaction IDs.
func (m *Manager) evictLocked() []string {
	if len(m.undoStack) <= m.historyBound {
		return nil
	}
	overflow := len(m.undoStack) - m.historyBound
	var evicted []string
	for i := 0; i < overflow; i++ {
		evicted = append(evicted, m.undoStack[i].ID)
		if err := m.journal.Evict(m.undoStack[i].ID); err != nil {
			// Best-effort: a failed eviction leaves a harmless orphan row: it
			// will be retried on the next commit past the bound.
			continue
		}
		m.journal.IncrementEvicted() //nolint:errcheck // best-effort counter
	}
	m.undoStack = append([]*Transaction(nil), m.undoStack[overflow:]...)

	for name, idx := range m.checkpoints {
		idx -= overflow
		if idx < 0 {
			delete(m.checkpoints, name)
			continue
		}
		m.checkpoints[name] = idx
	}
	return evicted
}

// Abort discards the open transaction without committing it (used after a
// rollback completes the same nesting level it was begun at).
func (m *Manager) Abort(status Status) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.current
	if tx == nil {
		return nil
	}
	tx.Status = status
	m.current = nil
	return tx
}

// EvictedCount reports how many committed transactions have been pruned
// from the undo history (and journal) past historyBound, so
// task(action=journal) can report how much history was lost. Backed by the
// durable journal counter, so it survives a task restart.
func (m *Manager) EvictedCount() (int, error) {
	return m.journal.EvictedCount()
}

// CreateCheckpoint records a named pointer at the current top of the undo
// stack.
func (m *Manager) CreateCheckpoint(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[name] = len(m.undoStack)
}

// TransactionsAboveCheckpoint returns, in LIFO (most recent first) order,
// every committed transaction above the named checkpoint, and removes them
// from the undo stack. The caller is responsible for inverting each one
// (via the smart-undo engine) and must call RemoveCheckpoint once done.
func (m *Manager) TransactionsAboveCheckpoint(name string) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.checkpoints[name]
	if !ok {
		return nil, fmt.Errorf("txn: no such checkpoint %q", name)
	}
	if idx > len(m.undoStack) {
		idx = len(m.undoStack)
	}
	above := m.undoStack[idx:]
	out := make([]*Transaction, len(above))
	for i, tx := range above {
		out[len(above)-1-i] = tx
	}
	m.undoStack = m.undoStack[:idx]
	return out, nil
}

// RemoveCheckpoint drops a named checkpoint once it has been rolled back to
// or is no longer reachable.
func (m *Manager) RemoveCheckpoint(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, name)
}

// PopUndo removes and returns the most recently committed transaction, for
// the caller to invert via the smart-undo engine.
func (m *Manager) PopUndo() (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undoStack) == 0 {
		return nil, false
	}
	tx := m.undoStack[len(m.undoStack)-1]
	m.undoStack = m.undoStack[:len(m.undoStack)-1]
	return tx, true
}

// PushRedo pushes tx onto the redo stack after a successful undo.
func (m *Manager) PushRedo(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redoStack = append(m.redoStack, tx)
}

// PopRedo removes and returns the most recently undone transaction, for the
// caller to re-apply via the smart-undo engine run in the forward direction.
func (m *Manager) PopRedo() (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redoStack) == 0 {
		return nil, false
	}
	tx := m.redoStack[len(m.redoStack)-1]
	m.redoStack = m.redoStack[:len(m.redoStack)-1]
	return tx, true
}

// PushUndo pushes tx back onto the undo stack after a successful redo.
func (m *Manager) PushUndo(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undoStack = append(m.undoStack, tx)
}

// MarkStuck flips tx's recorded status to STUCK in the journal, used when a
// rollback or smart-undo restore fails partway through.
func (m *Manager) MarkStuck(txID string) error {
	return m.journal.UpdateStatus(txID, StatusStuck)
}

// Reactivate loads the journal's committed entries back into the undo
// stack, restoring undo history across a task restart. Per §4.10 this
// explicitly does not restore any live access tokens.
func (m *Manager) Reactivate() error {
	entries, err := m.journal.ListEntries()
	if err != nil {
		return fmt.Errorf("txn: reactivating: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undoStack = m.undoStack[:0]
	for _, e := range entries {
		if e.Status != StatusCommitted {
			continue
		}
		snaps := make(map[string]bool, len(e.Paths))
		for _, p := range e.Paths {
			snaps[p] = false // wasNone unknown after reactivation; resolved from the snapshot store on use
		}
		m.undoStack = append(m.undoStack, &Transaction{
			ID:          e.ID,
			Description: e.Description,
			Status:      e.Status,
			Snapshots:   snaps,
			Timestamp:   e.CreatedAt,
		})
	}
	return nil
}
