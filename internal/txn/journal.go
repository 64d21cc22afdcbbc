package txn

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 2

// JournalEntry is one durable record of a committed (or STUCK) transaction,
// persisted so a restarted task can reconstruct its undo stack.
type JournalEntry struct {
	ID          string
	Description string
	Status      Status
	CreatedAt   time.Time
	Paths       []string
}

// PathStat is a per-(transaction, path) line-delta summary recorded
// alongside a journal entry, used by the HUD and by `task journal` listings.
type PathStat struct {
	TxID         string
	Path         string
	LinesAdded   int
	LinesRemoved int
}

// Journal is the durable, relational record of committed transactions,
// backed by a single SQLite database file per task.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (creating if necessary) the journal database at path,
// migrating its schema to the current version.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("txn: opening journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)
	`); err != nil {
		return fmt.Errorf("txn: creating schema_meta: %w", err)
	}

	var version int
	row := j.db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`)
	if err := row.Scan(&version); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("txn: reading schema version: %w", err)
		}
		version = 0
	}

	if version < 1 {
		if err := j.migrateToV1(); err != nil {
			return err
		}
		version = 1
	}

	if version < 2 {
		if err := j.migrateToV2(); err != nil {
			return err
		}
		version = 2
	}

	return nil
}

func (j *Journal) migrateToV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tx_snapshots (
			tx_id TEXT NOT NULL,
			path  TEXT NOT NULL,
			PRIMARY KEY (tx_id, path),
			FOREIGN KEY (tx_id) REFERENCES transactions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS tx_diff_stats (
			tx_id         TEXT NOT NULL,
			path          TEXT NOT NULL,
			lines_added   INTEGER NOT NULL DEFAULT 0,
			lines_removed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tx_id, path),
			FOREIGN KEY (tx_id) REFERENCES transactions(id)
		)`,
		`DELETE FROM schema_meta`,
		`INSERT INTO schema_meta (version) VALUES (1)`,
	}
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("txn: beginning migration: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("txn: applying migration: %w", err)
		}
	}
	return tx.Commit()
}

// migrateToV2 adds the durable ring-buffer eviction counter, so the count
// of pruned history survives a task restart.
func (j *Journal) migrateToV2() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS counters (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO counters (name, value) VALUES ('evicted', 0)`,
		`UPDATE schema_meta SET version = 2`,
	}
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("txn: beginning migration: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("txn: applying migration: %w", err)
		}
	}
	return tx.Commit()
}

// IncrementEvicted durably increments the per-task evicted-transaction
// counter, called once per ring-buffer eviction.
func (j *Journal) IncrementEvicted() error {
	_, err := j.db.Exec(`UPDATE counters SET value = value + 1 WHERE name = 'evicted'`)
	if err != nil {
		return fmt.Errorf("txn: incrementing evicted counter: %w", err)
	}
	return nil
}

// EvictedCount reports how many committed transactions have been pruned
// from this task's history past its ring-buffer bound.
func (j *Journal) EvictedCount() (int, error) {
	var n int
	row := j.db.QueryRow(`SELECT value FROM counters WHERE name = 'evicted'`)
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("txn: reading evicted counter: %w", err)
	}
	return n, nil
}

// Append writes entry and its per-path stats as a single relational commit.
func (j *Journal) Append(entry JournalEntry, stats []PathStat) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("txn: beginning journal append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO transactions (id, description, status, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.Description, string(entry.Status), entry.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("txn: inserting transaction row: %w", err)
	}

	for _, p := range entry.Paths {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tx_snapshots (tx_id, path) VALUES (?, ?)`,
			entry.ID, p,
		); err != nil {
			return fmt.Errorf("txn: inserting snapshot row: %w", err)
		}
	}

	for _, s := range stats {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tx_diff_stats (tx_id, path, lines_added, lines_removed) VALUES (?, ?, ?, ?)`,
			s.TxID, s.Path, s.LinesAdded, s.LinesRemoved,
		); err != nil {
			return fmt.Errorf("txn: inserting diff stat row: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateStatus rewrites the status of an already-appended transaction, used
// when a rollback demotes a transaction to STUCK after it was provisionally
// recorded.
func (j *Journal) UpdateStatus(txID string, status Status) error {
	_, err := j.db.Exec(`UPDATE transactions SET status = ? WHERE id = ?`, string(status), txID)
	if err != nil {
		return fmt.Errorf("txn: updating status: %w", err)
	}
	return nil
}

// Evict removes a transaction and its associated rows, called once the
// ring buffer's history bound pushes it out.
func (j *Journal) Evict(txID string) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("txn: beginning eviction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM tx_diff_stats WHERE tx_id = ?`,
		`DELETE FROM tx_snapshots WHERE tx_id = ?`,
		`DELETE FROM transactions WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, txID); err != nil {
			return fmt.Errorf("txn: evicting: %w", err)
		}
	}
	return tx.Commit()
}

// ListEntries returns every journal entry, oldest first, for reactivation
// and for the `task journal` listing tool action.
func (j *Journal) ListEntries() ([]JournalEntry, error) {
	rows, err := j.db.Query(`SELECT id, description, status, created_at FROM transactions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("txn: listing entries: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var statusStr, createdAtStr string
		if err := rows.Scan(&e.ID, &e.Description, &statusStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("txn: scanning entry: %w", err)
		}
		e.Status = Status(statusStr)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)

		pathRows, err := j.db.Query(`SELECT path FROM tx_snapshots WHERE tx_id = ?`, e.ID)
		if err != nil {
			return nil, fmt.Errorf("txn: listing paths for %s: %w", e.ID, err)
		}
		for pathRows.Next() {
			var p string
			if err := pathRows.Scan(&p); err != nil {
				pathRows.Close()
				return nil, fmt.Errorf("txn: scanning path: %w", err)
			}
			e.Paths = append(e.Paths, p)
		}
		pathRows.Close()

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// SchemaVersion reports the journal's current schema version, for `doctor`
// diagnostics.
func (j *Journal) SchemaVersion() (int, error) {
	var version int
	row := j.db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`)
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("txn: reading schema version: %w", err)
	}
	return version, nil
}

// CountByStatus reports how many transactions are currently recorded with
// the given status, used by `doctor` to surface outstanding STUCK entries.
func (j *Journal) CountByStatus(status Status) (int, error) {
	var n int
	row := j.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE status = ?`, string(status))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("txn: counting by status: %w", err)
	}
	return n, nil
}
