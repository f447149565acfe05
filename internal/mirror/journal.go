package mirror

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mirrorkit/mirrorkit/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS mirror_journal (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pass_id TEXT NOT NULL DEFAULT '',
    op TEXT NOT NULL,
    path TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    recorded_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_journal_path ON mirror_journal(path);
CREATE INDEX IF NOT EXISTS idx_journal_op ON mirror_journal(op);
`

// Operation kinds recorded in the journal.
const (
	OpCopy          = "copy"
	OpMkdir         = "mkdir"
	OpQuarantine    = "quarantine"
	OpQuarantineDir = "quarantine_dir"
	OpRename        = "rename"
)

// JournalEntry is one recorded mirror operation.
type JournalEntry struct {
	ID         int64  `db:"id"`
	PassID     string `db:"pass_id"`
	Op         string `db:"op"`
	Path       string `db:"path"`
	Size       int64  `db:"size"`
	RecordedAt string `db:"recorded_at"`
}

// Journal persists the history of mirror operations in SQLite under the
// mirror's internal data dir. Journal failures are never fatal to a sync.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

// Open the journal and initialize its schema.
func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("journal already open")
	}

	conn, err := db.NewSqliteDb(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open journal db: %w", err)
	}

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize journal schema: %w", err)
	}

	j.db = conn
	return nil
}

// Close the underlying database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	if err != nil {
		slog.Error("failed to close journal", "error", err)
	}
	return err
}

// Record appends one operation. passID groups entries of a reconcile pass
// and is empty for watcher-driven operations.
func (j *Journal) Record(passID, op, path string, size int64) error {
	if j.db == nil {
		return nil
	}
	_, err := j.db.Exec(
		"INSERT INTO mirror_journal (pass_id, op, path, size, recorded_at) VALUES (?, ?, ?, ?, ?)",
		passID, op, path, size, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]*JournalEntry, error) {
	if j.db == nil {
		return nil, fmt.Errorf("journal not open")
	}
	var entries []*JournalEntry
	err := j.db.Select(&entries,
		"SELECT id, pass_id, op, path, size, recorded_at FROM mirror_journal ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByOp returns how many entries exist per operation kind.
func (j *Journal) CountByOp() (map[string]int64, error) {
	if j.db == nil {
		return nil, fmt.Errorf("journal not open")
	}
	rows, err := j.db.Queryx("SELECT op, COUNT(*) AS n FROM mirror_journal GROUP BY op")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var op string
		var n int64
		if err := rows.Scan(&op, &n); err != nil {
			return nil, err
		}
		counts[op] = n
	}
	return counts, rows.Err()
}
