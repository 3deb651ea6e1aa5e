package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// WriteKind identifies the kind of journaled read-state write.
type WriteKind string

const (
	WriteMarkRead WriteKind = "mark_read"
	WriteMarkAll  WriteKind = "mark_all_read"
)

// PendingWrite is a read-state write that failed against the backend
// and awaits replay.
type PendingWrite struct {
	ID        string    `db:"id"`
	Kind      WriteKind `db:"kind"`
	TargetID  string    `db:"target_id"`
	CreatedAt time.Time `db:"created_at"`
}

// journalSchema is applied once on open. A single table is all the
// journal needs; the version row leaves room for later migrations.
var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS pending_writes (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	target_id  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	`INSERT INTO schema_version (version)
	SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM schema_version);`,
}

// Journal persists the intents of failed read-state writes so they can
// be retried on the next bootstrap. It implements the fire-and-forget
// with best-effort retry policy: the in-memory flip always stands, the
// journal only narrows the window in which the backend lags behind.
type Journal struct {
	db *sqlx.DB
}

// OpenJournal opens (or creates) the journal database at dbPath and
// applies the schema. Use ":memory:" for an ephemeral journal.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}

	// WAL mode keeps background writers from blocking reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	for _, stmt := range journalSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying journal schema: %w", err)
		}
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordMarkRead journals a failed single-notification read write.
func (j *Journal) RecordMarkRead(ctx context.Context, notificationID string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO pending_writes (id, kind, target_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		uuid.NewString(), WriteMarkRead, notificationID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journaling mark-read for %s: %w", notificationID, err)
	}
	return nil
}

// RecordMarkAll journals a failed bulk read write. A single pending
// mark-all subsumes any further ones, so duplicates are skipped.
func (j *Journal) RecordMarkAll(ctx context.Context) error {
	var existing int
	err := j.db.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM pending_writes WHERE kind = ?`, WriteMarkAll,
	)
	if err != nil {
		return fmt.Errorf("checking pending mark-all: %w", err)
	}
	if existing > 0 {
		return nil
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO pending_writes (id, kind, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), WriteMarkAll, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journaling mark-all: %w", err)
	}
	return nil
}

// Pending returns all journaled writes, oldest first.
func (j *Journal) Pending(ctx context.Context) ([]PendingWrite, error) {
	var writes []PendingWrite
	err := j.db.SelectContext(ctx, &writes,
		`SELECT id, kind, target_id, created_at
		 FROM pending_writes ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending writes: %w", err)
	}
	return writes, nil
}

// Delete removes a journaled write after successful replay.
func (j *Journal) Delete(ctx context.Context, id string) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM pending_writes WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("deleting journal entry %s: %w", id, err)
	}
	return nil
}
