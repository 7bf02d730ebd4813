// Package audit persists a tamper-evident journal of vault activity.
// Entries form a hash chain; altering or removing a row breaks every
// hash after it, which Verify reports.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/models"
)

// Journal event names.
const (
	EventVaultCreated        = "vault_created"
	EventUnlock              = "unlock"
	EventUnlockFailed        = "unlock_failed"
	EventRecoveryUnlock      = "recovery_unlock"
	EventLockout             = "lockout"
	EventPasswordChanged     = "password_changed"
	EventRecoveryChanged     = "recovery_changed"
	EventFileAdded           = "file_added"
	EventFileExtracted       = "file_extracted"
	EventFileDeleted         = "file_deleted"
	EventFolderCreated       = "folder_created"
	EventFolderDeleted       = "folder_deleted"
	EventFolderProtected     = "folder_protected"
	EventFolderUnlocked      = "folder_unlocked"
	EventFolderLocked        = "folder_locked"
	EventIntegritySweep      = "integrity_sweep"
	EventTransactionRollback = "transaction_rollback"
	EventTreeRecovered       = "tree_recovered"
)

// Entry is one journal row.
type Entry struct {
	Seq      int64     `json:"seq"`
	Time     time.Time `json:"time"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail,omitempty"`
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// Journal is a SQLite-backed append-only log.
type Journal struct {
	db     *sql.DB
	logger *events.Logger

	// Serializes the read-chain-tip-then-insert sequence in Append.
	mu sync.Mutex
}

// NewJournal opens or creates the journal database.
func NewJournal(dbPath string, logger *events.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger.WithField("component", "audit_journal"),
	}

	if err := j.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return j, nil
}

// initialize creates the schema.
func (j *Journal) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS audit_log (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        ts TEXT NOT NULL,
        event TEXT NOT NULL,
        detail TEXT NOT NULL DEFAULT '',
        prev_hash TEXT NOT NULL,
        hash TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event);
    `

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Append records an event with optional detail fields. The entry hash
// covers the previous hash, so entries cannot be altered or dropped
// without detection.
func (j *Journal) Append(event string, detail map[string]interface{}) error {
	var detailJSON string
	if len(detail) > 0 {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encode detail: %w", err)
		}
		detailJSON = string(raw)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevHash string
	err = tx.QueryRow(`
        SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1
    `).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query chain tip: %w", err)
	}

	// The timestamp is stored exactly as hashed, so Verify can
	// recompute the chain from the rows alone.
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	hash := chainHash(prevHash, ts, event, detailJSON)

	_, err = tx.Exec(`
        INSERT INTO audit_log (ts, event, detail, prev_hash, hash)
        VALUES (?, ?, ?, ?, ?)
    `, ts, event, detailJSON, prevHash, hash)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}

	j.logger.WithField("event", event).Debug("Audit entry recorded")
	return nil
}

// Verify walks the whole chain and recomputes every hash. It returns
// the number of verified entries, or an IntegrityError naming the first
// entry that does not match.
func (j *Journal) Verify() (int, error) {
	rows, err := j.db.Query(`
        SELECT seq, ts, event, detail, prev_hash, hash
        FROM audit_log ORDER BY seq
    `)
	if err != nil {
		return 0, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	count := 0
	prevHash := ""

	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Seq, &ts, &e.Event, &e.Detail, &e.PrevHash, &e.Hash); err != nil {
			return count, fmt.Errorf("scan entry: %w", err)
		}

		if e.PrevHash != prevHash {
			return count, &models.IntegrityError{
				Path:     fmt.Sprintf("audit entry %d", e.Seq),
				Expected: prevHash,
				Actual:   e.PrevHash,
			}
		}

		computed := chainHash(e.PrevHash, ts, e.Event, e.Detail)
		if computed != e.Hash {
			return count, &models.IntegrityError{
				Path:     fmt.Sprintf("audit entry %d", e.Seq),
				Expected: computed,
				Actual:   e.Hash,
			}
		}

		prevHash = e.Hash
		count++
	}

	return count, rows.Err()
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.Query(`
        SELECT seq, ts, event, detail, prev_hash, hash
        FROM audit_log ORDER BY seq DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Seq, &ts, &e.Event, &e.Detail, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		e.Time, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp for entry %d: %w", e.Seq, err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Count returns the total number of entries.
func (j *Journal) Count() (int, error) {
	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func chainHash(prevHash, ts, event, detail string) string {
	sum := sha256.Sum256([]byte(prevHash + "|" + ts + "|" + event + "|" + detail))
	return hex.EncodeToString(sum[:])
}
