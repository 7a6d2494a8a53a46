// Package store persists the tag commerce state and the alarm audit trail
// in a local SQLite database. The POS writes QR codes here; the decision
// engine reads them back when the gate reader detects a tag.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaTagState = `
CREATE TABLE IF NOT EXISTS tag_state (
    qr_code    TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    order_id   TEXT,
    pos_id     TEXT,
    store_id   TEXT,
    updated_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
)`

const schemaAlarmEvent = `
CREATE TABLE IF NOT EXISTS alarm_event (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    gate_id    TEXT NOT NULL,
    epc        TEXT NOT NULL,
    qr_code    TEXT,
    rssi       REAL,
    antenna    INTEGER,
    created_at INTEGER NOT NULL
)`

var schemaStmts = []string{
	schemaTagState,
	`CREATE INDEX IF NOT EXISTS idx_tag_state_expires_at ON tag_state(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tag_state_state ON tag_state(state)`,
	`CREATE INDEX IF NOT EXISTS idx_tag_state_order_id ON tag_state(order_id)`,
	schemaAlarmEvent,
	`CREATE INDEX IF NOT EXISTS idx_alarm_event_created_at ON alarm_event(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_alarm_event_qr_code ON alarm_event(qr_code)`,
}

// Store owns the on-disk tag state. Batch mutations commit as a single
// transaction; reads tolerate concurrent writers via WAL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating when missing) the SQLite database at path, runs the
// legacy migrations and ensures the canonical schema. The parent directory
// is created when missing; any failure here is fatal to startup.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	s := New(db)
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. The caller owns the handle's
// lifetime; tests swap the clock.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init migrates any legacy schema, then ensures the canonical tables and
// indexes. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if err := migrate(ctx, s.db); err != nil {
		return err
	}
	for _, stmt := range schemaStmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// DB exposes the shared handle so the audit log can ride the same file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// dsn applies the connection pragmas to every pooled connection. WAL keeps
// readers off the writer's lock; busy_timeout absorbs short writer overlap.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
}
