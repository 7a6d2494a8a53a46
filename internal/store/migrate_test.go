package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLegacy creates a database with the pre-rename schemas: tag_state keyed
// by tag_id and alarm_event without qr_code.
func seedLegacy(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", dsn(path))
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE tag_state (
			tag_id     TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			order_id   TEXT,
			pos_id     TEXT,
			store_id   TEXT,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`INSERT INTO tag_state VALUES ('ABC1234', 'IN_CART', 'O1', 'P1', 'S1', 100, 9999999999)`,
		`CREATE TABLE alarm_event (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			gate_id    TEXT NOT NULL,
			tag_id     TEXT NOT NULL,
			rssi       REAL,
			antenna    INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`INSERT INTO alarm_event (gate_id, tag_id, rssi, antenna, created_at)
		 VALUES ('gate-1', 'A0B0C0', -60.0, 1, 200)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestOpenMigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	seedLegacy(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	ts, ok, err := s.Get(ctx, "ABC1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateInCart, ts.State)
	assert.Equal(t, "O1", ts.OrderID)

	audit := NewAuditLog(s.DB())
	events, total, err := audit.Query(ctx, nil, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "A0B0C0", events[0].EPC)
	assert.Empty(t, events[0].QRCode)
	require.NotNil(t, events[0].RSSI)
	assert.Equal(t, -60.0, *events[0].RSSI)

	cols, err := tableColumns(ctx, s.DB(), "tag_state")
	require.NoError(t, err)
	assert.True(t, cols["qr_code"])
	assert.False(t, cols["tag_id"])
}

func TestOpenAddsAlarmQRColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mid.db")

	db, err := sql.Open("sqlite3", dsn(path))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE alarm_event (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		gate_id    TEXT NOT NULL,
		epc        TEXT NOT NULL,
		rssi       REAL,
		antenna    INTEGER,
		created_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	cols, err := tableColumns(context.Background(), s.DB(), "alarm_event")
	require.NoError(t, err)
	assert.True(t, cols["qr_code"])
	assert.True(t, cols["epc"])
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.UpsertInCart(context.Background(), []string{"A"}, "O1", "P1", "S1", 60)
	assert.NoError(t, err)
}
