package store

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// migrate upgrades the two legacy on-disk shapes still found in the field:
// tag_state keyed by tag_id instead of qr_code, and alarm_event rows that
// predate the qr_code column or still call the EPC column tag_id. Runs
// before the canonical schema is ensured; every step is idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if err := migrateTagState(ctx, db); err != nil {
		return err
	}
	return migrateAlarmEvent(ctx, db)
}

func migrateTagState(ctx context.Context, db *sql.DB) error {
	cols, err := tableColumns(ctx, db, "tag_state")
	if err != nil {
		return fmt.Errorf("store: inspect tag_state: %w", err)
	}
	if !cols["tag_id"] || cols["qr_code"] {
		return nil
	}

	log.Info("migrating tag_state from tag_id to qr_code schema")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tag_state migration: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`ALTER TABLE tag_state RENAME TO tag_state_old`,
		schemaTagState,
		`INSERT INTO tag_state (qr_code, state, order_id, pos_id, store_id, updated_at, expires_at)
		 SELECT tag_id, state, order_id, pos_id, store_id, updated_at, expires_at FROM tag_state_old`,
		`DROP TABLE tag_state_old`,
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate tag_state: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tag_state migration: %w", err)
	}

	log.Info("tag_state migration complete")
	return nil
}

func migrateAlarmEvent(ctx context.Context, db *sql.DB) error {
	cols, err := tableColumns(ctx, db, "alarm_event")
	if err != nil {
		return fmt.Errorf("store: inspect alarm_event: %w", err)
	}
	if len(cols) == 0 {
		return nil
	}

	if !cols["qr_code"] {
		log.Info("adding qr_code column to alarm_event")
		if _, err := db.ExecContext(ctx, `ALTER TABLE alarm_event ADD COLUMN qr_code TEXT`); err != nil {
			return fmt.Errorf("store: add alarm_event qr_code: %w", err)
		}
	}

	if !cols["tag_id"] || cols["epc"] {
		return nil
	}

	log.Info("migrating alarm_event from tag_id to epc schema")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin alarm_event migration: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`ALTER TABLE alarm_event RENAME TO alarm_event_old`,
		schemaAlarmEvent,
		`INSERT INTO alarm_event (id, gate_id, epc, qr_code, rssi, antenna, created_at)
		 SELECT id, gate_id, tag_id, NULL, rssi, antenna, created_at FROM alarm_event_old`,
		`DROP TABLE alarm_event_old`,
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate alarm_event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit alarm_event migration: %w", err)
	}

	log.Info("alarm_event migration complete")
	return nil
}

// tableColumns returns the column set of table, empty when the table does
// not exist.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
