package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AlarmEvent is one appended row of the alarm audit trail. EPC is the raw
// identifier the reader sent; QRCode the decode result at decision time,
// empty when nothing matchable came out.
type AlarmEvent struct {
	ID        int64    `json:"id"`
	GateID    string   `json:"gate_id"`
	EPC       string   `json:"epc"`
	QRCode    string   `json:"qr_code"`
	RSSI      *float64 `json:"rssi"`
	Antenna   *int     `json:"antenna"`
	CreatedAt int64    `json:"created_at"`
}

// AuditLog is the append-only alarm trail. It shares the store's database
// handle; Append is durable before it returns so an alarm survives a
// fan-out crash.
type AuditLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db, now: time.Now}
}

// Append inserts one alarm event and returns its monotonic id.
func (a *AuditLog) Append(ctx context.Context, gateID, epc, qrCode string, rssi *float64, antenna *int) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO alarm_event (gate_id, epc, qr_code, rssi, antenna, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		gateID, epc, qrCode, rssi, antenna, a.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: append alarm event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: append alarm event: %w", err)
	}
	return id, nil
}

// Query returns one page of alarm events, newest first, optionally bounded
// by created_at (from inclusive, to inclusive), plus the total row count
// under the same bounds. page is 1-based.
func (a *AuditLog) Query(ctx context.Context, from, to *int64, page, limit int) ([]AlarmEvent, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	conds := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if from != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *from)
	}
	if to != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *to)
	}
	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	var total int
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alarm_event WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count alarm events: %w", err)
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, gate_id, epc, qr_code, rssi, antenna, created_at
		   FROM alarm_event WHERE `+where+`
		  ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: query alarm events: %w", err)
	}
	defer rows.Close()

	events := make([]AlarmEvent, 0, limit)
	for rows.Next() {
		var (
			ev      AlarmEvent
			qr      sql.NullString
			rssi    sql.NullFloat64
			antenna sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.GateID, &ev.EPC, &qr, &rssi, &antenna, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("store: scan alarm event: %w", err)
		}
		ev.QRCode = qr.String
		if rssi.Valid {
			v := rssi.Float64
			ev.RSSI = &v
		}
		if antenna.Valid {
			v := int(antenna.Int64)
			ev.Antenna = &v
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: query alarm events: %w", err)
	}
	return events, total, nil
}

// CountLast counts alarm events appended within the trailing window.
func (a *AuditLog) CountLast(ctx context.Context, window time.Duration) (int, error) {
	cutoff := a.now().Add(-window).Unix()
	var n int
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alarm_event WHERE created_at >= ?`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count recent alarms: %w", err)
	}
	return n, nil
}
