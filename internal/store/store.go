package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Commerce states a QR code can hold. Anything else found in the table is
// treated by the decision engine as unknown.
const (
	StateInCart = "IN_CART"
	StatePaid   = "PAID"
)

// TagState is one row of tag_state: the commerce state the POS last
// reported for a QR code. Timestamps are integer seconds since epoch, UTC.
type TagState struct {
	QRCode    string `json:"qr_code"`
	State     string `json:"state"`
	OrderID   string `json:"order_id"`
	PosID     string `json:"pos_id"`
	StoreID   string `json:"store_id"`
	UpdatedAt int64  `json:"updated_at"`
	ExpiresAt int64  `json:"expires_at"`
}

const upsertTagState = `
INSERT INTO tag_state (qr_code, state, order_id, pos_id, store_id, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(qr_code) DO UPDATE SET
    state      = excluded.state,
    order_id   = excluded.order_id,
    pos_id     = excluded.pos_id,
    store_id   = excluded.store_id,
    updated_at = excluded.updated_at,
    expires_at = excluded.expires_at`

// Get returns the row for qr iff it has not expired. A row past its
// expires_at is logically absent.
func (s *Store) Get(ctx context.Context, qr string) (TagState, bool, error) {
	qr = canonicalQR(qr)
	now := s.now().Unix()

	var (
		ts                      TagState
		orderID, posID, storeID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT qr_code, state, order_id, pos_id, store_id, updated_at, expires_at
		   FROM tag_state WHERE qr_code = ? AND expires_at >= ?`, qr, now).
		Scan(&ts.QRCode, &ts.State, &orderID, &posID, &storeID, &ts.UpdatedAt, &ts.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TagState{}, false, nil
	}
	if err != nil {
		return TagState{}, false, fmt.Errorf("store: get tag state: %w", err)
	}
	ts.OrderID, ts.PosID, ts.StoreID = orderID.String, posID.String, storeID.String
	return ts, true, nil
}

// UpsertInCart writes IN_CART rows for every qr in the batch, except those
// currently PAID and not expired, which are counted as ignoredPaid instead.
// The whole batch commits in one transaction.
func (s *Store) UpsertInCart(ctx context.Context, qrs []string, orderID, posID, storeID string, ttlSeconds int64) (int, int, error) {
	now := s.now().Unix()
	expiresAt := now + ttlSeconds

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("store: begin in-cart upsert: %w", err)
	}
	defer tx.Rollback()

	upserted, ignoredPaid := 0, 0
	for _, raw := range qrs {
		qr := canonicalQR(raw)
		if qr == "" {
			continue
		}

		var (
			state     string
			rowExpiry int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT state, expires_at FROM tag_state WHERE qr_code = ?`, qr).
			Scan(&state, &rowExpiry)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, 0, fmt.Errorf("store: check paid state: %w", err)
		}
		if err == nil && state == StatePaid && rowExpiry >= now {
			ignoredPaid++
			continue
		}

		if _, err := tx.ExecContext(ctx, upsertTagState,
			qr, StateInCart, orderID, posID, storeID, now, expiresAt); err != nil {
			return 0, 0, fmt.Errorf("store: upsert in-cart: %w", err)
		}
		upserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("store: commit in-cart upsert: %w", err)
	}
	return upserted, ignoredPaid, nil
}

// UpsertPaid writes PAID rows unconditionally, superseding any prior state
// for the same qr. The whole batch commits in one transaction.
func (s *Store) UpsertPaid(ctx context.Context, qrs []string, orderID, posID, storeID string, ttlSeconds int64) (int, error) {
	now := s.now().Unix()
	expiresAt := now + ttlSeconds

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin paid upsert: %w", err)
	}
	defer tx.Rollback()

	upserted := 0
	for _, raw := range qrs {
		qr := canonicalQR(raw)
		if qr == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertTagState,
			qr, StatePaid, orderID, posID, storeID, now, expiresAt); err != nil {
			return 0, fmt.Errorf("store: upsert paid: %w", err)
		}
		upserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit paid upsert: %w", err)
	}
	return upserted, nil
}

// Remove deletes rows matching the qr batch, further scoped by orderID when
// non-empty. Returns the number of rows deleted.
func (s *Store) Remove(ctx context.Context, qrs []string, orderID string) (int64, error) {
	canon := make([]any, 0, len(qrs)+1)
	for _, raw := range qrs {
		if qr := canonicalQR(raw); qr != "" {
			canon = append(canon, qr)
		}
	}
	if len(canon) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM tag_state WHERE qr_code IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?,", len(canon)), ","))
	if orderID != "" {
		query += ` AND order_id = ?`
		canon = append(canon, orderID)
	}

	res, err := s.db.ExecContext(ctx, query, canon...)
	if err != nil {
		return 0, fmt.Errorf("store: remove tags: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: remove tags: %w", err)
	}
	return deleted, nil
}

// Cleanup deletes every row whose expires_at has passed. The janitor calls
// this on its cadence; the debug endpoint reports on it.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tag_state WHERE expires_at < ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: cleanup expired tags: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cleanup expired tags: %w", err)
	}
	return deleted, nil
}

// Counts returns the number of non-expired rows per state.
func (s *Store) Counts(ctx context.Context) (int, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM tag_state WHERE expires_at >= ? GROUP BY state`,
		s.now().Unix())
	if err != nil {
		return 0, 0, fmt.Errorf("store: count tags: %w", err)
	}
	defer rows.Close()

	inCart, paid := 0, 0
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return 0, 0, fmt.Errorf("store: count tags: %w", err)
		}
		switch state {
		case StateInCart:
			inCart = n
		case StatePaid:
			paid = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("store: count tags: %w", err)
	}
	return inCart, paid, nil
}

// canonicalQR is the store-boundary form of a QR code: trimmed, uppercased.
func canonicalQR(qr string) string {
	return strings.ToUpper(strings.TrimSpace(qr))
}
