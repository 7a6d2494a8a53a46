package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "edge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixClock pins the store clock to a known instant and returns it.
func fixClock(s *Store, sec int64) time.Time {
	at := time.Unix(sec, 0)
	s.now = func() time.Time { return at }
	return at
}

func TestUpsertInCartAndGet(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	upserted, ignored, err := s.UpsertInCart(ctx, []string{"ABC1234"}, "O1", "POS1", "S1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)
	assert.Equal(t, 0, ignored)

	ts, ok, err := s.Get(ctx, "ABC1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ABC1234", ts.QRCode)
	assert.Equal(t, StateInCart, ts.State)
	assert.Equal(t, "O1", ts.OrderID)
	assert.Equal(t, "POS1", ts.PosID)
	assert.Equal(t, "S1", ts.StoreID)
	assert.Equal(t, int64(1_000_000), ts.UpdatedAt)
	assert.Equal(t, int64(1_003_600), ts.ExpiresAt)
}

func TestGetCanonicalisesQR(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"  abc1234 "}, "O1", "P1", "S1", 60)
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "abc1234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaidSupersedesInCart(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"X"}, "O1", "P1", "S1", 3600)
	require.NoError(t, err)

	n, err := s.UpsertPaid(ctx, []string{"X"}, "O1", "P1", "S1", 86400)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ts, ok, err := s.Get(ctx, "X")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatePaid, ts.State)
}

func TestInCartDoesNotOverwritePaid(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, err := s.UpsertPaid(ctx, []string{"X"}, "O1", "P1", "S1", 86400)
	require.NoError(t, err)

	upserted, ignored, err := s.UpsertInCart(ctx, []string{"X"}, "O2", "P1", "S1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 0, upserted)
	assert.Equal(t, 1, ignored)

	ts, ok, err := s.Get(ctx, "X")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatePaid, ts.State)
	assert.Equal(t, "O1", ts.OrderID)
}

func TestInCartOverwritesExpiredPaid(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, err := s.UpsertPaid(ctx, []string{"X"}, "O1", "P1", "S1", 100)
	require.NoError(t, err)

	// Past the PAID row's expiry it no longer blocks the cart write.
	fixClock(s, 1_000_200)
	upserted, ignored, err := s.UpsertInCart(ctx, []string{"X"}, "O2", "P1", "S1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)
	assert.Equal(t, 0, ignored)

	ts, ok, err := s.Get(ctx, "X")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateInCart, ts.State)
}

func TestRepeatedInCartRefreshesExpiry(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"X"}, "O1", "P1", "S1", 3600)
	require.NoError(t, err)

	fixClock(s, 1_000_010)
	upserted, _, err := s.UpsertInCart(ctx, []string{"X"}, "O1", "P1", "S1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)

	ts, ok, err := s.Get(ctx, "X")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1_003_610), ts.ExpiresAt)
}

func TestExpiredRowIsAbsent(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"X"}, "O1", "P1", "S1", 60)
	require.NoError(t, err)

	fixClock(s, 1_000_061)
	_, ok, err := s.Get(ctx, "X")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveScopedByOrder(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"A", "B"}, "O1", "P1", "S1", 3600)
	require.NoError(t, err)
	_, _, err = s.UpsertInCart(ctx, []string{"C"}, "O2", "P1", "S1", 3600)
	require.NoError(t, err)

	// Scoped remove only touches O1 rows even though C is in the batch.
	deleted, err := s.Remove(ctx, []string{"A", "C"}, "O1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, err := s.Get(ctx, "C")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err = s.Remove(ctx, []string{"B", "C"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestRemoveEmptyBatch(t *testing.T) {
	s := newTestStore(t)
	deleted, err := s.Remove(context.Background(), []string{"", "  "}, "")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupDeletesOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"OLD"}, "O1", "P1", "S1", 60)
	require.NoError(t, err)
	_, err = s.UpsertPaid(ctx, []string{"FRESH"}, "O1", "P1", "S1", 86400)
	require.NoError(t, err)

	fixClock(s, 1_000_100)
	deleted, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, err := s.Get(ctx, "OLD")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get(ctx, "FRESH")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCountsSkipExpired(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	_, _, err := s.UpsertInCart(ctx, []string{"A", "B"}, "O1", "P1", "S1", 3600)
	require.NoError(t, err)
	_, err = s.UpsertPaid(ctx, []string{"C"}, "O1", "P1", "S1", 60)
	require.NoError(t, err)

	inCart, paid, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inCart)
	assert.Equal(t, 1, paid)

	fixClock(s, 1_000_100)
	inCart, paid, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inCart)
	assert.Equal(t, 0, paid)
}

func TestBatchSkipsEmptyQRs(t *testing.T) {
	s := newTestStore(t)
	fixClock(s, 1_000_000)
	ctx := context.Background()

	upserted, _, err := s.UpsertInCart(ctx, []string{"", "A", "   "}, "O1", "P1", "S1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)
}
