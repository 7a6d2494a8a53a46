package httpapi

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedAlarms appends three audit rows and returns their ids in insert order.
func seedAlarms(t *testing.T, h *harness) []int64 {
	t.Helper()
	ctx := context.Background()

	rssi1, ant1 := -52.5, 2
	id1, err := h.audit.Append(ctx, "gate-1", "A0B0C01111", "AB1111", &rssi1, &ant1)
	require.NoError(t, err)

	id2, err := h.audit.Append(ctx, "gate-1", "A0B0C02222", "", nil, nil)
	require.NoError(t, err)

	rssi3 := -61.0
	id3, err := h.audit.Append(ctx, "gate-2", "A0B0C03333", "AB3333", &rssi3, nil)
	require.NoError(t, err)

	return []int64{id1, id2, id3}
}

func TestListAlarmsNewestFirst(t *testing.T) {
	h := newHarness(t)
	ids := seedAlarms(t, h)

	rec := h.do(http.MethodGet, "/v1/alarms", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, 3.0, body["total"])
	assert.Equal(t, 1.0, body["page"])
	assert.Equal(t, 50.0, body["limit"])

	items := body["items"].([]any)
	require.Len(t, items, 3)

	first := items[0].(map[string]any)
	assert.Equal(t, float64(ids[2]), first["id"])
	assert.Equal(t, "gate-2", first["gate_id"])
	assert.Equal(t, "A0B0C03333", first["epc"])
	assert.Equal(t, "AB3333", first["qr_code"])
	assert.Equal(t, -61.0, first["rssi"])
	assert.Nil(t, first["antenna"])

	created, err := time.Parse(time.RFC3339, first["created_at"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), created, time.Minute)

	second := items[1].(map[string]any)
	assert.Equal(t, float64(ids[1]), second["id"])
	assert.Nil(t, second["rssi"])

	third := items[2].(map[string]any)
	assert.Equal(t, float64(ids[0]), third["id"])
	assert.Equal(t, -52.5, third["rssi"])
	assert.Equal(t, 2.0, third["antenna"])
}

func TestListAlarmsPagination(t *testing.T) {
	h := newHarness(t)
	ids := seedAlarms(t, h)

	body := decodeBody(t, h.do(http.MethodGet, "/v1/alarms?page=2&limit=2", nil))
	assert.Equal(t, 3.0, body["total"])
	assert.Equal(t, 2.0, body["page"])
	assert.Equal(t, 2.0, body["limit"])

	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(ids[0]), items[0].(map[string]any)["id"])
}

func TestListAlarmsValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		query  string
		detail string
	}{
		{"page=0", "page must be >= 1"},
		{"limit=0", "limit must be between 1 and 100"},
		{"limit=101", "limit must be between 1 and 100"},
		{"page=abc", "page must be an integer"},
		{"limit=abc", "limit must be an integer"},
	}
	for _, c := range cases {
		rec := h.do(http.MethodGet, "/v1/alarms?"+c.query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, c.query)
		assert.Equal(t, c.detail, decodeBody(t, rec)["detail"], c.query)
	}
}

func TestListAlarmsDateFilters(t *testing.T) {
	h := newHarness(t)
	seedAlarms(t, h)

	body := decodeBody(t, h.do(http.MethodGet, "/v1/alarms?from=1970-01-01", nil))
	assert.Equal(t, 3.0, body["total"])

	body = decodeBody(t, h.do(http.MethodGet, "/v1/alarms?to=1999-12-31", nil))
	assert.Equal(t, 0.0, body["total"])
	assert.Empty(t, body["items"])

	body = decodeBody(t, h.do(http.MethodGet, "/v1/alarms?from=2099-01-01", nil))
	assert.Equal(t, 0.0, body["total"])

	// Unparseable dates are ignored rather than rejected.
	body = decodeBody(t, h.do(http.MethodGet, "/v1/alarms?from=notadate", nil))
	assert.Equal(t, 3.0, body["total"])

	// An inclusive end of day covers rows written moments ago.
	today := time.Now().UTC().Format("2006-01-02")
	body = decodeBody(t, h.do(http.MethodGet, "/v1/alarms?to="+today, nil))
	assert.Equal(t, 3.0, body["total"])
}

func TestExportAlarmsCSV(t *testing.T) {
	h := newHarness(t)
	seedAlarms(t, h)

	rec := h.do(http.MethodGet, "/v1/alarms/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, `attachment; filename="alarms_all_now.csv"`, rec.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"ID", "Gate ID", "EPC", "QR Code", "RSSI", "Antenna", "Created At"}, records[0])

	// Rows mirror the list ordering, newest first.
	assert.Equal(t, "gate-2", records[1][1])
	assert.Equal(t, "-61", records[1][4])
	assert.Equal(t, "", records[1][5])

	assert.Equal(t, "A0B0C02222", records[2][2])
	assert.Equal(t, "", records[2][3])
	assert.Equal(t, "", records[2][4])

	assert.Equal(t, "-52.5", records[3][4])
	assert.Equal(t, "2", records[3][5])

	for _, row := range records[1:] {
		_, err := time.Parse(time.RFC3339, row[6])
		assert.NoError(t, err)
	}
}

func TestExportAlarmsCSVWithWindow(t *testing.T) {
	h := newHarness(t)
	seedAlarms(t, h)

	rec := h.do(http.MethodGet, "/v1/alarms/export?from=1970-01-01&to=1999-12-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		fmt.Sprintf("attachment; filename=%q", "alarms_1970-01-01_1999-12-31.csv"),
		rec.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}
