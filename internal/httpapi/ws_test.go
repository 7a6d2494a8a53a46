package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextwaves/rfid-edge/internal/bus"
)

func dialWS(t *testing.T, h *harness) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(h.handler)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	kind, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var event map[string]any
	require.NoError(t, json.Unmarshal(frame, &event))
	return event
}

func TestWebSocketStreamsBusEvents(t *testing.T) {
	h := newHarness(t)
	conn, done := dialWS(t, h)
	defer done()

	require.Eventually(t, func() bool { return h.bus.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	h.bus.Broadcast(bus.NewTagDetected("QR1", "PASS", nil, nil))
	event := readEvent(t, conn)
	assert.Equal(t, "TAG_DETECTED", event["type"])
	assert.Equal(t, "QR1", event["tag_id"])
	assert.Equal(t, "PASS", event["decision"])

	rssi := -48.0
	h.bus.Broadcast(bus.NewAlarmTriggered("QR2", "gate-1", &rssi))
	event = readEvent(t, conn)
	assert.Equal(t, "ALARM_TRIGGERED", event["type"])
	assert.Equal(t, "QR2", event["tag_id"])
	assert.Equal(t, "gate-1", event["gate_id"])
	assert.Equal(t, -48.0, event["rssi"])
}

func TestWebSocketUnsubscribesOnDisconnect(t *testing.T) {
	h := newHarness(t)
	conn, done := dialWS(t, h)
	defer done()

	require.Eventually(t, func() bool { return h.bus.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.bus.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
