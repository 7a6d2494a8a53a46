package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/store"
)

// exportLimit caps a CSV export. Anything bigger belongs in a reporting
// system, not an edge box download.
const exportLimit = 10000

type alarmItem struct {
	ID        int64    `json:"id"`
	GateID    string   `json:"gate_id"`
	EPC       string   `json:"epc"`
	QRCode    string   `json:"qr_code"`
	RSSI      *float64 `json:"rssi"`
	Antenna   *int     `json:"antenna"`
	CreatedAt string   `json:"created_at"`
}

func alarmFromEvent(ev store.AlarmEvent) alarmItem {
	return alarmItem{
		ID:        ev.ID,
		GateID:    ev.GateID,
		EPC:       ev.EPC,
		QRCode:    ev.QRCode,
		RSSI:      ev.RSSI,
		Antenna:   ev.Antenna,
		CreatedAt: time.Unix(ev.CreatedAt, 0).UTC().Format(time.RFC3339),
	}
}

// parseDay turns a YYYY-MM-DD query value into a UTC midnight timestamp.
// Unparseable values are treated as absent, matching the lenient filter
// the dashboard relies on.
func parseDay(v string) *int64 {
	if v == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil
	}
	ts := t.Unix()
	return &ts
}

func intQuery(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intQuery(q, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intQuery(q, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page < 1 {
		writeError(w, http.StatusBadRequest, "page must be >= 1")
		return
	}
	if limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	from := parseDay(q.Get("from"))
	to := parseDay(q.Get("to"))
	if to != nil {
		*to += 86400 - 1 // inclusive end of day
	}

	events, total, err := s.audit.Query(r.Context(), from, to, page, limit)
	if err != nil {
		writeControlError(w, err)
		return
	}

	items := make([]alarmItem, 0, len(events))
	for _, ev := range events {
		items = append(items, alarmFromEvent(ev))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) handleExportAlarms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := parseDay(q.Get("from"))
	to := parseDay(q.Get("to"))
	if to != nil {
		*to += 86400 - 1
	}

	events, _, err := s.audit.Query(r.Context(), from, to, 1, exportLimit)
	if err != nil {
		writeControlError(w, err)
		return
	}

	fromName := q.Get("from")
	if fromName == "" {
		fromName = "all"
	}
	toName := q.Get("to")
	if toName == "" {
		toName = "now"
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="alarms_%s_%s.csv"`, fromName, toName))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ID", "Gate ID", "EPC", "QR Code", "RSSI", "Antenna", "Created At"})
	for _, ev := range events {
		rssi := ""
		if ev.RSSI != nil {
			rssi = strconv.FormatFloat(*ev.RSSI, 'f', -1, 64)
		}
		antenna := ""
		if ev.Antenna != nil {
			antenna = strconv.Itoa(*ev.Antenna)
		}
		_ = cw.Write([]string{
			strconv.FormatInt(ev.ID, 10),
			ev.GateID,
			ev.EPC,
			ev.QRCode,
			rssi,
			antenna,
			time.Unix(ev.CreatedAt, 0).UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.WithError(err).Error("write alarm export")
	}
}
