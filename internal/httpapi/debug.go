package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/nextwaves/rfid-edge/internal/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, _, err := s.tags.Counts(r.Context()); err != nil {
		dbOK = false
	}
	connected := s.gw.Connected()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                     connected && dbOK,
		"mqtt_connected":         connected,
		"db_ok":                  dbOK,
		"gate_last_seen_seconds": s.gw.GateLastSeenSeconds(),
		"uptime_seconds":         int(s.now().Sub(s.started).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	inCart, paid, err := s.tags.Counts(r.Context())
	if err != nil {
		writeControlError(w, err)
		return
	}
	alarms, err := s.audit.CountLast(r.Context(), 24*time.Hour)
	if err != nil {
		writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"in_cart_count":   inCart,
		"paid_count":      paid,
		"alarms_last_24h": alarms,
	})
}

func (s *Server) handleCleanupStatus(w http.ResponseWriter, r *http.Request) {
	ttl := s.cfg.Current().TTL
	writeJSON(w, http.StatusOK, map[string]any{
		"cleanup_running":          s.janitor.Running(),
		"cleanup_interval_seconds": ttl.CleanupIntervalSeconds,
		"in_cart_ttl_seconds":      ttl.InCartSeconds,
		"paid_ttl_seconds":         ttl.PaidSeconds,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n, err := intQuery(r.URL.Query(), "lines", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if n < 1 {
		n = 100
	}
	if n > 500 {
		n = 500
	}

	path := s.cfg.Current().Log.File
	lines, total, err := logging.Tail(path, n)
	switch {
	case os.IsNotExist(err):
		writeJSON(w, http.StatusOK, map[string]any{
			"log_path": path,
			"exists":   false,
			"lines":    []string{},
		})
	case err != nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"log_path": path,
			"exists":   true,
			"error":    err.Error(),
			"lines":    []string{},
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"log_path":    path,
			"exists":      true,
			"total_lines": total,
			"lines":       lines,
		})
	}
}
