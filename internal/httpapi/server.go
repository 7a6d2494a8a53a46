// Package httpapi is the control-plane HTTP surface: POS registration,
// calibration commands, alarm history, configuration, health and the live
// event WebSocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/bus"
	"github.com/nextwaves/rfid-edge/internal/config"
	"github.com/nextwaves/rfid-edge/internal/control"
	"github.com/nextwaves/rfid-edge/internal/janitor"
	"github.com/nextwaves/rfid-edge/internal/metrics"
	"github.com/nextwaves/rfid-edge/internal/store"
)

// gatewayStatus is the slice of the reader gateway the health endpoint
// reports on.
type gatewayStatus interface {
	Connected() bool
	GateLastSeenSeconds() *int
}

// Server holds the handler dependencies. Build the handler tree with
// Handler(); the caller owns the http.Server around it.
type Server struct {
	cfg     *config.Manager
	plane   *control.Plane
	tags    *store.Store
	audit   *store.AuditLog
	bus     *bus.Bus
	gw      gatewayStatus
	janitor *janitor.Janitor
	metrics *metrics.Metrics

	started time.Time
	now     func() time.Time
}

func New(cfg *config.Manager, plane *control.Plane, tags *store.Store, audit *store.AuditLog,
	b *bus.Bus, gw gatewayStatus, jan *janitor.Janitor, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		plane:   plane,
		tags:    tags,
		audit:   audit,
		bus:     b,
		gw:      gw,
		janitor: jan,
		metrics: m,
		started: time.Now(),
		now:     time.Now,
	}
}

// Handler assembles the route tree wrapped in the middleware chain:
// recovery, access log, CORS, and token auth on /v1 only.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/tags/in-cart", s.handleRegisterInCart).Methods(http.MethodPost)
	v1.HandleFunc("/tags/paid", s.handleRegisterPaid).Methods(http.MethodPost)
	v1.HandleFunc("/tags/remove", s.handleRemoveTags).Methods(http.MethodPost)
	v1.HandleFunc("/tags/lookup", s.handleLookupTag).Methods(http.MethodGet)

	v1.HandleFunc("/calibration/start", s.handleStartInventory).Methods(http.MethodPost)
	v1.HandleFunc("/calibration/stop", s.handleStopInventory).Methods(http.MethodPost)
	v1.HandleFunc("/calibration/test-alarm", s.handleTestAlarm).Methods(http.MethodPost)
	v1.HandleFunc("/calibration/power", s.handleSetPower).Methods(http.MethodPost)
	v1.HandleFunc("/calibration/power", s.handleGetPower).Methods(http.MethodGet)
	v1.HandleFunc("/calibration/status", s.handleReaderStatus).Methods(http.MethodGet)

	v1.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPut)
	v1.HandleFunc("/config/reload", s.handleReloadConfig).Methods(http.MethodPost)

	v1.HandleFunc("/alarms", s.handleListAlarms).Methods(http.MethodGet)
	v1.HandleFunc("/alarms/export", s.handleExportAlarms).Methods(http.MethodGet)

	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/debug/cleanup", s.handleCleanupStatus).Methods(http.MethodGet)
	v1.HandleFunc("/debug/logs", s.handleLogs).Methods(http.MethodGet)

	if dir := s.cfg.Current().HTTP.StaticDir; dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			r.PathPrefix("/").Handler(http.FileServer(http.Dir(dir)))
			log.WithField("dir", dir).Info("serving static dashboard")
		} else {
			log.WithField("dir", dir).Warn("static dir not found, dashboard disabled")
		}
	}

	// Outermost first, so recovery also covers the other middleware and
	// CORS applies to unmatched routes and preflights.
	return recoverMiddleware(accessLogMiddleware(corsMiddleware(r)))
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(log.Fields{"panic": rec, "path": r.URL.Path}).Error("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Edge-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := s.cfg.Current().Auth
		if auth.Enabled && r.Header.Get("X-Edge-Token") != auth.Token {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("encode response")
	}
}

// writeError emits the {"detail": ...} error body every endpoint uses.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeControlError maps control-plane failures onto status codes.
func writeControlError(w http.ResponseWriter, err error) {
	var verr *control.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, control.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, "transport unavailable")
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
