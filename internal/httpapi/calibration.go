package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextwaves/rfid-edge/internal/control"
)

func calibrationOK(message string) map[string]any {
	return map[string]any{"ok": true, "message": message}
}

func (s *Server) handleStartInventory(w http.ResponseWriter, r *http.Request) {
	if err := s.plane.StartInventory(); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calibrationOK("Inventory scan started"))
}

func (s *Server) handleStopInventory(w http.ResponseWriter, r *http.Request) {
	if err := s.plane.StopInventory(); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calibrationOK("Inventory scan stopped"))
}

func (s *Server) handleTestAlarm(w http.ResponseWriter, r *http.Request) {
	duration, err := s.plane.TriggerTestPulse()
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calibrationOK(fmt.Sprintf("Test alarm triggered (%ds pulse)", duration)))
}

func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	// Absent fields keep the factory profile, mirroring how installers
	// usually adjust one antenna at a time.
	req := control.DefaultPower()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.plane.SetPower(req); err != nil {
		writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, calibrationOK(fmt.Sprintf(
		"Antenna power set: %d/%d/%d/%d dBm",
		req.Antenna1, req.Antenna2, req.Antenna3, req.Antenna4,
	)))
}

func (s *Server) handleGetPower(w http.ResponseWriter, r *http.Request) {
	if err := s.plane.GetPower(); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calibrationOK("Antenna power query sent. Response will arrive via WebSocket."))
}

func (s *Server) handleReaderStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.plane.QueryReaderStatus()
	if err != nil {
		writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                     true,
		"mqtt_connected":         snap.MQTTConnected,
		"last_response":          snap.LastResponse,
		"last_reader_status":     snap.LastReaderStatus,
		"gate_last_seen_seconds": snap.GateLastSeenSeconds,
	})
}
