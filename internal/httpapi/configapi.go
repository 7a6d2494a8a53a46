package httpapi

import (
	"encoding/json"
	"net/http"
)

// configUpdateRequest carries the sections present in a PUT body. Raw
// messages are unmarshalled over a copy of the current section, so absent
// fields keep their values.
type configUpdateRequest struct {
	HTTP     *json.RawMessage `json:"http"`
	MQTT     *json.RawMessage `json:"mqtt"`
	Gate     *json.RawMessage `json:"gate"`
	TTL      *json.RawMessage `json:"ttl"`
	Decision *json.RawMessage `json:"decision"`
	Storage  *json.RawMessage `json:"storage"`
	Log      *json.RawMessage `json:"log"`
	Auth     *json.RawMessage `json:"auth"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"config": s.cfg.Current().Masked(),
	})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next := *s.cfg.Current()
	for _, sec := range []struct {
		raw *json.RawMessage
		dst any
	}{
		{req.HTTP, &next.HTTP},
		{req.MQTT, &next.MQTT},
		{req.Gate, &next.Gate},
		{req.TTL, &next.TTL},
		{req.Decision, &next.Decision},
		{req.Storage, &next.Storage},
		{req.Log, &next.Log},
		{req.Auth, &next.Auth},
	} {
		if sec.raw == nil {
			continue
		}
		if err := json.Unmarshal(*sec.raw, sec.dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid configuration: "+err.Error())
			return
		}
	}

	updated, err := s.cfg.Update(next)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"config": updated.Masked(),
	})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cfg.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Configuration reloaded successfully",
	})
}
