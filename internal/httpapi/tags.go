package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/nextwaves/rfid-edge/internal/control"
)

type tagBatchRequest struct {
	StoreID    string   `json:"store_id"`
	PosID      string   `json:"pos_id"`
	OrderID    string   `json:"order_id"`
	TTLSeconds int64    `json:"ttl_seconds"`
	QRCodes    []string `json:"qr_codes"`
}

func (r tagBatchRequest) batch() control.TagBatch {
	return control.TagBatch{
		QRCodes:    r.QRCodes,
		OrderID:    r.OrderID,
		PosID:      r.PosID,
		StoreID:    r.StoreID,
		TTLSeconds: r.TTLSeconds,
	}
}

func (s *Server) handleRegisterInCart(w http.ResponseWriter, r *http.Request) {
	var req tagBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upserted, ignored, ttl, err := s.plane.RegisterInCart(r.Context(), req.batch())
	if err != nil {
		writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"upserted":           upserted,
		"ignored_paid":       ignored,
		"expires_in_seconds": ttl,
	})
}

func (s *Server) handleRegisterPaid(w http.ResponseWriter, r *http.Request) {
	var req tagBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upserted, ttl, err := s.plane.RegisterPaid(r.Context(), req.batch())
	if err != nil {
		writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"upserted":           upserted,
		"expires_in_seconds": ttl,
	})
}

func (s *Server) handleRemoveTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string   `json:"order_id"`
		QRCodes []string `json:"qr_codes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deleted, err := s.plane.Remove(r.Context(), req.QRCodes, req.OrderID)
	if err != nil {
		writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
}

func (s *Server) handleLookupTag(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.plane.Lookup(r.Context(), q.Get("qr_code"), q.Get("epc"))
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
