// Package control implements the command surface behind the HTTP layer: POS
// registrations against the tag store and calibration commands against the
// reader gateway.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/config"
	"github.com/nextwaves/rfid-edge/internal/epc"
	"github.com/nextwaves/rfid-edge/internal/store"
)

// ErrTransportUnavailable is returned by reader commands while the broker
// connection is down. The HTTP layer maps it to 503.
var ErrTransportUnavailable = errors.New("transport unavailable")

// ValidationError rejects a malformed request. The HTTP layer maps it to 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// TTL bounds accepted on registration requests, matching what a POS is
// allowed to ask for. Zero means the configured default.
const (
	minTTLSeconds       = 60
	maxInCartTTLSeconds = 86400
	maxPaidTTLSeconds   = 604800
)

// transport is the reader gateway surface the control plane drives.
type transport interface {
	Connected() bool
	TriggerAlarm(durationSeconds int)
	SendRFIDCommand(action string)
	SetAntennaPower(ant1, ant2, ant3, ant4 int)
	GetAntennaPower()
	QueryReaderStatus()
	LastResponse() map[string]any
	LastReaderStatus() map[string]any
	GateLastSeenSeconds() *int
}

// Plane exposes the POS and calibration operations.
type Plane struct {
	cfg  *config.Manager
	tags *store.Store
	gw   transport
	now  func() time.Time
}

func New(cfg *config.Manager, tags *store.Store, gw transport) *Plane {
	return &Plane{cfg: cfg, tags: tags, gw: gw, now: time.Now}
}

// TagBatch is one POS registration request. TTLSeconds zero applies the
// configured default for the target state.
type TagBatch struct {
	QRCodes    []string
	OrderID    string
	PosID      string
	StoreID    string
	TTLSeconds int64
}

func (b TagBatch) validate(maxTTL int64) error {
	if len(b.QRCodes) == 0 {
		return validationf("qr_codes must be a non-empty list")
	}
	if b.TTLSeconds != 0 && (b.TTLSeconds < minTTLSeconds || b.TTLSeconds > maxTTL) {
		return validationf("ttl_seconds must be between %d and %d", minTTLSeconds, maxTTL)
	}
	return nil
}

// RegisterInCart marks the batch IN_CART. Codes already PAID are left
// untouched and counted in ignoredPaid. Returns the TTL actually applied.
func (p *Plane) RegisterInCart(ctx context.Context, batch TagBatch) (upserted, ignoredPaid int, ttlApplied int64, err error) {
	if err := batch.validate(maxInCartTTLSeconds); err != nil {
		return 0, 0, 0, err
	}
	ttl := batch.TTLSeconds
	if ttl == 0 {
		ttl = p.cfg.Current().TTL.InCartSeconds
	}

	log.WithFields(log.Fields{
		"count":    len(batch.QRCodes),
		"order_id": batch.OrderID,
	}).Info("registering in-cart tags")

	upserted, ignoredPaid, err = p.tags.UpsertInCart(ctx, batch.QRCodes, batch.OrderID, batch.PosID, batch.StoreID, ttl)
	if err != nil {
		return 0, 0, 0, err
	}
	return upserted, ignoredPaid, ttl, nil
}

// RegisterPaid marks the batch PAID unconditionally, including codes still
// IN_CART from an overlapping order.
func (p *Plane) RegisterPaid(ctx context.Context, batch TagBatch) (upserted int, ttlApplied int64, err error) {
	if err := batch.validate(maxPaidTTLSeconds); err != nil {
		return 0, 0, err
	}
	ttl := batch.TTLSeconds
	if ttl == 0 {
		ttl = p.cfg.Current().TTL.PaidSeconds
	}

	log.WithFields(log.Fields{
		"count":    len(batch.QRCodes),
		"order_id": batch.OrderID,
	}).Info("registering paid tags")

	upserted, err = p.tags.UpsertPaid(ctx, batch.QRCodes, batch.OrderID, batch.PosID, batch.StoreID, ttl)
	if err != nil {
		return 0, 0, err
	}
	return upserted, ttl, nil
}

// Remove deletes the codes for a cancelled or returned order.
func (p *Plane) Remove(ctx context.Context, qrCodes []string, orderID string) (int64, error) {
	if len(qrCodes) == 0 {
		return 0, validationf("qr_codes must be a non-empty list")
	}

	log.WithFields(log.Fields{
		"count":    len(qrCodes),
		"order_id": orderID,
	}).Info("removing tags")

	return p.tags.Remove(ctx, qrCodes, orderID)
}

// LookupResult is the answer to a single-tag status query. EPC echoes the
// query parameter when the lookup came in by EPC.
type LookupResult struct {
	QRCode              string `json:"qr_code"`
	EPC                 string `json:"epc,omitempty"`
	Present             bool   `json:"present"`
	State               string `json:"state,omitempty"`
	OrderID             string `json:"order_id,omitempty"`
	PosID               string `json:"pos_id,omitempty"`
	TTLRemainingSeconds *int64 `json:"ttl_remaining_seconds,omitempty"`
}

// Lookup resolves one tag by QR code or by EPC, exactly one of which must
// be supplied. An EPC that decodes to nothing is reported absent rather
// than rejected: unknown tags at the gate are normal traffic.
func (p *Plane) Lookup(ctx context.Context, qrCode, epcHex string) (LookupResult, error) {
	if (qrCode == "") == (epcHex == "") {
		return LookupResult{}, validationf("provide exactly one of qr_code or epc")
	}

	lookup := qrCode
	if epcHex != "" {
		epcHex = epc.Normalize(epcHex)
		lookup = epc.Decode(epcHex)
		if lookup == "" {
			return LookupResult{EPC: epcHex}, nil
		}
	}

	row, found, err := p.tags.Get(ctx, lookup)
	if err != nil {
		return LookupResult{}, err
	}
	if !found {
		return LookupResult{QRCode: lookup, EPC: epcHex}, nil
	}

	remaining := row.ExpiresAt - p.now().Unix()
	if remaining < 0 {
		remaining = 0
	}
	return LookupResult{
		QRCode:              row.QRCode,
		EPC:                 epcHex,
		Present:             true,
		State:               row.State,
		OrderID:             row.OrderID,
		PosID:               row.PosID,
		TTLRemainingSeconds: &remaining,
	}, nil
}

// PowerSettings is one per-antenna transmit power assignment in dBm.
type PowerSettings struct {
	Antenna1 int `json:"antenna1"`
	Antenna2 int `json:"antenna2"`
	Antenna3 int `json:"antenna3"`
	Antenna4 int `json:"antenna4"`
}

// DefaultPower is the profile the reader ships with: strong door antennas,
// weaker floor antennas.
func DefaultPower() PowerSettings {
	return PowerSettings{Antenna1: 20, Antenna2: 20, Antenna3: 15, Antenna4: 15}
}

func (s PowerSettings) validate() error {
	for name, v := range map[string]int{
		"antenna1": s.Antenna1,
		"antenna2": s.Antenna2,
		"antenna3": s.Antenna3,
		"antenna4": s.Antenna4,
	} {
		if v < 0 || v > 30 {
			return validationf("%s must be between 0 and 30 dBm", name)
		}
	}
	return nil
}

// StartInventory begins continuous tag reading on the gate reader.
func (p *Plane) StartInventory() error {
	if !p.gw.Connected() {
		return ErrTransportUnavailable
	}
	p.gw.SendRFIDCommand("start")
	return nil
}

// StopInventory halts continuous tag reading.
func (p *Plane) StopInventory() error {
	if !p.gw.Connected() {
		return ErrTransportUnavailable
	}
	p.gw.SendRFIDCommand("stop")
	return nil
}

// TriggerTestPulse fires the alarm output with the configured pulse width
// so an installer can verify the wiring.
func (p *Plane) TriggerTestPulse() (int, error) {
	if !p.gw.Connected() {
		return 0, ErrTransportUnavailable
	}
	duration := p.cfg.Current().Gate.GPOPulseSeconds
	p.gw.TriggerAlarm(duration)
	return duration, nil
}

// SetPower applies per-antenna transmit power.
func (p *Plane) SetPower(s PowerSettings) error {
	if err := s.validate(); err != nil {
		return err
	}
	if !p.gw.Connected() {
		return ErrTransportUnavailable
	}
	p.gw.SetAntennaPower(s.Antenna1, s.Antenna2, s.Antenna3, s.Antenna4)
	return nil
}

// GetPower asks the reader for its current power levels. The reply arrives
// asynchronously as a COMMAND_RESPONSE event.
func (p *Plane) GetPower() error {
	if !p.gw.Connected() {
		return ErrTransportUnavailable
	}
	p.gw.GetAntennaPower()
	return nil
}

// ReaderSnapshot is the last-known reader state at query time.
type ReaderSnapshot struct {
	MQTTConnected       bool           `json:"mqtt_connected"`
	LastResponse        map[string]any `json:"last_response"`
	LastReaderStatus    map[string]any `json:"last_reader_status"`
	GateLastSeenSeconds *int           `json:"gate_last_seen_seconds"`
}

// QueryReaderStatus publishes a status query and returns the snapshot of
// what the reader reported so far. The fresh reply arrives asynchronously
// as a READER_STATUS event.
func (p *Plane) QueryReaderStatus() (ReaderSnapshot, error) {
	if !p.gw.Connected() {
		return ReaderSnapshot{}, ErrTransportUnavailable
	}
	p.gw.QueryReaderStatus()
	return ReaderSnapshot{
		MQTTConnected:       true,
		LastResponse:        p.gw.LastResponse(),
		LastReaderStatus:    p.gw.LastReaderStatus(),
		GateLastSeenSeconds: p.gw.GateLastSeenSeconds(),
	}, nil
}
