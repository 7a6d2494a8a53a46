// Package decision holds the gate's PASS/ALARM policy. Every detection the
// reader streams lands here exactly once; the engine debounces repeated
// reads of the same EPC, matches the decoded QR against the tag store and
// throttles repeated alarms with a per-EPC cooldown.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/epc"
	"github.com/nextwaves/rfid-edge/internal/store"
)

// Decision is the verdict for one detection.
type Decision string

const (
	Pass  Decision = "PASS"
	Alarm Decision = "ALARM"
)

// Reasons attached to decisions. The dashboard and the audit trail key off
// these strings, so they are part of the wire contract.
const (
	ReasonDebounced        = "debounced"
	ReasonQRNotFound       = "qr_not_found"
	ReasonPaid             = "paid"
	ReasonInCartAllowed    = "in_cart_allowed"
	ReasonInCartNotAllowed = "in_cart_not_allowed"
	ReasonAlarmCooldown    = "alarm_cooldown"
	ReasonUnknownState     = "unknown_state"
)

// Result is the outcome of one Decide call. QR is empty for debounced
// detections, which never reach the decode stage.
type Result struct {
	Decision Decision
	Reason   string
	QR       string
}

// Policy is the decision-relevant slice of configuration, captured per call
// so a hot reload applies from the next detection on.
type Policy struct {
	DebounceMS      int64
	AlarmCooldownMS int64
	PassWhenInCart  bool
}

// TagReader is the store lookup the engine needs.
type TagReader interface {
	Get(ctx context.Context, qr string) (store.TagState, bool, error)
}

// AlarmAppender persists an alarm event before the decision is returned.
type AlarmAppender interface {
	Append(ctx context.Context, gateID, epc, qrCode string, rssi *float64, antenna *int) (int64, error)
}

// Engine owns the debounce and cooldown tables. A single mutex serialises
// Decide and EvictOlderThan; the tables are never touched elsewhere.
type Engine struct {
	tags   TagReader
	audit  AlarmAppender
	policy func() Policy

	mu        sync.Mutex
	lastSeen  map[string]int64
	lastAlarm map[string]int64

	nowMS func() int64
}

func New(tags TagReader, audit AlarmAppender, policy func() Policy) *Engine {
	return &Engine{
		tags:      tags,
		audit:     audit,
		policy:    policy,
		lastSeen:  make(map[string]int64),
		lastAlarm: make(map[string]int64),
		nowMS:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Decide runs the full policy for one detection: debounce, decode, lookup,
// classify, cooldown. A returned error means a storage failure; the caller
// drops the detection and the tables keep whatever was recorded up to the
// failure, matching a crash at the same point.
func (e *Engine) Decide(ctx context.Context, epcHex, gateID string, rssi *float64, antenna *int) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pol := e.policy()
	now := e.nowMS()

	// Debounce by raw EPC so duplicate reads never pay for a decode. The
	// entry is refreshed only when the detection passes through.
	if last, ok := e.lastSeen[epcHex]; ok && now-last < pol.DebounceMS {
		log.WithField("epc", epcHex).Debug("detection debounced")
		return Result{Decision: Pass, Reason: ReasonDebounced}, nil
	}
	e.lastSeen[epcHex] = now

	qr := epc.Decode(epcHex)

	row, found, err := e.tags.Get(ctx, qr)
	if err != nil {
		return Result{}, fmt.Errorf("decision: look up %q: %w", qr, err)
	}
	if !found {
		return e.candidateAlarm(ctx, now, pol, epcHex, gateID, qr, ReasonQRNotFound, rssi, antenna)
	}

	switch row.State {
	case store.StatePaid:
		log.WithFields(log.Fields{"qr": qr, "epc": epcHex, "gate": gateID}).Info("PASS: paid")
		return Result{Decision: Pass, Reason: ReasonPaid, QR: qr}, nil
	case store.StateInCart:
		if pol.PassWhenInCart {
			log.WithFields(log.Fields{"qr": qr, "epc": epcHex, "gate": gateID}).Info("PASS: in cart")
			return Result{Decision: Pass, Reason: ReasonInCartAllowed, QR: qr}, nil
		}
		return e.candidateAlarm(ctx, now, pol, epcHex, gateID, qr, ReasonInCartNotAllowed, rssi, antenna)
	}

	log.WithFields(log.Fields{"qr": qr, "state": row.State}).Error("unknown tag state")
	return Result{Decision: Alarm, Reason: ReasonUnknownState, QR: qr}, nil
}

// candidateAlarm applies the cooldown window and, when the alarm goes
// through, appends the audit row before returning. The append is durable
// before any pulse or broadcast happens downstream.
func (e *Engine) candidateAlarm(ctx context.Context, now int64, pol Policy, epcHex, gateID, qr, reason string, rssi *float64, antenna *int) (Result, error) {
	if last, ok := e.lastAlarm[epcHex]; ok && now-last < pol.AlarmCooldownMS {
		log.WithFields(log.Fields{"epc": epcHex, "qr": qr}).Debug("alarm suppressed by cooldown")
		return Result{Decision: Pass, Reason: ReasonAlarmCooldown, QR: qr}, nil
	}
	e.lastAlarm[epcHex] = now

	if _, err := e.audit.Append(ctx, gateID, epcHex, qr, rssi, antenna); err != nil {
		return Result{}, fmt.Errorf("decision: append alarm event: %w", err)
	}

	log.WithFields(log.Fields{"qr": qr, "epc": epcHex, "gate": gateID, "reason": reason}).Warn("ALARM")
	return Result{Decision: Alarm, Reason: reason, QR: qr}, nil
}

// EvictOlderThan drops debounce and cooldown entries older than maxAge. The
// janitor calls this after each sweep; losing an entry at worst re-extends
// one debounce window.
func (e *Engine) EvictOlderThan(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.nowMS() - maxAge.Milliseconds()
	removed := 0
	for _, table := range []map[string]int64{e.lastSeen, e.lastAlarm} {
		for k, v := range table {
			if v < cutoff {
				delete(table, k)
				removed++
			}
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("evicted stale decision entries")
	}
	return removed
}
