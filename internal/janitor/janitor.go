// Package janitor runs the periodic TTL sweep: expired tag rows leave the
// store and stale debounce entries leave the decision engine.
package janitor

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/config"
)

const (
	// engineMaxAge is the eviction horizon for debounce and cooldown
	// entries. Far beyond any sane window, so eviction can never cut a
	// live one short.
	engineMaxAge = time.Hour

	// errorCoolOff delays the next attempt after a failed sweep.
	errorCoolOff = 10 * time.Second
)

type sweeper interface {
	Cleanup(ctx context.Context) (int64, error)
}

type evictor interface {
	EvictOlderThan(maxAge time.Duration) int
}

// Janitor owns the background sweep loop.
type Janitor struct {
	cfg    *config.Manager
	store  sweeper
	engine evictor

	running atomic.Bool
}

func New(cfg *config.Manager, store sweeper, engine evictor) *Janitor {
	return &Janitor{cfg: cfg, store: store, engine: engine}
}

// Running reports whether the sweep loop is alive, for the stats endpoint.
func (j *Janitor) Running() bool { return j.running.Load() }

// Run sweeps immediately, then keeps sweeping at the configured interval
// until ctx is cancelled. The interval is re-read every cycle so a config
// reload applies without restart. A failed sweep backs off for 10 s and the
// loop carries on.
func (j *Janitor) Run(ctx context.Context) {
	j.running.Store(true)
	defer j.running.Store(false)

	log.Info("ttl cleanup service started")
	for {
		wait := time.Duration(j.cfg.Current().TTL.CleanupIntervalSeconds) * time.Second
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("ttl cleanup failed")
			wait = errorCoolOff
		}

		select {
		case <-ctx.Done():
			log.Info("ttl cleanup service stopped")
			return
		case <-time.After(wait):
		}
	}
}

// Sweep removes expired store rows and evicts stale engine entries once.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	deleted, err := j.store.Cleanup(ctx)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("ttl cleanup removed expired tags")
	}
	j.engine.EvictOlderThan(engineMaxAge)
	return deleted, nil
}
