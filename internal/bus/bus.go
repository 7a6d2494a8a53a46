// Package bus fans events out to every live dashboard subscriber. The
// gateway pipeline publishes decisions and reader traffic here; the
// WebSocket layer attaches one subscriber per connection and drains its
// buffered channel from the write pump.
package bus

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// sendBuffer is the per-subscriber queue. A subscriber that lets it fill is
// pruned rather than allowed to stall the pipeline.
const sendBuffer = 64

// Subscriber is one attached sink. Events() yields marshalled frames in
// broadcast order; the channel closes when the subscriber is detached.
type Subscriber struct {
	id   string
	send chan []byte
}

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) Events() <-chan []byte { return s.send }

// Bus owns the subscriber set. Registry mutations and broadcast pruning are
// serialised by the mutex; everything else is lock-free for callers.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe attaches a new sink and returns it.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	total := len(b.subs)
	b.mu.Unlock()

	log.WithFields(log.Fields{"subscriber": sub.id, "total": total}).Info("event subscriber attached")
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call more than
// once; the prune path and the WebSocket pump both end up here.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, present := b.subs[sub]
	if present {
		delete(b.subs, sub)
		close(sub.send)
	}
	total := len(b.subs)
	b.mu.Unlock()

	if present {
		log.WithFields(log.Fields{"subscriber": sub.id, "total": total}).Info("event subscriber detached")
	}
}

// Broadcast marshals event once and offers it to every subscriber. A
// subscriber whose buffer is full is detached on the spot.
func (b *Bus) Broadcast(event any) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("marshal broadcast event")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.send <- frame:
		default:
			delete(b.subs, sub)
			close(sub.send)
			log.WithField("subscriber", sub.id).Warn("subscriber too slow, detached")
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber. Called once at shutdown after the
// producers have stopped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.send)
	}
}
