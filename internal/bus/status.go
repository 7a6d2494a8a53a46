package bus

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const statusInterval = 5 * time.Second

// RunStatusLoop broadcasts a STATUS_UPDATE frame every five seconds while
// at least one subscriber is attached. connected reports the broker link;
// counts reads the live tag totals. Blocks until ctx is cancelled.
func (b *Bus) RunStatusLoop(ctx context.Context, connected func() bool, counts func(context.Context) (int, int, error)) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.emitStatus(ctx, connected, counts)
		}
	}
}

func (b *Bus) emitStatus(ctx context.Context, connected func() bool, counts func(context.Context) (int, int, error)) {
	if b.SubscriberCount() == 0 {
		return
	}
	inCart, paid, err := counts(ctx)
	if err != nil {
		log.WithError(err).Error("status update: count tags")
		return
	}
	b.Broadcast(NewStatusUpdate(connected(), inCart, paid))
}
