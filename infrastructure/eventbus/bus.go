// Package eventbus implements the in-process EventBus contract (§6):
// fire-and-forget publish, at-least-once delivery to subscribers, with
// best-effort ordering preserved within a single conversationID. The
// delivery model is adapted from infrastructure/tracking's Tracker/Reporter
// fan-out: each event is handed to every subscriber. Events sharing a
// conversationID acquire a per-conversation lock before delivery so two
// concurrent Publish calls for the same conversation never interleave.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/archie-dev/archie/domain/event"
)

// Bus is the concrete in-process event.Bus implementation.
type Bus struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []event.Subscriber

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// Subscribe registers s to receive every subsequently published event.
func (b *Bus) Subscribe(s event.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish hands e to every subscriber, fire-and-forget. Events with a
// non-zero ConversationID are serialized relative to other events for that
// same conversation by acquiring a per-conversation lock before delivery;
// events with ConversationID == 0 (e.g. repository-scoped events) are
// delivered concurrently with no ordering guarantee between them.
func (b *Bus) Publish(ctx context.Context, e event.Event) {
	if e.ConversationID == 0 {
		go b.deliver(ctx, e)
		return
	}

	lock := b.lockFor(e.ConversationID)
	go func() {
		lock.Lock()
		defer lock.Unlock()
		b.deliver(context.Background(), e)
	}()
}

func (b *Bus) lockFor(conversationID int64) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()

	lock, ok := b.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[conversationID] = lock
	}
	return lock
}

func (b *Bus) deliver(ctx context.Context, e event.Event) {
	b.mu.RLock()
	subscribers := make([]event.Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subscribers {
		if err := sub.OnEvent(ctx, e); err != nil {
			b.logger.Error("event subscriber failed",
				slog.String("event", string(e.Name)),
				slog.String("error", err.Error()),
			)
		}
	}
}
