package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashita-ai/ruikei/internal/model"
)

// SSE event names sent by the broker.
const (
	EventReviewQueued = "review_queued"
	EventReviewClosed = "review_resolved"
)

// Broker fans out review lifecycle events to SSE subscribers. It is fed
// in-process by the reconcile engine's review hook and by the resolve
// handler.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// ReviewQueued publishes a newly queued review. Its signature matches
// reconcile.ReviewHook.
func (b *Broker) ReviewQueued(_ context.Context, r model.Review) {
	b.publish(EventReviewQueued, r)
}

// ReviewResolved publishes a review that an operator has closed.
func (b *Broker) ReviewResolved(r model.Review) {
	b.publish(EventReviewClosed, r)
}

func (b *Broker) publish(eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("broker: marshal event", "event", eventType, "error", err)
		return
	}
	b.broadcast(formatSSE(eventType, string(data)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of connected subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("broker: subscriber buffer full, event dropped")
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
