// ABOUTME: In-process change-feed broker with per-conversation fan-out
// ABOUTME: Publishes inserted messages to all subscribers of a conversation id

package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/marketfold/chatlink/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	// Events queue here while the owning session is suspended on a store call.
	subscriberBufferSize = 64
)

// Broker is the in-process implementation of the change-feed capability.
// Subscribers register for one conversation id and receive insert events as
// messages are persisted. Delivery is filtered at the broker, so a
// subscriber only ever sees rows for its own conversation.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // conversationID -> subID -> ch
	logger      *slog.Logger
	closed      bool
}

// NewBroker creates a broker. Pass nil logger for default.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers a subscriber for insert events on the given
// conversation. The returned channel first yields a StatusSubscribed
// lifecycle event, then row events in publish order. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, conversationID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch <- Event{Status: StatusError}
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	// Acknowledge before any rows. Buffered channel, never blocks here.
	ch <- Event{Status: StatusSubscribed}

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an inserted message to all subscribers of its conversation.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broker) Publish(conversationID string, msg *store.Message) {
	b.mu.RLock()
	subs, ok := b.subscribers[conversationID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- Event{Row: msg}:
			// Sent
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", conversationID,
				"message_id", msg.ID)
		}
	}
}

// Fail pushes a StatusError lifecycle event to every subscriber of the
// conversation without removing the subscriptions. Used when the backing
// resource reports a fault; subscribers decide whether to re-attach.
func (b *Broker) Fail(conversationID string, err error) {
	b.mu.RLock()
	subs := b.subscribers[conversationID]
	targets := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- Event{Status: StatusError, Err: err}:
		default:
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Close shuts down the broker and closes all subscriber channels.
// Subsequent Subscribe calls yield an immediate StatusError event.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broker closed")
}
