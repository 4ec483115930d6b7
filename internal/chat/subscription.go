// ABOUTME: Subscription manager: one live feed per open conversation
// ABOUTME: Normalizes raw feed events and guards against duplicate delivery

package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marketfold/chatlink/internal/dedupe"
	"github.com/marketfold/chatlink/internal/feed"
	"github.com/marketfold/chatlink/internal/store"
)

// Status is the connection state the manager reports to its owner on every
// feed lifecycle transition. The manager never decides whether to retry;
// that is the reconnection controller's job.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

const (
	// ackTimeout is how long an attach waits for the subscribed
	// acknowledgment before reporting a disconnect.
	ackTimeout = 10 * time.Second
	// seenCacheSize bounds the per-attach duplicate guard.
	seenCacheSize = 4096
)

// Feed is the change-feed capability the manager consumes: a filtered
// per-conversation subscription yielding lifecycle and row events.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan feed.Event, string)
	Unsubscribe(conversationID, subID string)
}

// SubscriptionManager opens live feed subscriptions for conversations.
type SubscriptionManager struct {
	feed   Feed
	logger *slog.Logger
}

// NewSubscriptionManager creates a manager. Pass nil logger for default.
func NewSubscriptionManager(f Feed, logger *slog.Logger) *SubscriptionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		feed:   f,
		logger: logger.With("component", "subscription"),
	}
}

// Attachment is one live subscription. Detach stops delivery; after Detach
// returns, no further onMessage or onStatus calls are made, including for
// events already in flight.
type Attachment struct {
	conversationID string
	subID          string
	cancel         context.CancelFunc
	unsubscribe    func()

	// cbMu serializes callbacks with Detach so "no callbacks after detach"
	// is strict, not best-effort.
	cbMu     sync.Mutex
	detached bool

	onMessage func(*store.Message)
	onStatus  func(Status)
	seen      *dedupe.Cache
}

// Attach opens a live feed for the conversation, filtered to insert events
// on that conversation only. onStatus is invoked with StatusConnecting
// immediately, then with StatusConnected on acknowledgment or
// StatusDisconnected on error/timeout. Each raw event id is delivered at
// most once per attach lifetime; replays are dropped before onMessage.
func (m *SubscriptionManager) Attach(ctx context.Context, conversationID string, onMessage func(*store.Message), onStatus func(Status)) *Attachment {
	subCtx, cancel := context.WithCancel(ctx)
	events, subID := m.feed.Subscribe(subCtx, conversationID)

	a := &Attachment{
		conversationID: conversationID,
		subID:          subID,
		cancel:         cancel,
		unsubscribe:    func() { m.feed.Unsubscribe(conversationID, subID) },
		onMessage:      onMessage,
		onStatus:       onStatus,
		seen:           dedupe.New(0, seenCacheSize),
	}

	a.emitStatus(StatusConnecting)

	go a.run(events, m.logger)

	m.logger.Debug("attached",
		"conversation_id", conversationID,
		"sub_id", subID)
	return a
}

// run consumes the event channel until it closes, the attach is detached,
// or the feed reports a fault.
func (a *Attachment) run(events <-chan feed.Event, logger *slog.Logger) {
	ack := time.NewTimer(ackTimeout)
	defer ack.Stop()
	connected := false

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Channel closed by unsubscribe; nothing left to report.
				return
			}
			switch {
			case ev.IsRow():
				if a.seen.Seen(ev.Row.ID) {
					logger.Debug("dropped duplicate event",
						"conversation_id", a.conversationID,
						"message_id", ev.Row.ID)
					continue
				}
				a.emitMessage(ev.Row)
			case ev.Status == feed.StatusSubscribed:
				connected = true
				ack.Stop()
				a.emitStatus(StatusConnected)
			case ev.Status == feed.StatusError, ev.Status == feed.StatusTimeout:
				logger.Debug("feed fault",
					"conversation_id", a.conversationID,
					"status", string(ev.Status),
					"error", ev.Err)
				a.emitStatus(StatusDisconnected)
				a.teardown()
				return
			}
		case <-ack.C:
			if !connected {
				logger.Debug("subscription ack timed out",
					"conversation_id", a.conversationID)
				a.emitStatus(StatusDisconnected)
				a.teardown()
				return
			}
		}
	}
}

// emitMessage invokes onMessage unless the attachment has been detached.
func (a *Attachment) emitMessage(msg *store.Message) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	if a.detached || a.onMessage == nil {
		return
	}
	a.onMessage(msg)
}

// emitStatus invokes onStatus unless the attachment has been detached.
func (a *Attachment) emitStatus(s Status) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	if a.detached || a.onStatus == nil {
		return
	}
	a.onStatus(s)
}

// teardown releases the underlying subscription without suppressing
// callbacks; used when the feed itself reported a fault.
func (a *Attachment) teardown() {
	a.cancel()
	a.unsubscribe()
}

// Detach stops delivery and releases the subscription. Safe to call more
// than once. After it returns, all subsequent events for this attachment
// are no-ops.
func (a *Attachment) Detach() {
	a.cbMu.Lock()
	already := a.detached
	a.detached = true
	a.cbMu.Unlock()
	if already {
		return
	}
	a.teardown()
}
