// ABOUTME: Tests for the subscription manager
// ABOUTME: Verifies lifecycle status reporting, dedupe, and strict detach

package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfold/chatlink/internal/feed"
	"github.com/marketfold/chatlink/internal/store"
)

// statusRecorder collects callback invocations thread-safely.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
	messages []*store.Message
}

func (r *statusRecorder) onStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) onMessage(msg *store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *statusRecorder) snapshotStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *statusRecorder) snapshotMessages() []*store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*store.Message(nil), r.messages...)
}

func (r *statusRecorder) waitForStatus(t *testing.T, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range r.snapshotStatuses() {
			if s == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status %q never observed; got %v", want, r.snapshotStatuses())
}

func (r *statusRecorder) waitForMessages(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.snapshotMessages()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d messages, got %d", n, len(r.snapshotMessages()))
}

func TestSubscription_ConnectingThenConnected(t *testing.T) {
	broker := feed.NewBroker(nil)
	defer broker.Close()
	m := NewSubscriptionManager(broker, nil)
	rec := &statusRecorder{}

	att := m.Attach(context.Background(), "conv-1", rec.onMessage, rec.onStatus)
	defer att.Detach()

	rec.waitForStatus(t, StatusConnected)
	statuses := rec.snapshotStatuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusConnecting, statuses[0], "connecting must be reported first")
}

func TestSubscription_DeliversPublishedMessages(t *testing.T) {
	broker := feed.NewBroker(nil)
	defer broker.Close()
	m := NewSubscriptionManager(broker, nil)
	rec := &statusRecorder{}

	att := m.Attach(context.Background(), "conv-1", rec.onMessage, rec.onStatus)
	defer att.Detach()
	rec.waitForStatus(t, StatusConnected)

	broker.Publish("conv-1", &store.Message{ID: "m1", ConversationID: "conv-1", Content: "hi"})
	rec.waitForMessages(t, 1)
	assert.Equal(t, "m1", rec.snapshotMessages()[0].ID)
}

func TestSubscription_DropsDuplicateEvents(t *testing.T) {
	broker := feed.NewBroker(nil)
	defer broker.Close()
	m := NewSubscriptionManager(broker, nil)
	rec := &statusRecorder{}

	att := m.Attach(context.Background(), "conv-1", rec.onMessage, rec.onStatus)
	defer att.Detach()
	rec.waitForStatus(t, StatusConnected)

	// The same event id replayed three times surfaces once
	msg := &store.Message{ID: "m1", ConversationID: "conv-1", Content: "hi"}
	broker.Publish("conv-1", msg)
	broker.Publish("conv-1", msg)
	broker.Publish("conv-1", msg)
	broker.Publish("conv-1", &store.Message{ID: "m2", ConversationID: "conv-1"})

	rec.waitForMessages(t, 2)
	time.Sleep(50 * time.Millisecond)

	msgs := rec.snapshotMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestSubscription_FeedFaultReportsDisconnected(t *testing.T) {
	broker := feed.NewBroker(nil)
	defer broker.Close()
	m := NewSubscriptionManager(broker, nil)
	rec := &statusRecorder{}

	att := m.Attach(context.Background(), "conv-1", rec.onMessage, rec.onStatus)
	defer att.Detach()
	rec.waitForStatus(t, StatusConnected)

	broker.Fail("conv-1", errors.New("backend restarting"))
	rec.waitForStatus(t, StatusDisconnected)
}

func TestSubscription_DetachStopsCallbacks(t *testing.T) {
	broker := feed.NewBroker(nil)
	defer broker.Close()
	m := NewSubscriptionManager(broker, nil)
	rec := &statusRecorder{}

	att := m.Attach(context.Background(), "conv-1", rec.onMessage, rec.onStatus)
	rec.waitForStatus(t, StatusConnected)

	att.Detach()
	before := len(rec.snapshotMessages())

	broker.Publish("conv-1", &store.Message{ID: "m1", ConversationID: "conv-1"})
	broker.Fail("conv-1", errors.New("late fault"))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, len(rec.snapshotMessages()), "no deliveries after detach")
	for _, s := range rec.snapshotStatuses() {
		assert.NotEqual(t, StatusDisconnected, s, "no status callbacks after detach")
	}

	// Detach is idempotent
	att.Detach()
}

func TestSubscription_SeparateAttachesSeparateDedupe(t *testing.T) {
	broker := feed.NewBroker(nil)
	defer broker.Close()
	m := NewSubscriptionManager(broker, nil)

	first := &statusRecorder{}
	att1 := m.Attach(context.Background(), "conv-1", first.onMessage, first.onStatus)
	first.waitForStatus(t, StatusConnected)

	broker.Publish("conv-1", &store.Message{ID: "m1", ConversationID: "conv-1"})
	first.waitForMessages(t, 1)
	att1.Detach()

	// A fresh attach is a fresh dedupe scope: the same id delivers again.
	second := &statusRecorder{}
	att2 := m.Attach(context.Background(), "conv-1", second.onMessage, second.onStatus)
	defer att2.Detach()
	second.waitForStatus(t, StatusConnected)

	broker.Publish("conv-1", &store.Message{ID: "m1", ConversationID: "conv-1"})
	second.waitForMessages(t, 1)
	assert.Equal(t, "m1", second.snapshotMessages()[0].ID)
}
