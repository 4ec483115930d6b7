// ABOUTME: Tests for the in-memory transcript
// ABOUTME: Covers ordering, duplicate suppression, and optimistic reconciliation

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfold/chatlink/internal/store"
)

func msgAt(id string, at time.Time) *store.Message {
	return &store.Message{ID: id, ConversationID: "c1", SenderID: "alice", Content: id, CreatedAt: at}
}

func entryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Message.ID
	}
	return ids
}

func TestTranscript_InsertKeepsOrder(t *testing.T) {
	tr := NewTranscript()
	base := time.Now().UTC()

	// Out-of-order arrival
	tr.Insert(msgAt("m3", base.Add(2*time.Second)), DeliverySent)
	tr.Insert(msgAt("m1", base), DeliverySent)
	tr.Insert(msgAt("m2", base.Add(time.Second)), DeliverySent)

	assert.Equal(t, []string{"m1", "m2", "m3"}, entryIDs(tr.Entries()))
}

func TestTranscript_TimestampTieBrokenByID(t *testing.T) {
	tr := NewTranscript()
	at := time.Now().UTC()

	tr.Insert(msgAt("b", at), DeliverySent)
	tr.Insert(msgAt("a", at), DeliverySent)
	tr.Insert(msgAt("c", at), DeliverySent)

	assert.Equal(t, []string{"a", "b", "c"}, entryIDs(tr.Entries()))
}

func TestTranscript_DuplicateInsertIgnored(t *testing.T) {
	tr := NewTranscript()
	at := time.Now().UTC()

	assert.True(t, tr.Insert(msgAt("m1", at), DeliverySent))
	assert.False(t, tr.Insert(msgAt("m1", at.Add(time.Second)), DeliverySent))
	assert.Equal(t, 1, tr.Len())
}

func TestTranscript_Reconcile(t *testing.T) {
	tr := NewTranscript()
	base := time.Now().UTC()

	tr.Insert(msgAt("other", base), DeliverySent)
	tr.Insert(msgAt("provisional", base.Add(time.Second)), DeliveryPending)

	stored := msgAt("stored-id", base.Add(2*time.Second))
	tr.Reconcile("provisional", stored)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"other", "stored-id"}, entryIDs(entries))
	assert.Equal(t, DeliverySent, entries[1].Delivery)
	assert.False(t, tr.Contains("provisional"))

	// The realtime echo of the stored message now dedups
	assert.False(t, tr.Insert(stored, DeliverySent))
	assert.Equal(t, 2, tr.Len())
}

func TestTranscript_ReconcileAfterEchoArrivedFirst(t *testing.T) {
	tr := NewTranscript()
	base := time.Now().UTC()

	tr.Insert(msgAt("provisional", base), DeliveryPending)

	// Echo beats the reconcile
	stored := msgAt("stored-id", base.Add(time.Millisecond))
	tr.Insert(stored, DeliverySent)
	tr.Reconcile("provisional", stored)

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "stored-id", entries[0].Message.ID)
}

func TestTranscript_ReconcileUnknownProvisional(t *testing.T) {
	tr := NewTranscript()

	tr.Reconcile("never-inserted", msgAt("stored", time.Now()))
	assert.Equal(t, 0, tr.Len())
}

func TestTranscript_MarkFailed(t *testing.T) {
	tr := NewTranscript()
	at := time.Now().UTC()

	tr.Insert(msgAt("m1", at), DeliveryPending)
	tr.MarkFailed("m1")
	tr.MarkFailed("unknown") // no-op

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, DeliveryFailed, entries[0].Delivery)
	// Failed entries stay where they were rendered
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestTranscript_MarkRead(t *testing.T) {
	tr := NewTranscript()
	at := time.Now().UTC()

	tr.Insert(msgAt("m1", at), DeliverySent)
	tr.Insert(msgAt("m2", at.Add(time.Second)), DeliverySent)

	tr.MarkRead([]string{"m1", "unknown"})

	entries := tr.Entries()
	assert.True(t, entries[0].Message.IsRead)
	assert.False(t, entries[1].Message.IsRead)
}

func TestTranscript_EntriesReturnsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Insert(msgAt("m1", time.Now().UTC()), DeliverySent)

	entries := tr.Entries()
	entries[0].Message.Content = "mutated"
	entries[0].Delivery = DeliveryFailed

	again := tr.Entries()
	assert.Equal(t, "m1", again[0].Message.Content)
	assert.Equal(t, DeliverySent, again[0].Delivery)
}
