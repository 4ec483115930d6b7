// ABOUTME: Transcript: ordered, deduplicated in-memory view of a conversation
// ABOUTME: Sorted by (created_at, id); supports optimistic-id reconciliation

package chat

import (
	"sort"

	"github.com/marketfold/chatlink/internal/store"
)

// Delivery is the local send state of a transcript entry. Entries loaded
// from history or received over the feed are always DeliverySent.
type Delivery string

const (
	DeliveryPending Delivery = "pending" // optimistic append, store call in flight
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed" // store rejected the send; kept in place
)

// Entry is one message in the transcript plus its local delivery state.
type Entry struct {
	Message  store.Message
	Delivery Delivery
}

// Transcript holds the merged view of history and realtime messages for one
// open session. Not safe for concurrent use: it is owned exclusively by the
// session's actor goroutine.
type Transcript struct {
	entries []*Entry
	index   map[string]*Entry // message id -> entry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		index: make(map[string]*Entry),
	}
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Contains reports whether a message with the given id is present.
func (t *Transcript) Contains(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Insert merges a message into the transcript at its (created_at, id)
// position. Returns false without modification when the id is already
// present, which is how optimistic entries swallow their realtime echo.
func (t *Transcript) Insert(msg *store.Message, delivery Delivery) bool {
	if _, ok := t.index[msg.ID]; ok {
		return false
	}

	entry := &Entry{Message: *msg, Delivery: delivery}
	pos := t.searchPosition(&entry.Message)
	t.entries = append(t.entries, nil)
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = entry
	t.index[msg.ID] = entry
	return true
}

// searchPosition finds the insertion index keeping (created_at, id) order.
func (t *Transcript) searchPosition(msg *store.Message) int {
	return sort.Search(len(t.entries), func(i int) bool {
		e := &t.entries[i].Message
		if !e.CreatedAt.Equal(msg.CreatedAt) {
			return e.CreatedAt.After(msg.CreatedAt)
		}
		return e.ID > msg.ID
	})
}

// Reconcile replaces a provisional optimistic entry with the stored message:
// the entry takes the store-assigned id and timestamp, moves to its final
// sort position, and becomes DeliverySent. Future feed echoes of the stored
// id then dedup against it. No-op if the provisional id is unknown; if the
// stored id is somehow already present (echo arrived first), the provisional
// entry is simply dropped.
func (t *Transcript) Reconcile(provisionalID string, stored *store.Message) {
	entry, ok := t.index[provisionalID]
	if !ok {
		return
	}
	t.remove(entry)
	delete(t.index, provisionalID)

	if _, dup := t.index[stored.ID]; dup {
		return
	}
	t.Insert(stored, DeliverySent)
}

// MarkFailed flips an entry to DeliveryFailed in place. The entry is not
// removed; the user sees the failure where the message was rendered.
func (t *Transcript) MarkFailed(id string) {
	if entry, ok := t.index[id]; ok {
		entry.Delivery = DeliveryFailed
	}
}

// MarkRead flips the read flag on the given entries.
func (t *Transcript) MarkRead(ids []string) {
	for _, id := range ids {
		if entry, ok := t.index[id]; ok {
			entry.Message.IsRead = true
		}
	}
}

// Entries returns a copy of the ordered transcript.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// remove deletes an entry from the ordered slice.
func (t *Transcript) remove(entry *Entry) {
	for i, e := range t.entries {
		if e == entry {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}
