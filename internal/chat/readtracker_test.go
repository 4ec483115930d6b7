// ABOUTME: Tests for the read tracker
// ABOUTME: Verifies filtering of own/read messages and failure tolerance

package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketfold/chatlink/internal/store"
)

// captureReadStore records marked ids.
type captureReadStore struct {
	marked [][]string
	err    error
}

func (c *captureReadStore) MarkMessagesRead(ctx context.Context, ids []string) error {
	c.marked = append(c.marked, ids)
	return c.err
}

func TestReadTracker_MarksOnlyInboundUnread(t *testing.T) {
	rs := &captureReadStore{}
	tracker := NewReadTracker(rs, nil)

	tracker.MarkDisplayed("alice", []*store.Message{
		{ID: "own", SenderID: "alice"},              // own message, skipped
		{ID: "read", SenderID: "bob", IsRead: true}, // already read, skipped
		{ID: "new1", SenderID: "bob"},
		{ID: "new2", SenderID: "bob"},
	})

	assert.Equal(t, [][]string{{"new1", "new2"}}, rs.marked)
}

func TestReadTracker_NothingToMark(t *testing.T) {
	rs := &captureReadStore{}
	tracker := NewReadTracker(rs, nil)

	tracker.MarkDisplayed("alice", []*store.Message{
		{ID: "own", SenderID: "alice"},
	})
	tracker.MarkDisplayed("alice", nil)

	assert.Empty(t, rs.marked, "no store call when nothing qualifies")
}

func TestReadTracker_StoreFailureSwallowed(t *testing.T) {
	rs := &captureReadStore{err: errors.New("store down")}
	tracker := NewReadTracker(rs, nil)

	// Must not panic or propagate
	tracker.MarkDisplayed("alice", []*store.Message{{ID: "m1", SenderID: "bob"}})
	assert.Len(t, rs.marked, 1)
}
