// ABOUTME: Tests for the message gateway
// ABOUTME: Verifies send validation, persistence, publishing, and summary updates

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfold/chatlink/internal/store"
)

// capturePublisher records published messages.
type capturePublisher struct {
	conversationIDs []string
	messages        []*store.Message
}

func (p *capturePublisher) Publish(conversationID string, msg *store.Message) {
	p.conversationIDs = append(p.conversationIDs, conversationID)
	p.messages = append(p.messages, msg)
}

func createConversation(t *testing.T, st store.Store, id string) {
	t.Helper()
	conv := &store.Conversation{
		ID:           id,
		ParticipantA: "alice",
		ParticipantB: "bob",
		Context:      store.ContextKey{Kind: store.KindGeneral},
	}
	require.NoError(t, st.CreateConversation(context.Background(), conv))
}

func TestGateway_SendPersistsAndPublishes(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	pub := &capturePublisher{}
	g := NewGateway(st, pub, nil)

	msg, err := g.Send(context.Background(), "c1", "alice", "hello bob")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, "hello bob", msg.Content)

	// Persisted
	history, err := g.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)

	// Published with the store-assigned id
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "c1", pub.conversationIDs[0])
	assert.Equal(t, msg.ID, pub.messages[0].ID)
}

func TestGateway_SendRejectsEmptyContent(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	pub := &capturePublisher{}
	g := NewGateway(st, pub, nil)

	for _, content := range []string{"", "   ", "\n\t  "} {
		_, err := g.Send(context.Background(), "c1", "alice", content)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}

	// Nothing persisted, nothing published
	history, err := g.History(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, pub.messages)
}

func TestGateway_SendTrimsWhitespace(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	g := NewGateway(st, nil, nil)

	msg, err := g.Send(context.Background(), "c1", "alice", "  hi  \n")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
}

func TestGateway_SendUpdatesSummary(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	g := NewGateway(st, nil, nil)

	msg, err := g.Send(context.Background(), "c1", "alice", "latest message")
	require.NoError(t, err)

	conv, err := st.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "latest message", conv.LastMessagePreview)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, conv.LastMessageAt.Equal(msg.CreatedAt))
}

func TestGateway_SendTruncatesPreview(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	g := NewGateway(st, nil, nil)

	long := strings.Repeat("x", 500)
	_, err := g.Send(context.Background(), "c1", "alice", long)
	require.NoError(t, err)

	conv, err := st.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, conv.LastMessagePreview, previewMaxLen)
}

// failingSaveStore fails every SaveMessage.
type failingSaveStore struct {
	saveErr error
}

func (f *failingSaveStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	return f.saveErr
}

func (f *failingSaveStore) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return nil, nil
}

func (f *failingSaveStore) TouchConversation(ctx context.Context, id, preview string, at time.Time) error {
	return nil
}

func TestGateway_SendStoreFailure(t *testing.T) {
	storeErr := errors.New("disk full")
	g := NewGateway(&failingSaveStore{saveErr: storeErr}, &capturePublisher{}, nil)

	_, err := g.Send(context.Background(), "c1", "alice", "hello")
	require.Error(t, err)

	var se *SendError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, storeErr)
}

// failingTouchStore persists messages but always fails the summary update.
type failingTouchStore struct {
	store.Store
}

func (f *failingTouchStore) TouchConversation(ctx context.Context, id, preview string, at time.Time) error {
	return errors.New("summary update failed")
}

func TestGateway_SendSurvivesSummaryFailure(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	g := NewGateway(&failingTouchStore{Store: st}, nil, nil)

	sent, err := g.Send(context.Background(), "c1", "alice", "still works")
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)

	history, err := g.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestGateway_HistoryOrdered(t *testing.T) {
	st := createTestStore(t)
	createConversation(t, st, "c1")
	g := NewGateway(st, nil, nil)

	base := time.Now().UTC().Truncate(time.Second)
	for _, msg := range []*store.Message{
		{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "second", CreatedAt: base.Add(time.Second)},
		{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "first", CreatedAt: base},
	} {
		require.NoError(t, st.SaveMessage(context.Background(), msg))
	}

	history, err := g.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].ID)
	assert.Equal(t, "m2", history[1].ID)
}

func TestGateway_HistoryEmptyConversation(t *testing.T) {
	st := createTestStore(t)
	g := NewGateway(st, nil, nil)

	history, err := g.History(context.Background(), "brand-new")
	require.NoError(t, err)
	assert.Empty(t, history)
}
