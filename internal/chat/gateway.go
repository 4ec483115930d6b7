// ABOUTME: Message store gateway: ordered history loads and validated sends
// ABOUTME: Persists messages, publishes them to the feed, and keeps the summary fresh

package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/marketfold/chatlink/internal/store"
)

const (
	// previewMaxLen bounds the conversation list preview.
	previewMaxLen = 120
	// touchTimeout bounds the best-effort summary update so it survives
	// cancellation of the request context.
	touchTimeout = 5 * time.Second
)

// GatewayStore defines what the gateway needs from storage
type GatewayStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	TouchConversation(ctx context.Context, id, preview string, at time.Time) error
}

// Publisher publishes persisted messages to the change feed so open
// subscriptions receive the insert event.
type Publisher interface {
	Publish(conversationID string, msg *store.Message)
}

// Gateway loads message history and persists outgoing messages.
type Gateway struct {
	store     GatewayStore
	publisher Publisher
	logger    *slog.Logger
}

// NewGateway creates a gateway. publisher may be nil when no live feed is
// wired (history-only tooling). Pass nil logger for default.
func NewGateway(s GatewayStore, publisher Publisher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:     s,
		publisher: publisher,
		logger:    logger.With("component", "gateway"),
	}
}

// History returns all messages for the conversation ordered by
// (created_at, id) ascending. An empty slice is a valid new conversation,
// never an error.
func (g *Gateway) History(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return g.store.ListMessages(ctx, conversationID)
}

// Send validates, persists, and publishes an outgoing message. Empty or
// whitespace-only content is rejected with ErrEmptyMessage before the store
// is contacted. On success the returned message carries the store-assigned
// id and timestamp. The conversation summary update is best-effort: a
// failure there is logged and never fails the send.
func (g *Gateway) Send(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	msg := &store.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	if err := g.store.SaveMessage(ctx, msg); err != nil {
		return nil, &SendError{Err: err}
	}

	g.logger.Debug("message sent",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender", senderID)

	g.touchConversation(conversationID, msg)

	if g.publisher != nil {
		g.publisher.Publish(conversationID, msg)
	}

	return msg, nil
}

// touchConversation updates the last-message summary with a separate timeout
// context so it completes even if the send's context is cancelled.
func (g *Gateway) touchConversation(conversationID string, msg *store.Message) {
	preview := msg.Content
	if len(preview) > previewMaxLen {
		preview = preview[:previewMaxLen]
	}

	touchCtx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()

	if err := g.store.TouchConversation(touchCtx, conversationID, preview, msg.CreatedAt); err != nil {
		g.logger.Error("failed to update conversation summary",
			"error", err,
			"conversation_id", conversationID,
			"message_id", msg.ID)
	}
}
