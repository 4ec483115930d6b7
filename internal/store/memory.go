// ABOUTME: In-memory Store implementation for tests and ephemeral use
// ABOUTME: Enforces the same (pair, context) uniqueness semantics as SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. It mirrors the SQLite
// store's semantics, including the uniqueness constraint on the participant
// pair plus context, so race-handling code paths can be exercised without a
// database file.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // keyed by "pairKey\x00contextKey" -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

func pairContextKey(conv *Conversation) string {
	return PairKey(conv.ParticipantA, conv.ParticipantB) + "\x00" + conv.Context.String()
}

// CreateConversation stores a new conversation, returning
// ErrDuplicateConversation if the (pair, context) slot is taken.
func (m *MemoryStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	key := pairContextKey(conv)
	if _, exists := m.pairIndex[key]; exists {
		return ErrDuplicateConversation
	}

	c := *conv
	m.conversations[c.ID] = &c
	m.pairIndex[key] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// ListConversationsByContext returns conversations matching the exact context.
func (m *MemoryStore) ListConversationsByContext(ctx context.Context, key ContextKey) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range m.conversations {
		if conv.Context == key {
			c := *conv
			convs = append(convs, &c)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	return convs, nil
}

// ListConversationsByParticipant returns conversations involving the given
// participant, most recently updated first.
func (m *MemoryStore) ListConversationsByParticipant(ctx context.Context, participantID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range m.conversations {
		if conv.ParticipantA == participantID || conv.ParticipantB == participantID {
			c := *conv
			convs = append(convs, &c)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

// TouchConversation updates the last-message summary.
func (m *MemoryStore) TouchConversation(ctx context.Context, id, preview string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	conv.LastMessagePreview = preview
	conv.LastMessageAt = &t
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveMessage stores a message, assigning ID and CreatedAt when unset.
func (m *MemoryStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stored := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	return nil
}

// ListMessages returns all messages for a conversation ordered by
// (created_at, id) ascending.
func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	messages := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		c := *msg
		messages = append(messages, &c)
	}
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

// MarkMessagesRead flips the read flag for the given ids. Idempotent.
func (m *MemoryStore) MarkMessagesRead(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if want[msg.ID] {
				msg.IsRead = true
			}
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)
