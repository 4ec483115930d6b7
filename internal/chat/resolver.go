// ABOUTME: Conversation resolver: find-or-create with duplicate-race recovery
// ABOUTME: Guarantees at most one conversation per (participant pair, context)

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/marketfold/chatlink/internal/store"
)

// ResolverStore defines what the resolver needs from storage
type ResolverStore interface {
	ListConversationsByContext(ctx context.Context, key store.ContextKey) ([]*store.Conversation, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error
}

// Resolver finds or creates the single conversation for a participant pair
// and context. The find-then-insert sequence is not transactional; two users
// opening the same pair+context concurrently is the one designed-for race,
// and the store's uniqueness constraint plus the re-read below resolve it.
type Resolver struct {
	store  ResolverStore
	logger *slog.Logger
}

// NewResolver creates a resolver. Pass nil logger for default.
func NewResolver(s ResolverStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "resolver"),
	}
}

// Resolve returns the conversation between selfID and otherID for the given
// context, creating it on first open. Both ids are required: the caller is
// responsible for knowing who the counterparty is, the resolver never
// guesses. Participant order does not matter for lookup.
func (r *Resolver) Resolve(ctx context.Context, selfID, otherID string, key store.ContextKey) (*store.Conversation, error) {
	if selfID == "" || otherID == "" {
		return nil, fmt.Errorf("%w: both participant ids are required", ErrResolutionFailed)
	}
	if selfID == otherID {
		return nil, fmt.Errorf("%w: cannot open a conversation with yourself", ErrResolutionFailed)
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: invalid context kind %q", ErrResolutionFailed, key.Kind)
	}

	if conv, err := r.find(ctx, selfID, otherID, key); err != nil {
		return nil, err
	} else if conv != nil {
		r.logger.Debug("found existing conversation", "conversation_id", conv.ID)
		return conv, nil
	}

	conv := &store.Conversation{
		ID:           uuid.New().String(),
		ParticipantA: selfID,
		ParticipantB: otherID,
		Context:      key,
	}
	err := r.store.CreateConversation(ctx, conv)
	if err == nil {
		r.logger.Debug("created conversation",
			"conversation_id", conv.ID,
			"context", key.String())
		return conv, nil
	}
	if !errors.Is(err, store.ErrDuplicateConversation) {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	// A concurrent opener won the race. The row exists now; re-read once.
	r.logger.Debug("conversation insert hit duplicate, retrying lookup",
		"context", key.String())
	existing, err := r.find(ctx, selfID, otherID, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Duplicate reported but nothing matches the pair: data problem,
		// not a transient fault.
		return nil, fmt.Errorf("%w: duplicate reported but no matching conversation", ErrResolutionFailed)
	}
	r.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
	return existing, nil
}

// find queries conversations by exact context and filters for the pair in
// either participant order. Returns nil, nil when no row matches.
func (r *Resolver) find(ctx context.Context, selfID, otherID string, key store.ContextKey) (*store.Conversation, error) {
	convs, err := r.store.ListConversationsByContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	for _, conv := range convs {
		if conv.Involves(selfID, otherID) {
			return conv, nil
		}
	}
	return nil, nil
}
