// ABOUTME: Store interface and data types for chatlink persistence
// ABOUTME: Defines ContextKey, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when inserting a conversation whose
// (participant pair, context) already exists. Callers treat this as the
// signal to re-read, not as a fatal error.
var ErrDuplicateConversation = errors.New("conversation already exists")

// ContextKind identifies the feature area a conversation belongs to
type ContextKind string

const (
	KindShop     ContextKind = "shop"
	KindExchange ContextKind = "exchange"
	KindMission  ContextKind = "mission"
	KindGeneral  ContextKind = "general"
)

// ContextKey identifies what a conversation is about: a feature area plus an
// optional reference to the entity under discussion (listing id, mission id).
// An empty ReferenceID is a distinct "no reference" value, not a wildcard.
type ContextKey struct {
	Kind        ContextKind
	ReferenceID string
}

// Valid reports whether the kind is one of the known context kinds.
func (k ContextKey) Valid() bool {
	switch k.Kind {
	case KindShop, KindExchange, KindMission, KindGeneral:
		return true
	}
	return false
}

// String renders the canonical form used in indexes and feed topics:
// "kind" when there is no reference, "kind:ref" otherwise.
func (k ContextKey) String() string {
	if k.ReferenceID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.ReferenceID
}

// ParseContextKey parses the canonical "kind" / "kind:ref" form.
func ParseContextKey(s string) (ContextKey, error) {
	kind, ref, _ := strings.Cut(s, ":")
	key := ContextKey{Kind: ContextKind(kind), ReferenceID: ref}
	if !key.Valid() {
		return ContextKey{}, fmt.Errorf("invalid context kind %q", kind)
	}
	return key, nil
}

// PairKey returns the canonical directionless form of a participant pair.
// Both assignments of the two ids produce the same key.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Conversation is the persistent 1:1 thread between two participants scoped
// to a context. At most one conversation exists per (unordered pair, context);
// the store enforces this with a uniqueness constraint on the pair key.
type Conversation struct {
	ID                 string
	ParticipantA       string
	ParticipantB       string
	Context            ContextKey
	LastMessagePreview string
	LastMessageAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Involves reports whether the conversation is between exactly the two given
// participants, in either order.
func (c *Conversation) Involves(a, b string) bool {
	return (c.ParticipantA == a && c.ParticipantB == b) ||
		(c.ParticipantA == b && c.ParticipantB == a)
}

// Other returns the participant that is not self, or empty if self is not
// a participant.
func (c *Conversation) Other(self string) string {
	switch self {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// Message is a single chat message. The store assigns ID and CreatedAt at
// persist time when they are unset. Messages are never deleted; the only
// mutation after insert is the read flag.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	IsRead         bool
}

// Store defines the persistence surface the conversation layer consumes:
// equality-filtered reads, inserts with server-assigned identity, and a
// distinguishable uniqueness-violation failure on conversation insert.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsByContext(ctx context.Context, key ContextKey) ([]*Conversation, error)
	ListConversationsByParticipant(ctx context.Context, participantID string) ([]*Conversation, error)
	// TouchConversation updates the last-message summary. Best-effort from the
	// caller's perspective; a failure here never fails the send that caused it.
	TouchConversation(ctx context.Context, id, preview string, at time.Time) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	// MarkMessagesRead flips the read flag for the given ids. Idempotent:
	// already-read and unknown ids are skipped, not errors.
	MarkMessagesRead(ctx context.Context, ids []string) error

	// Close releases any resources held by the store
	Close() error
}
