// Package store provides persistence for conversations and messages.
//
// # Data Model
//
// A Conversation is a 1:1 thread between two participants scoped to a
// ContextKey (shop listing, currency exchange, mission, or general chat).
// For a given unordered participant pair and context there is at most one
// conversation; the schema enforces this with a UNIQUE index on the
// canonical pair key plus context. A Message belongs to one conversation,
// gets its id and timestamp assigned at persist time, and is only ever
// mutated by the read flag.
//
// # Implementations
//
// Two implementations of the Store interface are provided:
//
//   - SQLiteStore: the durable backend (modernc.org/sqlite, WAL mode,
//     automatic schema creation)
//   - MemoryStore: in-memory, same uniqueness semantics, used by tests
//
// Both report a uniqueness violation on conversation insert as
// ErrDuplicateConversation, which the resolver layer treats as "somebody
// else won the race, re-read" rather than as a failure.
package store
