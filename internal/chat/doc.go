// Package chat implements the realtime 1:1 conversation layer: conversation
// resolution, message history and sends, read tracking, live feed
// subscriptions, and reconnection.
//
// # Overview
//
// A chat screen drives one Session:
//
//	svc := chat.NewService(st, broker, chat.DefaultBackoffPolicy(), logger)
//	sess, err := svc.Open(ctx, key, selfID, otherID)
//	...
//	for update := range sess.Updates() { render(update) }
//	sess.Send(ctx, "hello")
//	sess.Close()
//
// Open resolves (or creates, exactly once per participant pair and context)
// the conversation row, attaches a live feed filtered to it, loads history,
// and merges everything into an ordered, id-deduplicated transcript.
//
// # Concurrency
//
// Each session is a single logical actor: one goroutine owns the transcript
// and executes all mutations serially from a mailbox. Feed deliveries queue
// in arrival order while the actor is suspended on a store call; nothing is
// dropped. Sends are optimistic: the message appears immediately with a
// provisional id, which is reconciled to the store-assigned id when the
// gateway confirms, so the realtime echo is absorbed by dedup.
//
// The one designed-for race is two users opening the same pair+context
// simultaneously; the store's uniqueness constraint plus the resolver's
// re-read-on-conflict resolve it. See Resolver.
//
// # Failures
//
// Transient feed faults are absorbed by the reconnection Controller with
// bounded exponential backoff and surface only as connection Signals until
// it gives up. Resolution and send failures are typed errors the screen
// must render. Nothing in this package terminates the process.
package chat
