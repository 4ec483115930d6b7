// Package feed provides the change-feed primitive the subscription layer
// consumes: per-conversation insert events plus a small closed set of
// lifecycle signals (subscribed, error, timeout) on a single tagged stream.
//
// Broker is the in-process implementation. Gateways publish each persisted
// message to it; every open session subscribed to that conversation receives
// the row, including the sender's own session (which drops it by id dedup).
package feed
