// ABOUTME: Change-feed contract for realtime message delivery
// ABOUTME: Defines the tagged lifecycle/row event stream a subscriber consumes

package feed

import "github.com/marketfold/chatlink/internal/store"

// Status is a feed lifecycle signal. The subscription layer branches on this
// closed set, never on raw strings from a transport.
type Status string

const (
	// StatusSubscribed means the feed is live and row events will follow.
	StatusSubscribed Status = "subscribed"
	// StatusError means the feed failed; no further rows will be delivered
	// on this subscription.
	StatusError Status = "error"
	// StatusTimeout means the feed did not acknowledge in time. Treated the
	// same as StatusError by consumers, with a different logged reason.
	StatusTimeout Status = "timeout"
)

// Event is one item on a subscription channel: either a lifecycle signal
// (Status set, Row nil) or an inserted row (Row set, Status empty).
type Event struct {
	Status Status
	Row    *store.Message
	Err    error // optional detail accompanying StatusError
}

// IsRow reports whether the event carries an inserted row payload.
func (e Event) IsRow() bool {
	return e.Row != nil
}
