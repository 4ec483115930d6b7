// ABOUTME: Typed failures for the conversation layer
// ABOUTME: Distinguishes resolution, validation, and send failures for callers

package chat

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when a send contains no content after
// trimming. The message never reaches the store.
var ErrEmptyMessage = errors.New("message is empty")

// ErrResolutionFailed is returned when a conversation can neither be found
// nor created, nor found again after a duplicate-insert conflict. This is a
// logic/data error, not a transient fault; callers must not retry it.
var ErrResolutionFailed = errors.New("conversation resolution failed")

// ErrSessionClosed is returned when an operation is attempted on a closed
// session.
var ErrSessionClosed = errors.New("session closed")

// SendError wraps a store failure during send. The optimistic transcript
// entry is marked failed in place; the caller keeps the draft and may resend.
type SendError struct {
	MessageID string // provisional id of the failed transcript entry
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
