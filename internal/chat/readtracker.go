// ABOUTME: Read tracker: best-effort, idempotent mark-read of displayed messages
// ABOUTME: Failures are logged and dropped; they never disturb the transcript

package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/marketfold/chatlink/internal/store"
)

// markReadTimeout bounds the best-effort store call.
const markReadTimeout = 5 * time.Second

// ReadStore defines what the read tracker needs from storage
type ReadStore interface {
	MarkMessagesRead(ctx context.Context, ids []string) error
}

// ReadTracker marks inbound messages read once they have been displayed.
// Marking is idempotent at the store level, so re-marking a batch after a
// reconnect replay is harmless.
type ReadTracker struct {
	store  ReadStore
	logger *slog.Logger
}

// NewReadTracker creates a read tracker. Pass nil logger for default.
func NewReadTracker(s ReadStore, logger *slog.Logger) *ReadTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadTracker{
		store:  s,
		logger: logger.With("component", "readtracker"),
	}
}

// MarkDisplayed records that viewer has seen the given messages. Only
// unread messages from the other participant are marked. Best-effort: a
// store failure is logged, not returned.
func (t *ReadTracker) MarkDisplayed(viewerID string, msgs []*store.Message) {
	var ids []string
	for _, msg := range msgs {
		if msg.SenderID != viewerID && !msg.IsRead {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()

	if err := t.store.MarkMessagesRead(ctx, ids); err != nil {
		t.logger.Error("failed to mark messages read",
			"error", err,
			"count", len(ids))
		return
	}
	t.logger.Debug("marked messages read", "count", len(ids))
}
