// ABOUTME: Conversation session: single-actor owner of one open transcript
// ABOUTME: Serializes history merge, realtime delivery, optimistic sends, close

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marketfold/chatlink/internal/store"
)

// updateBufferSize is the session's update channel buffer. Snapshots are
// complete, so when a consumer lags the oldest snapshot is dropped in favor
// of the newest.
const updateBufferSize = 16

// Update is one item on the session's update stream: either a full
// transcript snapshot or a connection transition, never both.
type Update struct {
	Entries    []Entry // transcript snapshot, nil for connection updates
	Connection *Signal // connection transition, nil for transcript updates
}

// Session is the façade a chat screen drives: a stream of transcript
// updates plus Send and Close. All transcript mutations run on one owner
// goroutine; feed deliveries and user actions are serialized through its
// mailbox, so no two operations on the transcript execute concurrently.
type Session struct {
	svc    *Service
	conv   *store.Conversation
	selfID string

	ctx    context.Context
	cancel context.CancelFunc

	mb       mailbox
	loopDone chan struct{}

	updMu         sync.Mutex
	updates       chan Update
	updatesClosed bool

	ctrl       *Controller
	transcript *Transcript
	closed     atomic.Bool
}

func newSession(svc *Service, conv *store.Conversation, selfID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		svc:        svc,
		conv:       conv,
		selfID:     selfID,
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		updates:    make(chan Update, updateBufferSize),
		transcript: NewTranscript(),
	}
}

// Conversation returns a copy of the resolved conversation row.
func (s *Session) Conversation() store.Conversation {
	return *s.conv
}

// SelfID returns the viewing participant's id.
func (s *Session) SelfID() string {
	return s.selfID
}

// Updates returns the stream of transcript snapshots and connection
// transitions. Closed when the session closes.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// ConnectionState returns the reconnection controller's current state.
func (s *Session) ConnectionState() State {
	return s.ctrl.State()
}

// Entries returns a point-in-time snapshot of the transcript, taken on the
// actor so it is consistent with in-flight merges. Nil after close.
func (s *Session) Entries() []Entry {
	var out []Entry
	if err := s.call(func() { out = s.transcript.Entries() }); err != nil {
		return nil
	}
	return out
}

// Send optimistically appends the message, persists it through the gateway,
// and reconciles the provisional id with the store-assigned one so the
// realtime echo dedups correctly. Empty or whitespace-only text is rejected
// with ErrEmptyMessage and never appends. On a store failure the optimistic
// entry is marked failed in place and a SendError is returned; the caller
// must preserve the draft so the user can resend.
func (s *Session) Send(ctx context.Context, text string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	content := strings.TrimSpace(text)
	if content == "" {
		return ErrEmptyMessage
	}

	provisional := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: s.conv.ID,
		SenderID:       s.selfID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.call(func() {
		s.transcript.Insert(provisional, DeliveryPending)
		s.emitTranscript()
	}); err != nil {
		return err
	}

	stored, err := s.svc.gateway.Send(ctx, s.conv.ID, s.selfID, content)
	if err != nil {
		s.call(func() {
			s.transcript.MarkFailed(provisional.ID)
			s.emitTranscript()
		})
		var se *SendError
		if errors.As(err, &se) {
			se.MessageID = provisional.ID
			return se
		}
		return err
	}

	return s.call(func() {
		s.transcript.Reconcile(provisional.ID, stored)
		s.emitTranscript()
	})
}

// Close tears the session down: forces the reconnection controller to Idle,
// cancels the live attach, stops the actor, and discards the transcript.
// After Close returns no further updates or callbacks fire. Safe to call
// more than once.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.ctrl.Stop()
	s.cancel()
	s.mb.close()
	<-s.loopDone

	s.updMu.Lock()
	s.updatesClosed = true
	close(s.updates)
	s.updMu.Unlock()

	s.svc.logger.Debug("session closed", "conversation_id", s.conv.ID)
}

// attachLive re-runs the attach sequence for the reconnection controller.
// The conversation is already resolved, so its id is reused directly.
func (s *Session) attachLive(onStatus func(Status)) (*Attachment, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.svc.subs.Attach(s.ctx, s.conv.ID, s.onFeedMessage, onStatus), nil
}

// onFeedMessage receives a deduplicated realtime message from the
// subscription manager and hands it to the actor in delivery order.
func (s *Session) onFeedMessage(msg *store.Message) {
	s.dispatch(func() {
		if !s.transcript.Insert(msg, DeliverySent) {
			return
		}
		s.markDisplayed([]*store.Message{msg})
		s.emitTranscript()
	})
}

// onSignal forwards controller transitions to the update stream.
func (s *Session) onSignal(sig Signal) {
	s.pushUpdate(Update{Connection: &sig})
}

// mergeHistory inserts the loaded history and marks inbound messages read.
// Runs on the actor.
func (s *Session) mergeHistory(history []*store.Message) {
	for _, msg := range history {
		s.transcript.Insert(msg, DeliverySent)
	}
	s.markDisplayed(history)
	s.emitTranscript()
}

// markDisplayed flips the read flag for inbound unread messages, both in
// the store (best-effort, off the actor) and in the local transcript.
func (s *Session) markDisplayed(msgs []*store.Message) {
	var inbound []*store.Message
	var ids []string
	for _, msg := range msgs {
		if msg.SenderID != s.selfID && !msg.IsRead {
			inbound = append(inbound, msg)
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	s.transcript.MarkRead(ids)
	go s.svc.reads.MarkDisplayed(s.selfID, inbound)
}

// emitTranscript pushes a full snapshot. Runs on the actor.
func (s *Session) emitTranscript() {
	s.pushUpdate(Update{Entries: s.transcript.Entries()})
}

// pushUpdate delivers an update without ever blocking the actor. When the
// buffer is full the oldest update is dropped: every snapshot is complete,
// so the newest always supersedes it.
func (s *Session) pushUpdate(u Update) {
	s.updMu.Lock()
	defer s.updMu.Unlock()
	if s.updatesClosed {
		return
	}
	for {
		select {
		case s.updates <- u:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// loop is the actor goroutine: it executes mailbox commands one at a time
// until the session context is cancelled.
func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.mb.wake():
			for _, fn := range s.mb.drain() {
				fn()
			}
		}
	}
}

// dispatch enqueues fire-and-forget work for the actor. Dropped silently
// after close.
func (s *Session) dispatch(fn func()) {
	s.mb.put(fn)
}

// call enqueues work and waits for the actor to run it.
func (s *Session) call(fn func()) error {
	done := make(chan struct{})
	if !s.mb.put(func() {
		fn()
		close(done)
	}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// mailbox is an unbounded FIFO command queue. Realtime events arriving while
// the actor is suspended on a store call are held here in delivery order,
// never dropped.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
	closed bool
	once   sync.Once
}

func (m *mailbox) init() {
	m.once.Do(func() {
		m.signal = make(chan struct{}, 1)
	})
}

// put appends a command. Returns false when the mailbox is closed.
func (m *mailbox) put(fn func()) bool {
	m.init()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns all queued commands in order.
func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := m.queue
	m.queue = nil
	return queued
}

// wake returns the channel the actor blocks on.
func (m *mailbox) wake() <-chan struct{} {
	m.init()
	return m.signal
}

// close rejects further commands. Already queued ones are discarded by the
// exiting actor.
func (m *mailbox) close() {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}
