// ABOUTME: Service composes resolver, gateway, read tracker, and subscriptions
// ABOUTME: Open() is the single entry point a chat screen uses

package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketfold/chatlink/internal/store"
)

// Broker is the change-feed capability the service consumes: subscriptions
// for delivery and publishing for sends.
type Broker interface {
	Feed
	Publisher
}

// Service is the conversation layer's composition root. One Service serves
// the whole process; each Open call produces an independent Session.
type Service struct {
	resolver *Resolver
	gateway  *Gateway
	reads    *ReadTracker
	subs     *SubscriptionManager
	policy   BackoffPolicy
	logger   *slog.Logger
}

// NewService wires the conversation layer over a store and a change-feed
// broker. Pass nil logger for default.
func NewService(st store.Store, broker Broker, policy BackoffPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver: NewResolver(st, logger),
		gateway:  NewGateway(st, broker, logger),
		reads:    NewReadTracker(st, logger),
		subs:     NewSubscriptionManager(broker, logger),
		policy:   policy,
		logger:   logger.With("component", "chat"),
	}
}

// Gateway exposes the message gateway for history-only tooling.
func (s *Service) Gateway() *Gateway {
	return s.gateway
}

// Resolver exposes the conversation resolver.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Open resolves the conversation for (selfID, otherID, key), attaches the
// live feed, loads history, and returns a running session. Realtime events
// that arrive while history is loading are queued and merged afterwards, so
// nothing is lost or duplicated across the boundary. Resolution failures are
// returned as typed, non-retryable errors; connectivity faults after this
// point surface only as connection Signals on the session's update stream.
func (s *Service) Open(ctx context.Context, key store.ContextKey, selfID, otherID string) (*Session, error) {
	conv, err := s.resolver.Resolve(ctx, selfID, otherID, key)
	if err != nil {
		return nil, err
	}

	sess := newSession(s, conv, selfID)
	go sess.loop()

	sess.ctrl = NewController(sess.attachLive, sess.onSignal, s.policy, s.logger)
	sess.ctrl.Start()

	// History merges inside the actor; feed events queue behind it in
	// delivery order.
	var histErr error
	err = sess.call(func() {
		history, err := s.gateway.History(sess.ctx, conv.ID)
		if err != nil {
			histErr = err
			return
		}
		sess.mergeHistory(history)
	})
	if err != nil {
		sess.Close()
		return nil, err
	}
	if histErr != nil {
		sess.Close()
		return nil, fmt.Errorf("loading history: %w", histErr)
	}

	s.logger.Debug("session opened",
		"conversation_id", conv.ID,
		"self", selfID,
		"context", key.String())
	return sess, nil
}
