// ABOUTME: Interactive chat and transcript history commands
// ABOUTME: Drives a conversation session over the local store with line input

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/marketfold/chatlink/internal/chat"
	"github.com/marketfold/chatlink/internal/config"
	"github.com/marketfold/chatlink/internal/feed"
	"github.com/marketfold/chatlink/internal/store"
)

// chatFlags are the flag overrides shared by chat and history.
type chatFlags struct {
	self string
	peer string
	kind string
	ref  string
}

func parseChatFlags(name string, args []string) (*chatFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &chatFlags{}
	fs.StringVar(&f.self, "self", "", "your user id (overrides profile)")
	fs.StringVar(&f.peer, "peer", "", "the other participant's user id (overrides profile)")
	fs.StringVar(&f.kind, "kind", "", "context kind: shop, exchange, mission, general")
	fs.StringVar(&f.ref, "ref", "", "context reference id (listing/mission id)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// resolveIdentity merges profile values with flag overrides.
func resolveIdentity(f *chatFlags) (selfID, peerID string, key store.ContextKey, err error) {
	profile, err := LoadProfile(getProfilePath())
	if err != nil {
		return "", "", store.ContextKey{}, err
	}

	selfID = profile.Identity.UserID
	if f.self != "" {
		selfID = f.self
	}
	peerID = profile.Peer.UserID
	if f.peer != "" {
		peerID = f.peer
	}
	if f.kind != "" {
		profile.Context.Kind = f.kind
	}
	if f.ref != "" {
		profile.Context.ReferenceID = f.ref
	}

	key, err = profile.ContextKey()
	if err != nil {
		return "", "", store.ContextKey{}, err
	}
	if selfID == "" || peerID == "" {
		return "", "", store.ContextKey{}, fmt.Errorf("both --self and --peer are required (or set them in %s)", getProfilePath())
	}
	return selfID, peerID, key, nil
}

// openService builds the store, broker, and chat service from config.
func openService(cfg *config.Config) (*chat.Service, *store.SQLiteStore, *feed.Broker, error) {
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	broker := feed.NewBroker(logger)
	policy := chat.BackoffPolicy{
		Base:       cfg.Reconnect.BaseDelay,
		Cap:        cfg.Reconnect.MaxDelay,
		MaxRetries: cfg.Reconnect.MaxRetries,
	}
	return chat.NewService(st, broker, policy, logger), st, broker, nil
}

// runChat opens an interactive session: incoming messages render as they
// arrive, lines typed at the prompt are sent.
func runChat(ctx context.Context, args []string) error {
	flags, err := parseChatFlags("chat", args)
	if err != nil {
		return err
	}
	selfID, peerID, key, err := resolveIdentity(flags)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, st, broker, err := openService(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	defer broker.Close()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	sess, err := svc.Open(ctx, key, selfID, peerID)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	conv := sess.Conversation()
	gray.Printf("conversation %s (%s) with %s\n\n", conv.ID, key.String(), conv.Other(selfID))

	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		render(sess, selfID)
	}()

	// Line input loop; EOF or signal ends the chat.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "/quit" {
			break
		}
		if err := sess.Send(ctx, text); err != nil {
			switch {
			case errors.Is(err, chat.ErrEmptyMessage):
				// Nothing to send
			case errors.Is(err, chat.ErrSessionClosed):
				return nil
			default:
				// Draft stays in the terminal scrollback; the failed entry
				// is already flagged in the transcript.
				color.New(color.FgRed).Printf("send failed: %v (press up to retry)\n", err)
			}
		}
	}

	sess.Close()
	<-renderDone
	return scanner.Err()
}

// render prints transcript and connection updates until the session closes.
// Already-printed messages are skipped; delivery-state flips reprint the
// marker line.
func render(sess *chat.Session, selfID string) {
	printed := make(map[string]chat.Delivery)

	me := color.New(color.FgGreen)
	them := color.New(color.FgWhite)
	failed := color.New(color.FgRed)
	status := color.New(color.FgYellow)

	for update := range sess.Updates() {
		if update.Connection != nil {
			switch update.Connection.State {
			case chat.StateScheduled:
				status.Printf("· reconnecting (attempt %d, in %s)\n",
					update.Connection.Attempt, update.Connection.Delay)
			case chat.StateGaveUp:
				status.Println("· connection lost; restart chat to reconnect")
			case chat.StateConnected:
				status.Println("· connected")
			}
			continue
		}

		for _, entry := range update.Entries {
			prev, seen := printed[entry.Message.ID]
			if seen && prev == entry.Delivery {
				continue
			}
			printed[entry.Message.ID] = entry.Delivery

			ts := entry.Message.CreatedAt.Local().Format(time.Kitchen)
			switch {
			case entry.Delivery == chat.DeliveryFailed:
				failed.Printf("[%s] %s: %s (failed)\n", ts, entry.Message.SenderID, entry.Message.Content)
			case seen:
				// Delivery state settled; no need to reprint sent messages
			case entry.Message.SenderID == selfID:
				me.Printf("[%s] you: %s\n", ts, entry.Message.Content)
			default:
				them.Printf("[%s] %s: %s\n", ts, entry.Message.SenderID, entry.Message.Content)
			}
		}
	}
}

// runHistory prints the stored transcript for a conversation and exits.
func runHistory(ctx context.Context, args []string) error {
	flags, err := parseChatFlags("history", args)
	if err != nil {
		return err
	}
	selfID, peerID, key, err := resolveIdentity(flags)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, st, broker, err := openService(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	defer broker.Close()

	conv, err := svc.Resolver().Resolve(ctx, selfID, peerID, key)
	if err != nil {
		return err
	}

	messages, err := svc.Gateway().History(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("(no messages)")
		return nil
	}
	for _, msg := range messages {
		who := msg.SenderID
		if msg.SenderID == selfID {
			who = "you"
		}
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format(time.RFC822), who, msg.Content)
	}
	return nil
}
