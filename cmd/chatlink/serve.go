// ABOUTME: Serve command hosting the WebSocket bridge
// ABOUTME: Runs an HTTP server exposing chat sessions to browser clients

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"

	"github.com/marketfold/chatlink/internal/chat"
	"github.com/marketfold/chatlink/internal/feed"
	"github.com/marketfold/chatlink/internal/store"
	"github.com/marketfold/chatlink/internal/wsbridge"
)

// runServe hosts the WebSocket bridge until the context is cancelled.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	broker := feed.NewBroker(logger)
	defer broker.Close()

	policy := chat.BackoffPolicy{
		Base:       cfg.Reconnect.BaseDelay,
		Cap:        cfg.Reconnect.MaxDelay,
		MaxRetries: cfg.Reconnect.MaxRetries,
	}
	svc := chat.NewService(st, broker, policy, logger)
	bridge := wsbridge.New(svc, logger)

	srv := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "addr", cfg.Bridge.Addr)
		errCh <- srv.ListenAndServe()
	}()

	color.New(color.FgCyan).Print(banner)
	fmt.Printf("    listening on %s\n\n", cfg.Bridge.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	logger.Info("bridge stopped")
	return nil
}
