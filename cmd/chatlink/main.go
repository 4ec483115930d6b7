// ABOUTME: Entry point for the chatlink CLI
// ABOUTME: Subcommands: init, chat (interactive), history, serve (ws bridge)

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/marketfold/chatlink/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _           _   _ _       _
   ___| |__   __ _| |_| (_)_ __ | | __
  / __| '_ \ / _' | __| | | '_ \| |/ /
 | (__| | | | (_| | |_| | | | | |   <
  \___|_| |_|\__,_|\__|_|_|_| |_|_|\_\
`

// getConfigPath returns the path to the config file.
// Priority: CHATLINK_CONFIG env var > XDG_CONFIG_HOME/chatlink/config.yaml >
// ~/.config/chatlink/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATLINK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatlink", "config.yaml")
}

// getProfilePath returns the path to the chat profile.
func getProfilePath() string {
	if envPath := os.Getenv("CHATLINK_PROFILE"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "profile.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatlink", "profile.toml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chatlink <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init      Create a starter config file")
		fmt.Println("  chat      Open an interactive conversation")
		fmt.Println("  history   Print a conversation transcript")
		fmt.Println("  serve     Run the WebSocket bridge")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when absent.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupLogger builds the process logger from logging config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

const starterConfig = `# chatlink configuration
database:
  path: chatlink.db

reconnect:
  base_delay: 1s
  max_delay: 10s
  max_retries: 5

bridge:
  addr: 127.0.0.1:8480

logging:
  level: info
  format: text
`

// runInit writes a starter config file unless one already exists.
func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Wrote starter config to %s\n", path)
	return nil
}
