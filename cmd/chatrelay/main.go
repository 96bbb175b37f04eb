// ABOUTME: Entry point for the chatrelay terminal chat client
// ABOUTME: Wires the conversation store, dispatcher and both reply listeners, then runs the TUI

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/openfloor/chatrelay/internal/audit"
	"github.com/openfloor/chatrelay/internal/config"
	"github.com/openfloor/chatrelay/internal/conversation"
	"github.com/openfloor/chatrelay/internal/dispatch"
	"github.com/openfloor/chatrelay/internal/feed"
	"github.com/openfloor/chatrelay/internal/stream"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	// A local .env is optional; absence is not an error.
	_ = godotenv.Load()

	configPath := flag.String("config", getConfigPath(), "path to config file")
	logFile := flag.String("log-file", "", "write logs to this file (TUI swallows stdout)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("chatrelay", version)
		return
	}

	var err error
	switch flag.Arg(0) {
	case "", "chat":
		err = runChat(*configPath, *logFile)
	case "history":
		err = runHistory(*configPath, flag.Arg(1))
	default:
		err = fmt.Errorf("unknown command %q (expected chat or history)", flag.Arg(0))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// getConfigPath returns the path to the chatrelay config file.
// Priority: CHATRELAY_CONFIG env var > XDG_CONFIG_HOME/chatrelay/config.yaml > ~/.config/chatrelay/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATRELAY_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "chatrelay", "config.yaml")
}

func runChat(configPath, logFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Logging, logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := conversation.New(cfg.Chat.Greeting, logger)
	defer store.Close()

	var auditStore dispatch.AuditStore
	if cfg.Database.Path != "" {
		s, err := audit.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			// The audit trail is not the delivery path; run without it.
			logger.Error("audit store unavailable, continuing without it", "error", err)
		} else {
			defer s.Close()
			auditStore = s
		}
	}

	dispatcher := dispatch.New(store, auditStore, dispatch.Options{
		WebhookURL:       cfg.Webhook.URL,
		WebhookTimeout:   cfg.Webhook.Timeout,
		FallbackDeadline: cfg.Fallback.Deadline,
		ApologyDispatch:  cfg.Chat.ApologyDispatch,
		ApologyTimeout:   cfg.Chat.ApologyTimeout,
	}, logger)
	go dispatcher.Run(ctx)

	if cfg.Stream.URL != "" {
		listener := stream.New(stream.Options{
			URL:           cfg.Stream.URL,
			Backoff:       cfg.Stream.ReconnectBackoff,
			MaxReconnects: cfg.Stream.MaxReconnects,
		}, store, logger)
		go listener.Run(ctx)
	}

	if cfg.Feed.URL != "" {
		// The conversation id exists from store construction onward, so
		// the subscription can start immediately.
		listener := feed.New(cfg.Feed.URL, store.ChatID(), store, logger)
		go listener.Run(ctx)
	}

	logger.Info("starting chatrelay",
		"version", version,
		"config", configPath,
		"chat_id", store.ChatID(),
	)

	p := tea.NewProgram(newChatModel(store), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running chat ui: %w", err)
	}
	return nil
}

// runHistory prints the audit trail for a conversation id.
func runHistory(configPath, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("usage: chatrelay history <chat-id>")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not configured; no audit trail to read")
	}

	store, err := audit.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := store.History(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("no messages for", chatID)
		return nil
	}

	for _, e := range entries {
		ts := color.HiBlackString(e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if e.UserMessage != "" {
			fmt.Printf("%s %s %s\n", ts, color.CyanString("user"), e.UserMessage)
		}
		if e.AIMessage != "" {
			fmt.Printf("%s %s %s\n", ts, color.GreenString("bot "), e.AIMessage)
		}
	}
	return nil
}

// setupLogger builds the client logger. The TUI owns the terminal, so logs
// go to a file when one is given and are discarded otherwise.
func setupLogger(cfg config.LoggingConfig, logFile string) (*slog.Logger, func(), error) {
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

	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = io.Discard
	closeLog := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeLog = func() { f.Close() }
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), closeLog, nil
}
