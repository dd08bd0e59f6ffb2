// chatwire - a real-time chat connection client.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/config"
	"github.com/jeranaias/chatwire/internal/conn"
	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/storage"
	"github.com/jeranaias/chatwire/internal/token"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	cmd := "chat"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatwire: %v\n", err)
		os.Exit(1)
	}
	log := newLogger(cfg.Log)

	switch cmd {
	case "chat":
		if err := runChat(cfg, log); err != nil {
			log.Error().Err(err).Msg("chat session failed")
			os.Exit(1)
		}
	case "sessions":
		err = handleSessions(cfg)
	case "search":
		err = handleSearch(cfg, args)
	case "export":
		err = handleExport(cfg, args)
	case "delete":
		err = handleDelete(cfg, args)
	case "version":
		fmt.Printf("chatwire %s (%s, built %s)\n", Version, GitCommit, BuildDate)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "chatwire: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatwire: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: chatwire [command]

Commands:
  chat           Connect and chat (default)
  sessions       List saved conversations
  search <text>  Search conversation messages
  export <id>    Export a conversation as Markdown
  delete <id>    Delete a conversation
  version        Print version information
  help           Show this help
`)
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func newStore(cfg *config.Config) (*storage.ConversationStore, error) {
	var store *storage.ConversationStore
	var err error
	if cfg.Storage.Dir != "" {
		store, err = storage.NewConversationStoreWithDir(cfg.Storage.Dir)
	} else {
		store, err = storage.NewConversationStore()
	}
	if err != nil {
		return nil, err
	}
	store.MaxConversations = cfg.Storage.MaxConversations
	return store, nil
}

// =============================================================================
// CHAT SESSION
// =============================================================================

func runChat(cfg *config.Config, log zerolog.Logger) error {
	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}

	conversationID := cfg.Server.ConversationID
	if conversationID == "" {
		// Resume the most recent conversation, or start a fresh one.
		if metas, err := store.List(); err == nil && len(metas) > 0 {
			conversationID = metas[0].ID
		} else {
			conversationID = "conv-" + uuid.NewString()
		}
	}

	policy := conn.SendCollapseDuplicates
	if !cfg.Send.CollapseDuplicates {
		policy = conn.SendAlwaysUnique
	}

	mgr := conn.NewManager(conn.Options{
		ServerURL:      cfg.Server.URL,
		ConversationID: conversationID,
		Fetcher: token.NewHTTPFetcher(cfg.Server.TokenEndpoint, cfg.Server.SessionCredential).
			WithTimeout(time.Duration(cfg.Server.OpenTimeoutSecs) * time.Second),
		Dialer:            conn.NewWebsocketDialer(),
		HeartbeatInterval: time.Duration(cfg.Server.HeartbeatSecs) * time.Second,
		OpenTimeout:       time.Duration(cfg.Server.OpenTimeoutSecs) * time.Second,
		BackoffBase:       time.Duration(cfg.Reconnect.BaseDelayMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond,
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		MaxMessageLen:     cfg.Send.MaxMessageLen,
		SendRate:          cfg.Send.RatePerSec,
		SendBurst:         cfg.Send.Burst,
		Policy:            policy,
		Logger:            log,
	})

	saver := storage.NewDebouncedSaver(store, log).
		WithDelay(time.Duration(cfg.Storage.SaveDelayMs) * time.Millisecond)
	saver.SetConversation(conversationID)
	defer saver.Close()

	mgr.SetHistoryCallback(saver.Notify)
	mgr.SetStateCallback(func(s conn.State) {
		fmt.Fprintf(os.Stderr, "[%s]\n", s)
	})
	mgr.SetErrorCallback(func(err error) {
		fmt.Fprintf(os.Stderr, "! %v\n", err)
	})
	mgr.SetQuotaCallback(func(q *conn.QuotaError) {
		fmt.Fprintf(os.Stderr, "! %v (tier %s, %d/%d used)\n",
			q, q.Subscription.Tier, q.Subscription.Used, q.Subscription.Limit)
		if q.UpgradeURL != "" {
			fmt.Fprintf(os.Stderr, "  upgrade: %s\n", q.UpgradeURL)
		}
	})

	// Restore persisted history before connecting so a server replay of
	// old messages is deduplicated.
	if msgs, err := store.LoadMessages(conversationID); err == nil && len(msgs) > 0 {
		mgr.RestoreHistory(msgs)
		log.Info().Int("messages", len(msgs)).Str("conversation", conversationID).Msg("history restored")
	}

	// Live config reload: only the logging level applies without a
	// restart; connection settings take effect on next start.
	if path, err := config.ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if w, werr := config.NewWatcher(path, func(next *config.Config) {
				if lvl, lerr := zerolog.ParseLevel(next.Log.Level); lerr == nil {
					zerolog.SetGlobalLevel(lvl)
				}
			}, log); werr == nil {
				if w.Watch() == nil {
					defer w.Close()
				}
			}
		}
	}

	mgr.Connect()
	defer mgr.Disconnect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		saver.Flush()
		mgr.Disconnect()
		os.Exit(0)
	}()

	fmt.Fprintf(os.Stderr, "chatwire %s - conversation %s\n", Version, conversationID)
	fmt.Fprintln(os.Stderr, `Type a message and press Enter. Commands: /cancel /history /quit`)

	return readLoop(mgr)
}

func readLoop(mgr *conn.Manager) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/cancel":
			if !mgr.CancelProcessing() {
				fmt.Fprintln(os.Stderr, "nothing to cancel")
			}
			continue
		case "/history":
			printHistory(mgr.History())
			continue
		}

		if err := mgr.Send(line); err != nil {
			switch {
			case errors.Is(err, conn.ErrMessageTooLong):
				fmt.Fprintln(os.Stderr, "! message too long")
			case errors.Is(err, conn.ErrRateLimited):
				fmt.Fprintln(os.Stderr, "! sending too fast, slow down")
			default:
				fmt.Fprintf(os.Stderr, "! send failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

func printHistory(msgs []model.Message) {
	for _, msg := range msgs {
		fmt.Printf("%s %s: %s\n",
			msg.Timestamp.Format("15:04"), msg.Role.DisplayName(), msg.Content)
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func handleSessions(cfg *config.Config) error {
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	metas, err := store.List()
	if err != nil {
		return err
	}
	printMetas(metas)
	return nil
}

func handleSearch(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chatwire search <text>")
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	metas, err := store.SearchMessages(strings.Join(args, " "))
	if err != nil {
		return err
	}
	printMetas(metas)
	return nil
}

func handleExport(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chatwire export <id>")
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	conv, err := store.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Print(conv.ExportMarkdown())
	return nil
}

func handleDelete(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chatwire delete <id>")
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	return store.Delete(args[0])
}

func printMetas(metas []storage.ConversationMeta) {
	if len(metas) == 0 {
		fmt.Println("No conversations found.")
		return
	}
	for _, m := range metas {
		fmt.Printf("%-40s %s  %3d msgs  %s\n",
			m.ID, m.UpdatedAt.Format("2006-01-02 15:04"), m.MessageCount, m.Preview)
	}
}
