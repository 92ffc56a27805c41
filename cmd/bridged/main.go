package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiPkg "github.com/oneiocloud/universal-teams-bot/internal/api"
	"github.com/oneiocloud/universal-teams-bot/internal/bot"
	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/config"
	"github.com/oneiocloud/universal-teams-bot/internal/gateway"
	"github.com/oneiocloud/universal-teams-bot/internal/logbuf"
	"github.com/oneiocloud/universal-teams-bot/internal/store"
	"github.com/oneiocloud/universal-teams-bot/internal/sweep"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
	"github.com/oneiocloud/universal-teams-bot/internal/transport/slackconn"
	"github.com/oneiocloud/universal-teams-bot/internal/transport/teams"
	"github.com/oneiocloud/universal-teams-bot/internal/transport/telegram"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("bridged starting", "storage", cfg.Storage.Backend, "port", cfg.API.Port)

	// 1. Ticket context store
	var contexts store.Store
	switch cfg.Storage.Backend {
	case "sqlite":
		contexts, err = store.NewSQLiteStore(cfg.Storage.Path, logger.With("component", "store"))
		if err != nil {
			logger.Error("failed to open context store", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
	default:
		contexts = store.NewFileStore(cfg.Storage.Path, logger.With("component", "store"))
	}
	defer contexts.Close()

	// 2. Gateway client. Credentials are resolved per call so their
	// absence fails the relay, not startup, and rotation needs no
	// restart.
	gw := &gateway.Client{
		Resolve: func() gateway.Config {
			g := cfg.Gateway
			if g.URL == "" {
				g.URL = os.Getenv("BRIDGE_GATEWAY_URL")
			}
			if g.Key == "" {
				g.Key = os.Getenv("BRIDGE_GATEWAY_KEY")
			}
			if g.Secret == "" {
				g.Secret = os.Getenv("BRIDGE_GATEWAY_SECRET")
			}
			return gateway.Config(g)
		},
		Logger: logger.With("component", "gateway"),
	}

	// 3. Router and validator
	router := &bot.Router{
		Store:   contexts,
		Gateway: gw,
		Logger:  logger.With("component", "router"),
	}
	validator := &card.Validator{SchemaURL: cfg.Card.SchemaURL}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Transports. Teams is always on; Slack and Telegram join the
	// mux when configured so pushed updates reach whichever platform
	// created the ticket.
	mux := transport.NewMux()
	teamsTransport := teams.New(teams.Config{
		AppID:       cfg.Bot.AppID,
		AppPassword: cfg.Bot.AppPassword,
	}, logger.With("transport", "teams"))
	mux.Register(teamsTransport)

	if cfg.Connectors.Slack != nil {
		slackConn, err := slackconn.New(slackconn.Config{
			BotToken: cfg.Connectors.Slack.BotToken,
			AppToken: cfg.Connectors.Slack.AppToken,
			Channels: cfg.Connectors.Slack.Channels,
		}, router.Handle, logger.With("transport", "slack"))
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		mux.Register(slackConn)
		go safeGo(logger, "slack", func() { slackConn.Start(ctx) })
		logger.Info("slack connector started")
	}

	if cfg.Connectors.Telegram != nil {
		tgConn, err := telegram.New(telegram.Config{
			Token:     cfg.Connectors.Telegram.Token,
			AllowFrom: cfg.Connectors.Telegram.AllowFrom,
		}, router.Handle, logger.With("transport", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		mux.Register(tgConn)
		go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
		logger.Info("telegram connector started")
	}

	// 5. Retention sweeper
	if cfg.Retention != nil {
		maxAge := time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour
		sweeper, err := sweep.New(contexts, cfg.Retention.Schedule, maxAge, logger.With("component", "sweep"))
		if err != nil {
			logger.Error("failed to init sweeper", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "sweeper", func() { sweeper.Start(ctx) })
	}

	// 6. HTTP boundary
	apiSrv := apiPkg.NewServer(teamsTransport, router.Handle, mux, validator, contexts, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("bridged stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
