// Command relay runs the coordination service for concurrent editors.
//
// Usage:
//
//	KV_URL=redis://localhost:6379 CRON_SECRET=... relay
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/relay/internal/activity"
	"github.com/p-blackswan/relay/internal/clock"
	"github.com/p-blackswan/relay/internal/config"
	"github.com/p-blackswan/relay/internal/depgraph"
	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/lockreg"
	"github.com/p-blackswan/relay/internal/mcp"
	"github.com/p-blackswan/relay/internal/metrics"
	"github.com/p-blackswan/relay/internal/parser"
	"github.com/p-blackswan/relay/internal/relay"
	"github.com/p-blackswan/relay/internal/repohost"
	"github.com/p-blackswan/relay/internal/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Bool("strict_identity", cfg.StrictIdentity).
		Bool("remote_token", cfg.RemoteHostToken != "").
		Msg("starting relay")

	// KV store
	store, err := kv.NewRedis(cfg.KVURL, cfg.KVToken, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect KV store")
	}
	defer store.Close()

	// Remote repo host
	host := repohost.NewClient(cfg.RemoteHostToken, logger)

	// Core components
	clk := clock.System{}
	m := metrics.New()
	locks := lockreg.New(store, logger)
	graphs := depgraph.NewBuilder(store, host, parser.NewExtractor(), clk, m, logger)
	feed := activity.NewFeed(store, logger)

	svc := relay.New(clk, host, locks, graphs, feed, m, cfg.StrictIdentity, logger)

	// Agent protocol bridge
	adapter := mcp.NewAdapter(svc, cfg.CanonicalRepoURL, logger)
	bridge := mcp.NewBridge(adapter, logger)

	srv := server.New(server.Config{
		ListenAddr:     fmt.Sprintf(":%d", cfg.HTTPPort),
		CronSecret:     cfg.CronSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, svc, store, m, bridge.Handler(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		if err := srv.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}

	logger.Info().Msg("relay stopped")
}
