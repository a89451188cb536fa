package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chat-node/internal/client"
	"chat-node/internal/config"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := client.OpenCache(cfg.CachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("cache open failed")
	}
	if cache != nil {
		defer cache.Close()
	}

	api := client.NewHTTPAPI(cfg.NodeURL, &http.Client{Timeout: 10 * time.Second})
	rec := client.NewReconciler(cfg.PendingWindow, log)
	store := client.NewStore(cfg.NodeID, api, rec, cache, log)

	if err := store.WarmStart(); err != nil {
		log.Warn().Err(err).Msg("cache warm start failed")
	}
	if err := store.Resync(ctx); err != nil {
		log.Warn().Err(err).Msg("initial sync failed, verifier will retry")
	}

	listener := client.NewListener(cfg.NodeURL, store, log)
	verifier := client.NewVerifier(store, api, cfg.VerifyInterval, log)

	go store.Run(ctx)
	go listener.Run(ctx)

	log.Info().Str("node", cfg.NodeURL).Str("identity", cfg.NodeID).Msg("chat client running")
	verifier.Run(ctx)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("node", cfg.NodeID).Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}
