package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/trendke/livehub/internal/adapters/http"
	"github.com/trendke/livehub/internal/adapters/ws"
	"github.com/trendke/livehub/internal/auth"
	"github.com/trendke/livehub/internal/config"
	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/live"
	"github.com/trendke/livehub/internal/notify"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret must be configured")
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisEnabled {
		rn := notify.NewRedisNotifier(cfg.RedisAddr, cfg.RedisChannel)
		defer rn.Close()
		notifier = rn
		log.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("redis notifier enabled")
	}

	verifier := auth.NewVerifier(cfg.Secret)
	conns := core.NewConnectionRegistry()
	rooms := core.NewRoomDirectory(conns)
	sessions := live.NewRegistry()
	handler := live.NewHandler(sessions, notifier)
	controller := ws.NewController(cfg, verifier, conns, rooms, handler)

	r := router.SetupRouter(ctx, router.Deps{
		Cfg:      cfg,
		Verifier: verifier,
		Conns:    conns,
		Rooms:    rooms,
		Live:     handler,
		WS:       controller,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("livehub server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
