// cmd/cached/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/artifactkit/modelcache/cache"
	"github.com/artifactkit/modelcache/internal/config"
	"github.com/artifactkit/modelcache/internal/http/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Cache
	mc, err := cache.Open(cfg.CacheConfig(), logger)
	if err != nil {
		log.Fatalf("cache error: %v", err)
	}
	defer func() {
		if err := mc.Close(); err != nil {
			logger.Error().Err(err).Msg("closing cache")
		}
	}()

	// Router / server
	s := routes.New(routes.ServerOptions{Cache: mc})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: h}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("storage", string(mc.ActiveStorage())).
			Msg("cached listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
