package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/glup3/ghstats/internal"
	"github.com/glup3/ghstats/internal/app"
	"github.com/glup3/ghstats/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configs, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration failed")
	}
	configs.SetupLogging()

	a, err := app.New(ctx, configs, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("setting up service failed")
	}
	defer a.Close()

	srv := server.New(a.Service, a.GitHub, &server.Config{
		CORSOrigins: configs.CORSOrigins,
	})

	go func() {
		log.Info().Str("addr", configs.HTTPAddr).Str("cache", configs.CacheBackend).Msg("starting server")
		if err := srv.Start(configs.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
