package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cutting-room-floor/backbone-couch/internal/auth"
	"github.com/cutting-room-floor/backbone-couch/internal/fakecouch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "couchfake").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	lag, err := strconv.Atoi(env("RECREATE_LAG", "0"))
	if err != nil || lag < 0 {
		log.Fatal().Str("value", os.Getenv("RECREATE_LAG")).Msg("RECREATE_LAG must be a non-negative integer")
	}

	creds := auth.Credentials{
		HS256Secret: env("JWT_HS256_SECRET", ""),
		Username:    env("COUCH_USER", ""),
		Password:    env("COUCH_PASSWORD", ""),
	}
	if creds.HS256Secret == "" && creds.Username == "" {
		log.Warn().Msg("authentication disabled, every request is accepted")
	}

	srv := fakecouch.New(fakecouch.Options{Credentials: creds, RecreateLag: lag})

	httpAddr := env("HTTP_ADDR", ":5984")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", httpAddr).Int("recreateLag", lag).Msg("starting fake document store")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
