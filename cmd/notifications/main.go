// cmd/notifications/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fidelya/internal/config"
	"fidelya/internal/httpapi"
	"fidelya/internal/notifications"
	"fidelya/internal/tracing"
	"fidelya/pkg/eventstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "notifications").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(ctx, "fidelya-notifications", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracer provider")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer provider shutdown")
		}
	}()

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	waProviders := make([]notifications.Provider, 0, len(cfg.Notifications.WhatsAppProviders))
	for _, pc := range cfg.Notifications.WhatsAppProviders {
		waProviders = append(waProviders, notifications.NewHTTPProvider(pc.Name, pc.BaseURL, pc.APIKey))
	}
	chain := notifications.NewWhatsAppChain(logger, waProviders...)

	emailCfg := cfg.Notifications.EmailProvider
	emailProvider := notifications.NewHTTPProvider(emailCfg.Name, emailCfg.BaseURL, emailCfg.APIKey)
	email := notifications.NewEmailSender(emailProvider, cfg.Notifications.EmailAttempts, cfg.Notifications.EmailBackoff, logger)

	es := eventstore.NewEventStore(db.DB)
	svc := notifications.NewService(db, es, chain, email, logger)
	handler := notifications.NewHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpapi.RequestLogger(logger))
	handler.Routes(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Notifications.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Notifications.Port).Msg("notifications service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
}
