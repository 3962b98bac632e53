// cmd/benefits/main.go
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

	"fidelya/internal/benefits"
	"fidelya/internal/clients"
	"fidelya/internal/config"
	"fidelya/internal/httpapi"
	"fidelya/internal/tracing"
	"fidelya/pkg/eventstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "benefits").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(ctx, "fidelya-benefits", cfg.OTLPEndpoint)
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

	var index benefits.BeneficioIndex = benefits.NoopIndex{}
	if cfg.Benefits.MeiliHost != "" {
		index = benefits.NewMeiliIndex(cfg.Benefits.MeiliHost, cfg.Benefits.MeiliAPIKey, cfg.Benefits.BeneficioIndex)
		logger.Info().Str("host", cfg.Benefits.MeiliHost).Msg("beneficio search index enabled")
	}

	socios := clients.NewMembershipClient(cfg.Benefits.MembershipURL)
	es := eventstore.NewEventStore(db.DB)
	svc := benefits.NewService(db, es, socios, index, logger)
	handler := benefits.NewHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpapi.RequestLogger(logger))
	handler.Routes(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Benefits.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Benefits.Port).Msg("benefits service listening")
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
