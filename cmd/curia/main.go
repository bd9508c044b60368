// Package main is the entry point for the curia listing service.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/syvkst/curia/api"
	"github.com/syvkst/curia/internal/catalog"
	"github.com/syvkst/curia/internal/config"
	"github.com/syvkst/curia/internal/dispatch"
	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/server"
	"github.com/syvkst/curia/internal/session"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "curia").Str("version", version).Logger()
	}

	logger := log.With().Str("component", "main").Logger()
	logger.Info().Str("version", version).Str("commit", commit).Str("build_date", buildDate).Msg("starting curia")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("curia stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped gracefully")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	storeMetrics := metrics.NewStore(reg)
	dispatchMetrics := metrics.NewDispatch(reg)
	pollMetrics := metrics.NewPoll(reg)

	opts := []server.Option{
		server.WithOpenAPISpec(api.OpenAPISpec),
		server.WithMetrics(reg, storeMetrics),
		server.WithLogger(log.With().Str("component", "http").Logger()),
	}
	if cfg.CatalogPath != "" {
		cat, catErr := catalog.Load(cfg.CatalogPath)
		if catErr != nil {
			return fmt.Errorf("loading court catalog: %w", catErr)
		}
		logger.Info().Str("path", cfg.CatalogPath).Int("courts", len(cat.Courts())).Msg("court catalog loaded")
		opts = append(opts, server.WithCatalog(cat))
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	dispatcher := dispatch.New(backend, dispatch.Config{
		Workers:      cfg.WriteConcurrency,
		QueueSize:    cfg.WriteQueueSize,
		WriteTimeout: cfg.WriteTimeout,
	},
		dispatch.WithLogger(log.With().Str("component", "dispatch").Logger()),
		dispatch.WithMetrics(dispatchMetrics),
	)
	dispatcher.Start(dispatchCtx)

	sessionLog := log.With().Str("component", "session").Logger()
	editors := session.NewRegistry(func() *session.Manager {
		return session.NewManager(backend, dispatcher, session.Config{PollInterval: cfg.PollInterval},
			session.WithLogger(sessionLog),
			session.WithPollMetrics(pollMetrics),
		)
	}, cfg.MaxEditors, sessionLog)
	opts = append(opts, server.WithEditors(editors))

	srv := server.New(backend, cfg, version, commit, buildDate, opts...)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Str("store", cfg.StoreDriver).Msg("HTTP server listening")
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error().Err(shutdownErr).Msg("HTTP server shutdown error")
		}

		editors.CloseAll()
		cancelDispatch()
		select {
		case <-dispatcher.Done():
		case <-shutdownCtx.Done():
			logger.Warn().Msg("dispatcher did not stop before the shutdown deadline")
		}
		return nil
	})

	return g.Wait()
}
