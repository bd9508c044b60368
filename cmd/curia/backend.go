package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/syvkst/curia/internal/config"
	"github.com/syvkst/curia/internal/store"
)

// openBackend builds the configured store, wrapped in a NATS change feed
// when a NATS URL is set. The returned func releases its connections.
func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Backend, func(), error) {
	var (
		backend store.Backend
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.DriverFile:
		fileStore, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("dir", cfg.DataDir).Msg("using listing directory")
		backend = fileStore
	case config.DriverPostgres:
		db, err := store.OpenPostgres(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		logger.Info().Msg("connected to PostgreSQL")

		result, err := store.Migrate(db)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("running database migrations: %w", err)
		}
		logger.Info().Uint("version", result.Version).Bool("dirty", result.Dirty).Msg("database migration complete")
		backend = store.NewPostgresStore(db)
	default:
		logger.Warn().Msg("using in-memory listing store; listings are lost on restart")
		backend = store.NewMemoryStore()
	}

	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name("curia"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		closers = append(closers, func() {
			if drainErr := conn.Drain(); drainErr != nil {
				logger.Warn().Err(drainErr).Msg("draining NATS connection")
			}
		})
		logger.Info().Str("url", conn.ConnectedUrlRedacted()).Str("prefix", cfg.NATSSubjectPrefix).Msg("publishing listing changes to NATS")
		backend = store.NewNATSFeed(backend, conn, cfg.NATSSubjectPrefix,
			store.WithFeedLogger(log.With().Str("component", "nats").Logger()),
		)
	}

	return backend, closeAll, nil
}
