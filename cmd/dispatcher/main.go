// Command dispatcher consumes seismic events, matches them against stored
// notification profiles and publishes one delivery request per matched user.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	_ "github.com/joho/godotenv/autoload"

	"github.com/couchcryptid/quake-alert-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/memory"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/postgres/entitlement"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/postgres/ledger"
	pgprofile "github.com/couchcryptid/quake-alert-service/internal/adapter/postgres/profile"
	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/dispatch"
	"github.com/couchcryptid/quake-alert-service/internal/geo"
	"github.com/couchcryptid/quake-alert-service/internal/intake"
	"github.com/couchcryptid/quake-alert-service/internal/matching"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/pipeline"
	"github.com/couchcryptid/quake-alert-service/internal/profile"
)

// eventLedger is the union of what intake and dispatch need from the ledger.
type eventLedger interface {
	intake.Ledger
	dispatch.Ledger
}

type stores struct {
	profiles     profile.Store
	tx           profile.TxRunner
	entitlements profile.Entitlements
	ledger       eventLedger
	close        func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "quake-alert-dispatcher")
	if err := run(cfg, logger); err != nil {
		logger.Error("dispatcher failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table, err := loadGeoTable(cfg)
	if err != nil {
		return err
	}
	normalizer := geo.NewNormalizer(table)
	logger.Info("place table loaded", "provinces", len(table.Provinces()), "districts", table.DistrictCount())

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	profiles := profile.NewService(st.profiles, st.tx, st.entitlements, normalizer, profile.Limits{
		MaxProfilesPerUser:     cfg.MaxProfilesPerUser,
		FreeActiveProfileLimit: cfg.FreeActiveProfileLimit,
	}, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(pipeline.Stages{
		Extractor:   reader,
		Intake:      intake.New(intake.NewCachedLedger(st.ledger, cfg.DedupCacheSize, metrics), logger),
		Profiles:    profiles,
		Matcher:     matching.NewEngine(normalizer, cfg.MatchWorkers, metrics, logger),
		Coordinator: dispatch.NewCoordinator(st.ledger, normalizer, metrics, logger),
		Publisher:   writer,
	}, logger, metrics, cfg.BatchSize, cfg.StoreTimeout)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, httpadapter.NewProfileHandler(profiles, logger), logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func loadGeoTable(cfg *config.Config) (*geo.Table, error) {
	if cfg.GeoTablePath != "" {
		table, err := geo.LoadTableFile(cfg.GeoTablePath)
		if err != nil {
			return nil, fmt.Errorf("load GEO_TABLE_PATH: %w", err)
		}
		return table, nil
	}
	return geo.DefaultTable()
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory stores; profiles and dispatch records are lost on restart")
		return &stores{
			profiles:     memory.NewProfileStore(),
			tx:           memory.NewTxRunner(),
			entitlements: memory.NewEntitlements(),
			ledger:       memory.NewLedger(),
			close:        func() {},
		}, nil
	}

	if err := postgres.Migrate(ctx, cfg.DatabaseURL, logger.With("component", "migrate")); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("postgres connected", "max_conns", pool.Config().MaxConns)

	return &stores{
		profiles:     pgprofile.New(pool),
		tx:           postgres.NewTxManager(pool),
		entitlements: entitlement.New(pool),
		ledger:       ledger.New(pool),
		close:        pool.Close,
	}, nil
}
