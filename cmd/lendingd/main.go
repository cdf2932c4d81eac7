package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/api/router"
	"github.com/calonkonglo/rwa-lending-platform/internal/config"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
	"github.com/calonkonglo/rwa-lending-platform/internal/infrastructure/memory"
	pgstore "github.com/calonkonglo/rwa-lending-platform/internal/infrastructure/postgres"
	"github.com/calonkonglo/rwa-lending-platform/internal/observability"
	"github.com/calonkonglo/rwa-lending-platform/internal/pricefeed"
	"github.com/calonkonglo/rwa-lending-platform/internal/pricefeed/binance"
	"github.com/calonkonglo/rwa-lending-platform/internal/pricefeed/stream"
	"github.com/calonkonglo/rwa-lending-platform/internal/service/lending"
	"github.com/calonkonglo/rwa-lending-platform/pkg/database/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("lendingd", cfg.Logging.Level)

	maxLTV, err := decimal.NewFromString(cfg.Lending.MaxLTV)
	if err != nil {
		logger.Fatal().Err(err).Str("max_ltv", cfg.Lending.MaxLTV).Msg("invalid max LTV")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Position store
	var store repository.PositionStore
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, &postgres.Config{DSN: cfg.Database.DSN})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := postgres.NewMigrator(pool, cfg.Database.MigrationsDir).Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		store = pgstore.NewPositionRepository(pool)
	case "memory":
		store = memory.NewPositionRepository()
	default:
		logger.Fatal().Str("driver", cfg.Database.Driver).Msg("unknown database driver")
	}

	// Price oracle: REST fetcher behind a staleness-bounded cache, optionally
	// fed by the websocket stream
	fetcher := binance.NewClient(cfg.Oracle.Symbol, cfg.Oracle.Pair)
	oracle := pricefeed.NewCachedOracle(fetcher, cfg.Oracle.MaxAge, logger)

	if cfg.Oracle.Streaming {
		streamClient := stream.NewClient(cfg.Oracle.Symbol, cfg.Oracle.Pair, logger)
		streamClient.OnPrice(oracle.Observe)
		go streamClient.Run(ctx)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Lending engine and query service
	engineCfg := lending.Config{
		MaxLTV:      maxLTV,
		LockTimeout: cfg.Lending.LockTimeout,
	}
	engine := lending.NewEngine(store, oracle, engineCfg, logger, metrics)
	query := lending.NewQueryService(store, oracle, maxLTV)

	// Setup router
	r := router.Setup(&router.Config{
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.JWTExpiry,
		Engine:    engine,
		Query:     query,
		Registry:  registry,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}
