package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/config"
	"github.com/robertarktes/busticket/internal/expiry"
	"github.com/robertarktes/busticket/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("CRDB_DSN"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "busticket-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	worker := expiry.NewWorker(repo, logger, 100)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker.Run(ctx, time.Minute)
	logger.Info("Shutdown expiry worker")
}
