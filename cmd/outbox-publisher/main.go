package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/adapters/rabbit"
	"github.com/robertarktes/busticket/internal/config"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("CRDB_DSN", "RABBIT_URL"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "busticket-outbox-publisher")
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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	publisher := outbox.NewPublisher(repo, rabbitPub, logger, time.Second, 100)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher.Run(ctx)
	logger.Info("Shutdown outbox publisher")
}
