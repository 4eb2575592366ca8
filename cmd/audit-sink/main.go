package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/busticket/internal/adapters/mongo"
	"github.com/robertarktes/busticket/internal/adapters/rabbit"
	"github.com/robertarktes/busticket/internal/auditsink"
	"github.com/robertarktes/busticket/internal/config"
	"github.com/robertarktes/busticket/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	auditQueue   = "busticket.audit.q"
	auditBinding = "purchase.#"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("MONGO_URI", "RABBIT_URL"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
	if err := audit.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("failed to create audit indexes: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, auditQueue, auditBinding, 20)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", auditQueue, err)
	}
	logger.WithField("queue", auditQueue).Info("audit sink started")
	auditsink.New(audit, logger).Run(ctx, deliveries)
	logger.Info("Shutdown audit sink")
}
