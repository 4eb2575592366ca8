package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/busticket/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/busticket/internal/adapters/redis"
	"github.com/robertarktes/busticket/internal/backend"
	"github.com/robertarktes/busticket/internal/card"
	"github.com/robertarktes/busticket/internal/config"
	httphandler "github.com/robertarktes/busticket/internal/http"
	"github.com/robertarktes/busticket/internal/idempotency"
	"github.com/robertarktes/busticket/internal/journal"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/robertarktes/busticket/internal/rateLimit"
	"github.com/robertarktes/busticket/internal/session"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("BACKEND_BASE_URL", "CARD_API_URL", "REDIS_ADDR"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "busticket-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache, logger)

	api := backend.New(cfg.BackendBaseURL, cfg.BackendTimeout, logger)
	cards := card.New(cfg.CardAPIURL, cfg.CardAPIKey, cfg.BackendTimeout, logger)
	sessions := session.NewManager(api, api, redisadapter.NewSessionStore(redisClient), cfg.SessionTTL, logger)

	deps := httphandler.Deps{
		Backend:     api,
		Cards:       cards,
		Sessions:    sessions,
		Registry:    purchase.NewRegistry(),
		Hub:         httphandler.NewHub(),
		PayLock:     redisCache,
		PayLockTTL:  3 * cfg.BackendTimeout,
		PurchaseTTL: cfg.PurchaseTTL,
		Ready:       map[string]httphandler.Check{"redis": redisCache.Ping},
		Logger:      logger,
	}

	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(context.Background()); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		deps.Observers = append(deps.Observers, journal.New(repo, cfg.PurchaseTTL, logger))
		deps.Purchases = repo
		deps.Ready["crdb"] = repo.Ping
	} else {
		logger.Warn("CRDB_DSN not set, purchases are not journaled")
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		deps.Audit = mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
		deps.Ready["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
	}

	handlers := httphandler.NewHandlers(deps)
	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Limiter:       rl,
		RateLimitIP:   cfg.RateLimitIP,
		RateLimitUser: cfg.RateLimitUser,
		Idempotency:   idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweepRegistry(gctx, deps.Registry, cfg.PurchaseTTL, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("Server exiting")
}

// sweepRegistry forgets pipelines idle for longer than the purchase TTL. The
// journal keeps their final state.
func sweepRegistry(ctx context.Context, reg *purchase.Registry, ttl time.Duration, logger observability.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := reg.Sweep(now.Add(-ttl)); n > 0 {
				logger.WithField("count", n).Debug("dropped idle purchases")
			}
		}
	}
}
