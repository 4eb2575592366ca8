package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string
	BackendBaseURL string
	BackendTimeout time.Duration
	CardAPIURL     string
	CardAPIKey     string
	CRDBDSN        string
	MongoURI       string
	MongoDB        string
	RedisAddr      string
	RabbitURL      string
	OTLPEndpoint   string
	SessionTTL     time.Duration
	PurchaseTTL    time.Duration
	IdempotencyTTL time.Duration
	LogLevel       string
	RateLimitUser  int
	RateLimitIP    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		BackendBaseURL: os.Getenv("BACKEND_BASE_URL"),
		BackendTimeout: getDuration("BACKEND_TIMEOUT", 10*time.Second),
		CardAPIURL:     os.Getenv("CARD_API_URL"),
		CardAPIKey:     os.Getenv("CARD_API_KEY"),
		CRDBDSN:        os.Getenv("CRDB_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getEnv("MONGO_DB", "busticket"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SessionTTL:     getDuration("SESSION_TTL", 24*time.Hour),
		PurchaseTTL:    getDuration("PURCHASE_TTL", 15*time.Minute),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", time.Hour),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RateLimitUser:  getInt("RATE_LIMIT_USER", 30),
		RateLimitIP:    getInt("RATE_LIMIT_IP", 300),
	}

	return cfg, nil
}

// Require fails on the first named setting left empty. Each binary names
// the ones it cannot run without.
func (c *Config) Require(names ...string) error {
	values := map[string]string{
		"BACKEND_BASE_URL": c.BackendBaseURL,
		"CARD_API_URL":     c.CardAPIURL,
		"CRDB_DSN":         c.CRDBDSN,
		"MONGO_URI":        c.MongoURI,
		"REDIS_ADDR":       c.RedisAddr,
		"RABBIT_URL":       c.RabbitURL,
	}
	for _, name := range names {
		v, known := values[name]
		if !known {
			return errors.Newf("unknown setting %s", name)
		}
		if v == "" {
			return errors.Newf("%s is required", name)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
