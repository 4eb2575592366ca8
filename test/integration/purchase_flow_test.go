package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/busticket/internal/adapters/mongo"
	"github.com/robertarktes/busticket/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/busticket/internal/adapters/redis"
	"github.com/robertarktes/busticket/internal/auditsink"
	"github.com/robertarktes/busticket/internal/backend"
	"github.com/robertarktes/busticket/internal/domain"
	httphandler "github.com/robertarktes/busticket/internal/http"
	"github.com/robertarktes/busticket/internal/idempotency"
	"github.com/robertarktes/busticket/internal/journal"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/outbox"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/robertarktes/busticket/internal/rateLimit"
	"github.com/robertarktes/busticket/internal/session"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// stubBackend stands in for the remote ticketing API.
type stubBackend struct{}

func (stubBackend) Login(ctx context.Context, creds domain.Credentials) (session.LoginResult, error) {
	return session.LoginResult{Token: "opaque-token", UserID: "17", Roles: []domain.Role{domain.RolePassenger}}, nil
}

func (stubBackend) Logout(ctx context.Context) error { return nil }

func (stubBackend) GetOffering(ctx context.Context, id string) (domain.RouteOffering, error) {
	return domain.RouteOffering{
		ID:          id,
		Origin:      "Panamá",
		Destination: "David",
		DepartureAt: time.Now().Add(3 * time.Hour),
		Prices:      domain.Prices{Adult: 5, Child: 3, Senior: 2.5},
	}, nil
}

func (stubBackend) CreateReservation(ctx context.Context, routeID string, adult, child, senior int) (domain.ReservedTicket, error) {
	return domain.ReservedTicket{ID: "42", RouteID: routeID}, nil
}

func (stubBackend) CreateIntent(ctx context.Context, reservationID, userID string) (domain.PaymentIntent, error) {
	return domain.PaymentIntent{ClientSecret: "pi_9_secret_z", PurchaseID: "77"}, nil
}

func (stubBackend) Capture(ctx context.Context, paymentID, purchaseID string) (string, error) {
	return "Pago completado", nil
}

func (stubBackend) FindRoutes(ctx context.Context, origin, destination string) ([]domain.RouteOffering, error) {
	return nil, nil
}

func (stubBackend) TicketsByUser(ctx context.Context, userID string) ([]domain.Ticket, error) {
	return nil, nil
}

func (stubBackend) ValidateQR(ctx context.Context, code string) (backend.BoardingCheck, error) {
	return backend.BoardingCheck{}, nil
}

func (stubBackend) Register(ctx context.Context, reg domain.Registration) error { return nil }

func (stubBackend) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return domain.Profile{UserID: userID, FirstName: "Ana", Email: "ana@example.com"}, nil
}

func (stubBackend) UpdateProfile(ctx context.Context, userID string, upd domain.ProfileUpdate) (domain.Profile, error) {
	return domain.Profile{}, nil
}

func (stubBackend) UpdateProfilePicture(ctx context.Context, userID string, image io.Reader) error {
	return nil
}

type stubCards struct{}

func (stubCards) Confirm(ctx context.Context, secret string, in domain.CardInput) (domain.PaymentOutcome, error) {
	return domain.PaymentOutcome{Succeeded: true, PaymentID: "pi_9"}, nil
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

func TestIntegration_PurchaseFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	logger := observability.NewNopLogger()

	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	}, "6379")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
	}, "5672")

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("busticket"), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)

	conn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "busticket.audit.q", "purchase.#", 10)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		t.Fatal(err)
	}

	sinkCtx, stopSink := context.WithCancel(ctx)
	defer stopSink()
	deliveries, err := consumer.Consume(sinkCtx)
	if err != nil {
		t.Fatal(err)
	}
	go auditsink.New(audit, logger).Run(sinkCtx, deliveries)

	api := stubBackend{}
	handlers := httphandler.NewHandlers(httphandler.Deps{
		Backend:   api,
		Cards:     stubCards{},
		Sessions:  session.NewManager(api, api, redisadapter.NewSessionStore(redisClient), time.Hour, logger),
		Registry:  purchase.NewRegistry(),
		Observers: []purchase.Observer{journal.New(repo, 15*time.Minute, logger)},
		PayLock:   redisCache,
		Purchases: repo,
		Audit:     audit,
		Logger:    logger,
	})
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Limiter:       rateLimit.NewRateLimiter(redisCache, logger),
		RateLimitIP:   100,
		RateLimitUser: 100,
		Idempotency:   idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour),
	}))
	defer srv.Close()

	call := func(method, path, sess string, body interface{}, out interface{}) int {
		t.Helper()
		data, _ := json.Marshal(body)
		req, _ := http.NewRequest(method, srv.URL+path, bytes.NewReader(data))
		if sess != "" {
			req.Header.Set("Authorization", "Bearer "+sess)
		}
		if method == http.MethodPost {
			req.Header.Set("Idempotency-Key", uuid.NewString())
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if out != nil {
			json.NewDecoder(resp.Body).Decode(out)
		}
		return resp.StatusCode
	}

	var login struct {
		SessionID string `json:"session_id"`
	}
	if code := call(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "Secreta1!"}, &login); code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}

	var created struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if code := call(http.MethodPost, "/v1/purchases", login.SessionID, map[string]interface{}{"route_id": "7", "adult": 2, "child": 1}, &created); code != http.StatusCreated {
		t.Fatalf("create purchase: %d", code)
	}

	var paid struct {
		State string `json:"state"`
	}
	if code := call(http.MethodPost, "/v1/purchases/"+created.ID+"/pay", login.SessionID, map[string]string{"payment_method": "pm_card_visa"}, &paid); code != http.StatusOK {
		t.Fatalf("pay: %d", code)
	}
	if paid.State != "CAPTURED" {
		t.Fatalf("expected CAPTURED, got %s", paid.State)
	}

	rec, err := repo.GetPurchase(ctx, uuid.MustParse(created.ID))
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != "CAPTURED" || rec.TotalAmount != 13 || rec.PaymentID != "pi_9" {
		t.Fatalf("unexpected journal row %+v", rec)
	}

	relay := outbox.NewPublisher(repo, rabbitPub, logger, time.Second, 100)
	n, err := relay.RelayOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected reserved, intent_ready and captured events, relayed %d", n)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		var events []map[string]interface{}
		call(http.MethodGet, "/v1/purchases/"+created.ID+"/events", login.SessionID, nil, &events)
		if len(events) == 3 {
			seen := map[interface{}]bool{}
			for _, ev := range events {
				seen[ev["action"]] = true
			}
			if !seen[domain.EventPurchaseReserved] || !seen[domain.EventPurchaseIntentReady] || !seen[domain.EventPurchaseCaptured] {
				t.Fatalf("unexpected audit trail %+v", events)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit trail incomplete: %+v", events)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
