package crdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCRDB(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestRepository(t *testing.T) {
	repo := startCRDB(t)
	ctx := context.Background()

	t.Run("upsert keeps creation time", func(t *testing.T) {
		rec := domain.NewPurchaseRecord(uuid.New(), "17", "7", domain.TicketSelection{Adult: 2, Child: 1}, 15*time.Minute)
		rec.State = "RESERVED"
		rec.TotalAmount = 13
		rec.ReservationID = "42"
		if err := repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.UpsertPurchase(ctx, tx, rec) }); err != nil {
			t.Fatal(err)
		}

		later := rec
		later.State = "FAILED"
		later.FailureKind = "CARD_DECLINED"
		later.FailureCode = "insufficient_funds"
		later.CreatedAt = rec.CreatedAt.Add(time.Hour)
		later.UpdatedAt = rec.UpdatedAt.Add(time.Minute)
		if err := repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.UpsertPurchase(ctx, tx, later) }); err != nil {
			t.Fatal(err)
		}

		got, err := repo.GetPurchase(ctx, rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != "FAILED" || got.FailureCode != "insufficient_funds" || got.TotalAmount != 13 || got.Selection.Adult != 2 {
			t.Errorf("unexpected record %+v", got)
		}
		if !got.CreatedAt.Equal(rec.CreatedAt.Truncate(time.Microsecond)) {
			t.Errorf("created_at changed: %v != %v", got.CreatedAt, rec.CreatedAt)
		}
	})

	t.Run("missing purchase", func(t *testing.T) {
		if _, err := repo.GetPurchase(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("stale purchases are abandoned once", func(t *testing.T) {
		stale := domain.NewPurchaseRecord(uuid.New(), "18", "9", domain.TicketSelection{Adult: 1}, -time.Minute)
		stale.State = "INTENT_READY"
		done := domain.NewPurchaseRecord(uuid.New(), "18", "9", domain.TicketSelection{Adult: 1}, -time.Minute)
		done.State = "CAPTURED"
		err := repo.WithTx(ctx, func(tx pgx.Tx) error {
			if err := repo.UpsertPurchase(ctx, tx, stale); err != nil {
				return err
			}
			return repo.UpsertPurchase(ctx, tx, done)
		})
		if err != nil {
			t.Fatal(err)
		}

		recs, err := repo.GetStalePurchases(ctx, time.Now(), 100)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, r := range recs {
			if r.ID == done.ID {
				t.Error("captured purchase must not be stale")
			}
			found = found || r.ID == stale.ID
		}
		if !found {
			t.Fatal("expected stale purchase to be listed")
		}

		var abandoned domain.PurchaseRecord
		err = repo.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			abandoned, err = repo.MarkAbandoned(ctx, tx, stale.ID, time.Now())
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if abandoned.State != domain.StateAbandoned || abandoned.UserID != "18" {
			t.Errorf("unexpected abandoned record %+v", abandoned)
		}

		err = repo.WithTx(ctx, func(tx pgx.Tx) error {
			_, err := repo.MarkAbandoned(ctx, tx, stale.ID, time.Now())
			return err
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected second abandon to report not found, got %v", err)
		}
	})

	t.Run("abandoned purchase stays abandoned", func(t *testing.T) {
		rec := domain.NewPurchaseRecord(uuid.New(), "19", "9", domain.TicketSelection{Adult: 1}, -time.Minute)
		rec.State = "INTENT_READY"
		if err := repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.UpsertPurchase(ctx, tx, rec) }); err != nil {
			t.Fatal(err)
		}
		err := repo.WithTx(ctx, func(tx pgx.Tx) error {
			_, err := repo.MarkAbandoned(ctx, tx, rec.ID, time.Now())
			return err
		})
		if err != nil {
			t.Fatal(err)
		}

		captured := rec
		captured.State = "CAPTURED"
		captured.PaymentID = "pi_late"
		captured.UpdatedAt = time.Now()
		err = repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.UpsertPurchase(ctx, tx, captured) })
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict writing over an abandoned purchase, got %v", err)
		}

		got, err := repo.GetPurchase(ctx, rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != domain.StateAbandoned || got.PaymentID != "" {
			t.Errorf("abandoned purchase was overwritten: %+v", got)
		}
	})

	t.Run("confirming purchase is never abandoned", func(t *testing.T) {
		rec := domain.NewPurchaseRecord(uuid.New(), "20", "9", domain.TicketSelection{Adult: 1}, -time.Minute)
		rec.State = "CONFIRMING"
		if err := repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.UpsertPurchase(ctx, tx, rec) }); err != nil {
			t.Fatal(err)
		}

		recs, err := repo.GetStalePurchases(ctx, time.Now(), 100)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range recs {
			if r.ID == rec.ID {
				t.Error("confirming purchase must not be stale")
			}
		}

		err = repo.WithTx(ctx, func(tx pgx.Tx) error {
			_, err := repo.MarkAbandoned(ctx, tx, rec.ID, time.Now())
			return err
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected abandon to skip a confirming purchase, got %v", err)
		}
	})

	t.Run("outbox claim and publish", func(t *testing.T) {
		rec := crdb.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "purchase",
			AggregateID:   uuid.New(),
			EventType:     domain.EventPurchaseCaptured,
			Payload:       []byte(`{"type":"purchase.captured"}`),
			DedupeKey:     uuid.NewString(),
		}
		if err := repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.InsertOutbox(ctx, tx, rec) }); err != nil {
			t.Fatal(err)
		}
		dup := rec
		dup.ID = uuid.New()
		if err := repo.WithTx(ctx, func(tx pgx.Tx) error { return repo.InsertOutbox(ctx, tx, dup) }); err != nil {
			t.Fatalf("duplicate dedupe key should be ignored: %v", err)
		}

		err := repo.WithTx(ctx, func(tx pgx.Tx) error {
			claimed, err := repo.ClaimUnpublished(ctx, tx, 10)
			if err != nil {
				return err
			}
			if len(claimed) != 1 || claimed[0].ID != rec.ID || claimed[0].Status != "NEW" {
				t.Errorf("unexpected claim %+v", claimed)
			}
			return repo.MarkPublished(ctx, tx, rec.ID, time.Now())
		})
		if err != nil {
			t.Fatal(err)
		}

		err = repo.WithTx(ctx, func(tx pgx.Tx) error {
			claimed, err := repo.ClaimUnpublished(ctx, tx, 10)
			if len(claimed) != 0 {
				t.Errorf("published rows must not be claimed again: %+v", claimed)
			}
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestPurchaseEventRecord(t *testing.T) {
	id := uuid.New()
	rec, err := crdb.PurchaseEventRecord(domain.PurchaseEvent{Type: domain.EventPurchaseCaptured, PurchaseID: id, TotalAmount: 13})
	if err != nil {
		t.Fatal(err)
	}
	if rec.AggregateType != "purchase" || rec.AggregateID != id || rec.EventType != domain.EventPurchaseCaptured {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.DedupeKey != id.String()+":purchase.captured" {
		t.Errorf("unexpected dedupe key %q", rec.DedupeKey)
	}
	if rec.ID == uuid.Nil || len(rec.Payload) == 0 {
		t.Errorf("record needs an id and a payload: %+v", rec)
	}
}
