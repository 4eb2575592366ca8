// Package journal persists purchase transitions and queues their milestone
// events in the same transaction.
package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/purchase"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	UpsertPurchase(ctx context.Context, tx pgx.Tx, rec domain.PurchaseRecord) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, rec crdb.OutboxRecord) error
}

const writeTimeout = 5 * time.Second

// Journal is a purchase.Observer.
type Journal struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func New(store Store, purchaseTTL time.Duration, logger observability.Logger) *Journal {
	return &Journal{store: store, ttl: purchaseTTL, logger: logger}
}

var milestones = map[purchase.State]string{
	purchase.StateReserved:    domain.EventPurchaseReserved,
	purchase.StateIntentReady: domain.EventPurchaseIntentReady,
	purchase.StateCaptured:    domain.EventPurchaseCaptured,
	purchase.StateFailed:      domain.EventPurchaseFailed,
}

// OnTransition never fails the purchase; journal errors are logged.
func (j *Journal) OnTransition(ctx context.Context, t purchase.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := j.Record(ctx, t); err != nil {
		j.logger.WithFields(map[string]interface{}{
			"purchase_id": t.PurchaseID.String(),
			"state":       string(t.To),
		}).Error("failed to journal purchase transition: ", err)
	}
}

func (j *Journal) Record(ctx context.Context, t purchase.Transition) error {
	rec := Record(t, j.ttl)
	eventType, milestone := milestones[t.To]

	var outboxRec crdb.OutboxRecord
	if milestone {
		var err error
		outboxRec, err = crdb.PurchaseEventRecord(domain.EventFromRecord(eventType, rec, t.At))
		if err != nil {
			return err
		}
	}

	return j.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := j.store.UpsertPurchase(ctx, tx, rec); err != nil {
			return err
		}
		if milestone {
			return j.store.InsertOutbox(ctx, tx, outboxRec)
		}
		return nil
	})
}

// Record maps a transition onto its journal row. The pipeline's own
// deadline wins over ttl when it has one.
func Record(t purchase.Transition, ttl time.Duration) domain.PurchaseRecord {
	s := t.Snapshot
	at := t.At.UTC()
	expires := at.Add(ttl)
	if !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.UTC()
	}
	return domain.PurchaseRecord{
		ID:            t.PurchaseID,
		UserID:        s.UserID,
		RouteID:       s.RouteID,
		Selection:     s.Selection,
		TotalAmount:   s.TotalAmount,
		State:         string(t.To),
		ReservationID: s.ReservationID,
		PurchaseRef:   s.PurchaseRef,
		PaymentID:     s.PaymentID,
		FailureKind:   string(s.FailureKind),
		FailureCode:   s.FailureCode,
		CreatedAt:     at,
		UpdatedAt:     at,
		ExpiresAt:     expires,
	}
}
