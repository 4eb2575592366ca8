// Package expiry closes purchases that were never paid.
package expiry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetStalePurchases(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseRecord, error)
	MarkAbandoned(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (domain.PurchaseRecord, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, rec crdb.OutboxRecord) error
}

const maxRetries = 3

// abandonGrace lets a Pay that started right at the deadline reach
// CONFIRMING before the row is considered stale.
const abandonGrace = time.Minute

// Worker marks stale purchases ABANDONED and queues purchase.abandoned in
// the same transaction. Reservations are not released here; the backend
// has no endpoint for it.
type Worker struct {
	repo    Store
	logger  observability.Logger
	batch   int
	grace   time.Duration
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

func NewWorker(repo Store, logger observability.Logger, batch int) *Worker {
	return &Worker{
		repo:   repo,
		logger: logger,
		batch:  batch,
		grace:  abandonGrace,
		now:    time.Now,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.SweepOnce(ctx)
			if err != nil {
				w.logger.Error("expiry sweep failed: ", err)
				continue
			}
			if n > 0 {
				w.logger.WithField("count", n).Info("abandoned stale purchases")
			}
		}
	}
}

// SweepOnce abandons up to one batch of stale purchases.
func (w *Worker) SweepOnce(ctx context.Context) (int, error) {
	stale, err := w.repo.GetStalePurchases(ctx, w.now().Add(-w.grace), w.batch)
	if err != nil {
		return 0, err
	}
	abandoned := 0
	for _, rec := range stale {
		ok, err := w.abandonWithRetry(ctx, rec.ID)
		if err != nil {
			w.logger.WithField("purchase_id", rec.ID.String()).Error("failed to abandon purchase after retries: ", err)
			continue
		}
		if ok {
			abandoned++
			observability.AbandonedPurchases.Inc()
		}
	}
	return abandoned, nil
}

// abandonWithRetry retries serialization conflicts only. It reports false
// when the purchase finished on its own in the meantime.
func (w *Worker) abandonWithRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = w.abandon(ctx, id)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, domain.ErrNotFound):
			return false, nil
		case !errors.Is(err, domain.ErrSerializationFailure):
			return false, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(w.backoff(i)):
		}
	}
	return false, errors.Wrapf(err, "failed after %d retries", maxRetries)
}

func (w *Worker) abandon(ctx context.Context, id uuid.UUID) error {
	at := w.now().UTC()
	return w.repo.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := w.repo.MarkAbandoned(ctx, tx, id, at)
		if err != nil {
			return err
		}
		ob, err := crdb.PurchaseEventRecord(domain.EventFromRecord(domain.EventPurchaseAbandoned, rec, at))
		if err != nil {
			return err
		}
		return w.repo.InsertOutbox(ctx, tx, ob)
	})
}
