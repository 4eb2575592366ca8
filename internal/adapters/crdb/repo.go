package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/busticket/internal/domain"
)

const (
	SerializationFailureCode = "40001"
)

// Schema creates the purchase journal and the outbox. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS purchases (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	route_id TEXT NOT NULL,
	adult INT NOT NULL DEFAULT 0,
	child INT NOT NULL DEFAULT 0,
	senior INT NOT NULL DEFAULT 0,
	total_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	reservation_id TEXT NOT NULL DEFAULT '',
	purchase_ref TEXT NOT NULL DEFAULT '',
	payment_id TEXT NOT NULL DEFAULT '',
	failure_kind TEXT NOT NULL DEFAULT '',
	failure_code TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS purchases_open_idx ON purchases (state, expires_at);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS outbox_new_idx ON outbox (status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS outbox_dedupe_idx ON outbox (dedupe_key);
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "migrate")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Mark(err, domain.ErrSerializationFailure)
	}
	return err
}

// UpsertPurchase writes the latest view of a purchase. Creation and expiry
// times are kept from the first write. An abandoned purchase is final: the
// write is refused with ErrConflict so the caller's outbox insert rolls back.
func (r *Repository) UpsertPurchase(ctx context.Context, tx pgx.Tx, rec domain.PurchaseRecord) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO purchases (id, user_id, route_id, adult, child, senior, total_amount, state,
			reservation_id, purchase_ref, payment_id, failure_kind, failure_code, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			route_id = excluded.route_id,
			adult = excluded.adult,
			child = excluded.child,
			senior = excluded.senior,
			total_amount = excluded.total_amount,
			state = excluded.state,
			reservation_id = excluded.reservation_id,
			purchase_ref = excluded.purchase_ref,
			payment_id = excluded.payment_id,
			failure_kind = excluded.failure_kind,
			failure_code = excluded.failure_code,
			updated_at = excluded.updated_at
		WHERE purchases.state <> 'ABANDONED'
	`, rec.ID, rec.UserID, rec.RouteID, rec.Selection.Adult, rec.Selection.Child, rec.Selection.Senior,
		rec.TotalAmount, rec.State, rec.ReservationID, rec.PurchaseRef, rec.PaymentID, rec.FailureKind,
		rec.FailureCode, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt)
	if err != nil {
		return errors.Wrapf(err, "upsert purchase %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "purchase %s already abandoned", rec.ID)
	}
	return nil
}

const purchaseColumns = `id, user_id, route_id, adult, child, senior, total_amount::FLOAT8, state,
	reservation_id, purchase_ref, payment_id, failure_kind, failure_code, created_at, updated_at, expires_at`

func scanPurchase(row pgx.Row) (domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.RouteID, &rec.Selection.Adult, &rec.Selection.Child,
		&rec.Selection.Senior, &rec.TotalAmount, &rec.State, &rec.ReservationID, &rec.PurchaseRef,
		&rec.PaymentID, &rec.FailureKind, &rec.FailureCode, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	return rec, err
}

func (r *Repository) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.PurchaseRecord, error) {
	rec, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get purchase %s", id)
	}
	return &rec, nil
}

// GetStalePurchases returns purchases still open after their expiry. A
// purchase in CONFIRMING has a card charge in flight and is never stale.
func (r *Repository) GetStalePurchases(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE state NOT IN ('CONFIRMING', 'CAPTURED', 'FAILED', 'ABANDONED') AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query stale purchases")
	}
	defer rows.Close()

	var out []domain.PurchaseRecord
	for rows.Next() {
		rec, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkAbandoned closes an open purchase. A purchase that started confirming
// or reached a terminal state in the meantime is reported as not found.
func (r *Repository) MarkAbandoned(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (domain.PurchaseRecord, error) {
	rec, err := scanPurchase(tx.QueryRow(ctx, `
		UPDATE purchases SET state = 'ABANDONED', updated_at = $2
		WHERE id = $1 AND state NOT IN ('CONFIRMING', 'CAPTURED', 'FAILED', 'ABANDONED')
		RETURNING `+purchaseColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PurchaseRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PurchaseRecord{}, errors.Wrapf(err, "abandon purchase %s", id)
	}
	return rec, nil
}
