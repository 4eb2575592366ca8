package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/busticket/internal/domain"
)

const purchaseAggregate = "purchase"

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

// PurchaseEventRecord wraps a purchase event for the outbox. Each event type
// is queued at most once per purchase.
func PurchaseEventRecord(ev domain.PurchaseEvent) (OutboxRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return OutboxRecord{}, errors.Wrapf(err, "encode %s", ev.Type)
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: purchaseAggregate,
		AggregateID:   ev.PurchaseID,
		EventType:     ev.Type,
		Payload:       payload,
		DedupeKey:     ev.PurchaseID.String() + ":" + ev.Type,
	}, nil
}

// InsertOutbox ignores a row whose dedupe key is already queued.
func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return errors.Wrapf(err, "insert outbox %s", record.EventType)
}

// ClaimUnpublished locks up to limit NEW rows for the lifetime of tx.
func (r *Repository) ClaimUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query outbox")
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return errors.Wrapf(err, "mark outbox %s published", id)
}
