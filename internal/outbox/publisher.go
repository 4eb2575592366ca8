// Package outbox relays committed outbox rows to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ClaimUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo      Store
	rabbitPub Broker
	logger    observability.Logger
	interval  time.Duration
	batch     int
	now       func() time.Time
}

func NewPublisher(repo Store, rabbitPub Broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.RelayOnce(ctx)
			if err != nil {
				p.logger.Error("outbox relay failed: ", err)
				continue
			}
			if n > 0 {
				p.logger.WithField("count", n).Debug("outbox rows published")
			}
		}
	}
}

// RelayOnce publishes one batch in order. The first failed publish ends the
// batch; the remaining rows wait for the next round.
func (p *Publisher) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := p.repo.ClaimUnpublished(ctx, tx, p.batch)
		if err != nil {
			return err
		}
		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Type:        rec.EventType,
				Body:        rec.Payload,
			}
			if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
				observability.RabbitPublishRetries.Inc()
				p.logger.WithField("outbox_id", rec.ID.String()).Warn("publish failed: ", err)
				break
			}
			now := p.now()
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, now); err != nil {
				return err
			}
			observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
			published++
		}
		return nil
	})
	return published, err
}
