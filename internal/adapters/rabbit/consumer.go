package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to the events exchange with
// the given routing pattern, e.g. "purchase.#".
func NewConsumer(conn *amqp.Connection, queue, binding string, prefetch int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if err := ch.QueueBind(queue, binding, Exchange, false, nil); err != nil {
		ch.Close()
		return nil, errors.Wrapf(err, "bind queue %s", queue)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

// Consume delivers messages until ctx is done. Deliveries must be acked.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
