// Package auditsink stores published purchase events in the audit log.
package auditsink

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
)

type Recorder interface {
	LogPurchaseEvent(ctx context.Context, messageID string, ev domain.PurchaseEvent) error
}

type Sink struct {
	recorder Recorder
	logger   observability.Logger
}

func New(recorder Recorder, logger observability.Logger) *Sink {
	return &Sink{recorder: recorder, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (s *Sink) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				s.logger.Warn("delivery channel closed")
				return
			}
			s.Handle(ctx, d)
		}
	}
}

// Handle acks stored and undecodable messages, and requeues the rest.
// Redeliveries are absorbed by the audit log's message id index.
func (s *Sink) Handle(ctx context.Context, d amqp.Delivery) {
	logger := s.logger.WithFields(map[string]interface{}{
		"message_id": d.MessageId,
		"type":       d.Type,
	})

	var ev domain.PurchaseEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.Error("dropping undecodable event: ", err)
		d.Nack(false, false)
		return
	}

	messageID := d.MessageId
	if messageID == "" {
		messageID = ev.PurchaseID.String() + ":" + ev.Type
	}
	if err := s.recorder.LogPurchaseEvent(ctx, messageID, ev); err != nil {
		logger.Warn("audit write failed, requeueing: ", err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}
