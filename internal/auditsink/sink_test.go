package auditsink_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/busticket/internal/auditsink"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acker struct {
	acked, requeued, dropped int
}

func (a *acker) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *acker) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		a.requeued++
	} else {
		a.dropped++
	}
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type recorder struct {
	ids []string
	err error
}

func (r *recorder) LogPurchaseEvent(ctx context.Context, messageID string, ev domain.PurchaseEvent) error {
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, messageID)
	return nil
}

func delivery(t *testing.T, a *acker, messageID string, ev domain.PurchaseEvent) amqp.Delivery {
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: a, MessageId: messageID, Type: ev.Type, Body: body}
}

func TestHandle_StoresAndAcks(t *testing.T) {
	rec := &recorder{}
	a := &acker{}
	sink := auditsink.New(rec, observability.NewNopLogger())
	ev := domain.PurchaseEvent{Type: domain.EventPurchaseCaptured, PurchaseID: uuid.New(), UserID: "17"}

	sink.Handle(context.Background(), delivery(t, a, "m-1", ev))
	sink.Handle(context.Background(), delivery(t, a, "", ev))

	assert.Equal(t, 2, a.acked)
	assert.Equal(t, []string{"m-1", ev.PurchaseID.String() + ":purchase.captured"}, rec.ids)
}

func TestHandle_RequeuesOnStoreError(t *testing.T) {
	a := &acker{}
	sink := auditsink.New(&recorder{err: errors.New("mongo down")}, observability.NewNopLogger())

	sink.Handle(context.Background(), delivery(t, a, "m-1", domain.PurchaseEvent{Type: domain.EventPurchaseFailed}))
	assert.Equal(t, 1, a.requeued)
	assert.Equal(t, 0, a.acked)
}

func TestHandle_DropsGarbage(t *testing.T) {
	a := &acker{}
	sink := auditsink.New(&recorder{}, observability.NewNopLogger())

	sink.Handle(context.Background(), amqp.Delivery{Acknowledger: a, Body: []byte("{")})
	assert.Equal(t, 1, a.dropped)
}

func TestRun_StopsWhenChannelCloses(t *testing.T) {
	a := &acker{}
	rec := &recorder{}
	sink := auditsink.New(rec, observability.NewNopLogger())

	ch := make(chan amqp.Delivery, 1)
	ch <- delivery(t, a, "m-1", domain.PurchaseEvent{Type: domain.EventPurchaseReserved})
	close(ch)
	sink.Run(context.Background(), ch)
	assert.Equal(t, 1, a.acked)
}
