package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/busticket/internal/adapters/crdb"
	"github.com/robertarktes/busticket/internal/observability"
)

type memStore struct {
	rows      []crdb.OutboxRecord
	published map[uuid.UUID]time.Time
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (m *memStore) ClaimUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error) {
	var out []crdb.OutboxRecord
	for _, r := range m.rows {
		if _, done := m.published[r.ID]; !done && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	m.published[id] = at
	return nil
}

type recordingBroker struct {
	keys   []string
	msgs   []amqp.Publishing
	failOn string
}

func (b *recordingBroker) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if key == b.failOn {
		return errors.New("broker unavailable")
	}
	b.keys = append(b.keys, key)
	b.msgs = append(b.msgs, msg)
	return nil
}

func newRows(types ...string) []crdb.OutboxRecord {
	var rows []crdb.OutboxRecord
	for _, tp := range types {
		rows = append(rows, crdb.OutboxRecord{
			ID:        uuid.New(),
			EventType: tp,
			Payload:   []byte(`{}`),
			CreatedAt: time.Now(),
			DedupeKey: uuid.NewString(),
		})
	}
	return rows
}

func TestRelayOnce_PublishesInOrder(t *testing.T) {
	store := &memStore{rows: newRows("purchase.reserved", "purchase.intent_ready", "purchase.captured"), published: map[uuid.UUID]time.Time{}}
	broker := &recordingBroker{}
	p := NewPublisher(store, broker, observability.NewNopLogger(), time.Second, 2)

	n, err := p.RelayOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected batch of 2, got %d", n)
	}
	n, _ = p.RelayOnce(context.Background())
	if n != 1 {
		t.Fatalf("expected remaining row, got %d", n)
	}

	want := []string{"purchase.reserved", "purchase.intent_ready", "purchase.captured"}
	for i, k := range want {
		if broker.keys[i] != k {
			t.Errorf("position %d: expected %s, got %s", i, k, broker.keys[i])
		}
	}
	if broker.msgs[0].MessageId != store.rows[0].DedupeKey {
		t.Errorf("message id must carry the dedupe key")
	}
}

func TestRelayOnce_StopsAtFirstFailure(t *testing.T) {
	store := &memStore{rows: newRows("purchase.reserved", "purchase.failed", "purchase.abandoned"), published: map[uuid.UUID]time.Time{}}
	broker := &recordingBroker{failOn: "purchase.failed"}
	p := NewPublisher(store, broker, observability.NewNopLogger(), time.Second, 10)

	n, err := p.RelayOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(store.published) != 1 {
		t.Fatalf("expected only the first row published, got %d", n)
	}
	if _, ok := store.published[store.rows[2].ID]; ok {
		t.Error("rows after a failure must wait for the next round")
	}
}
