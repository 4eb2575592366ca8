package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID         uuid.UUID `bson:"_id"`
	MessageID  string    `bson:"message_id"`
	Action     string    `bson:"action"`
	UserID     string    `bson:"user_id"`
	PurchaseID string    `bson:"purchase_id"`
	Timestamp  time.Time `bson:"timestamp"`
	Data       bson.M    `bson:"data"`
}

// EnsureIndexes makes redelivered messages collapse onto one entry.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "purchase_id", Value: 1}, {Key: "timestamp", Value: 1}}},
	})
	return errors.Wrap(err, "create audit indexes")
}

// LogEvent stores one audit entry. A message already logged is not an error.
func (a *AuditLogger) LogEvent(ctx context.Context, messageID, action, userID, purchaseID string, data map[string]interface{}) error {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	log := AuditLog{
		ID:         uuid.New(),
		MessageID:  messageID,
		Action:     action,
		UserID:     userID,
		PurchaseID: purchaseID,
		Timestamp:  time.Now().UTC(),
		Data:       bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("message_id", messageID).Debug("audit entry already stored")
		return nil
	}
	if err != nil {
		a.logger.Error("failed to insert audit log: ", err)
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) LogPurchaseEvent(ctx context.Context, messageID string, ev domain.PurchaseEvent) error {
	data := map[string]interface{}{
		"state":          ev.State,
		"route_id":       ev.RouteID,
		"adult":          ev.Adult,
		"child":          ev.Child,
		"senior":         ev.Senior,
		"total_amount":   ev.TotalAmount,
		"reservation_id": ev.ReservationID,
		"purchase_ref":   ev.PurchaseRef,
		"payment_id":     ev.PaymentID,
		"failure_kind":   ev.FailureKind,
		"failure_code":   ev.FailureCode,
		"occurred_at":    ev.OccurredAt,
	}
	return a.LogEvent(ctx, messageID, ev.Type, ev.UserID, ev.PurchaseID.String(), data)
}

// ForPurchase returns a purchase's audit trail, oldest first.
func (a *AuditLogger) ForPurchase(ctx context.Context, purchaseID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"purchase_id": purchaseID}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return logs, nil
}
