package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventPurchaseReserved    = "purchase.reserved"
	EventPurchaseIntentReady = "purchase.intent_ready"
	EventPurchaseCaptured    = "purchase.captured"
	EventPurchaseFailed      = "purchase.failed"
	EventPurchaseAbandoned   = "purchase.abandoned"
)

// Journal states beyond the pipeline's own.
const StateAbandoned = "ABANDONED"

// PurchaseEvent is the payload published for purchase milestones.
type PurchaseEvent struct {
	Type          string    `json:"type"`
	PurchaseID    uuid.UUID `json:"purchase_id"`
	UserID        string    `json:"user_id"`
	RouteID       string    `json:"route_id"`
	State         string    `json:"state"`
	Adult         int       `json:"adult"`
	Child         int       `json:"child"`
	Senior        int       `json:"senior"`
	TotalAmount   float64   `json:"total_amount"`
	ReservationID string    `json:"reservation_id,omitempty"`
	PurchaseRef   string    `json:"purchase_ref,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	FailureCode   string    `json:"failure_code,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventFromRecord describes a journal row as an event of the given type.
func EventFromRecord(eventType string, rec PurchaseRecord, at time.Time) PurchaseEvent {
	return PurchaseEvent{
		Type:          eventType,
		PurchaseID:    rec.ID,
		UserID:        rec.UserID,
		RouteID:       rec.RouteID,
		State:         rec.State,
		Adult:         rec.Selection.Adult,
		Child:         rec.Selection.Child,
		Senior:        rec.Selection.Senior,
		TotalAmount:   rec.TotalAmount,
		ReservationID: rec.ReservationID,
		PurchaseRef:   rec.PurchaseRef,
		PaymentID:     rec.PaymentID,
		FailureKind:   rec.FailureKind,
		FailureCode:   rec.FailureCode,
		OccurredAt:    at,
	}
}
