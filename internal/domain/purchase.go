package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseRecord is the journal row of one purchase attempt.
type PurchaseRecord struct {
	ID            uuid.UUID
	UserID        string
	RouteID       string
	Selection     TicketSelection
	TotalAmount   float64
	State         string
	ReservationID string
	PurchaseRef   string
	PaymentID     string
	FailureKind   string
	FailureCode   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// Terminal reports whether the purchase can no longer change state.
func (r PurchaseRecord) Terminal() bool {
	switch r.State {
	case "CAPTURED", "FAILED", StateAbandoned:
		return true
	}
	return false
}

func NewPurchaseRecord(id uuid.UUID, userID, routeID string, sel TicketSelection, ttl time.Duration) PurchaseRecord {
	now := time.Now().UTC()
	return PurchaseRecord{
		ID:        id,
		UserID:    userID,
		RouteID:   routeID,
		Selection: sel,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
