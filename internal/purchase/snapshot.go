package purchase

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
)

// Snapshot is a copy of the pipeline state safe to hand to other goroutines.
type Snapshot struct {
	ID            uuid.UUID
	UserID        string
	State         State
	RouteID       string
	Offering      *domain.RouteOffering
	Selection     domain.TicketSelection
	TotalAmount   float64
	ReservationID string
	PurchaseRef   string
	ClientSecret  string
	PaymentID     string
	Receipt       *domain.CaptureReceipt
	FailureKind   Kind
	FailureCode   string
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          p.id,
		UserID:      p.userID,
		State:       p.state,
		RouteID:     p.routeID,
		Selection:   p.selection,
		TotalAmount: p.total,
		UpdatedAt:   p.updatedAt,
		ExpiresAt:   p.expiresAt,
	}
	if p.offering != nil {
		o := *p.offering
		s.Offering = &o
	}
	if p.reserved != nil {
		s.ReservationID = p.reserved.ID
	}
	if p.intent != nil {
		s.PurchaseRef = p.intent.PurchaseID
		s.ClientSecret = p.intent.ClientSecret
	}
	if p.outcome != nil {
		s.PaymentID = p.outcome.PaymentID
	}
	if p.receipt != nil {
		r := *p.receipt
		s.Receipt = &r
	}
	if p.failure != nil {
		s.FailureKind = p.failure.Kind
		s.FailureCode = p.failure.Code
	}
	return s
}
