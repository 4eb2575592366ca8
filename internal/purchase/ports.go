package purchase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
)

type RouteService interface {
	GetOffering(ctx context.Context, routeID string) (domain.RouteOffering, error)
}

type TicketService interface {
	CreateReservation(ctx context.Context, routeID string, adult, child, senior int) (domain.ReservedTicket, error)
}

type PaymentService interface {
	CreateIntent(ctx context.Context, reservationID, userID string) (domain.PaymentIntent, error)
	Capture(ctx context.Context, paymentID, purchaseID string) (string, error)
}

// CardConfirmer forwards a client secret and card input to the payment
// provider. Errors implementing CardRejection are classified by category.
type CardConfirmer interface {
	Confirm(ctx context.Context, clientSecret string, input domain.CardInput) (domain.PaymentOutcome, error)
}

type Services struct {
	Routes   RouteService
	Tickets  TicketService
	Payments PaymentService
	Cards    CardConfirmer
}

// Transition is published to observers after every state change.
type Transition struct {
	PurchaseID uuid.UUID
	From       State
	To         State
	At         time.Time
	Snapshot   Snapshot
}

type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }
