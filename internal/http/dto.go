package http

import (
	"time"

	mongoadapter "github.com/robertarktes/busticket/internal/adapters/mongo"
	"github.com/robertarktes/busticket/internal/backend"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/robertarktes/busticket/internal/session"
)

type routeJSON struct {
	ID          string    `json:"id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	Gate        string    `json:"gate,omitempty"`
	Prices      struct {
		Adult  float64 `json:"adult"`
		Child  float64 `json:"child"`
		Senior float64 `json:"senior"`
	} `json:"prices"`
}

func toRouteJSON(r domain.RouteOffering) routeJSON {
	out := routeJSON{
		ID:          r.ID,
		Origin:      r.Origin,
		Destination: r.Destination,
		DepartureAt: r.DepartureAt,
		Gate:        r.Gate,
	}
	out.Prices.Adult = r.Prices.Adult
	out.Prices.Child = r.Prices.Child
	out.Prices.Senior = r.Prices.Senior
	return out
}

type receiptJSON struct {
	Message     string  `json:"message"`
	PaymentID   string  `json:"payment_id"`
	PurchaseID  string  `json:"purchase_id"`
	TotalAmount float64 `json:"total_amount"`
}

type purchaseJSON struct {
	ID            string       `json:"id"`
	State         string       `json:"state"`
	RouteID       string       `json:"route_id,omitempty"`
	Route         *routeJSON   `json:"route,omitempty"`
	Adult         int          `json:"adult"`
	Child         int          `json:"child"`
	Senior        int          `json:"senior"`
	TotalAmount   float64      `json:"total_amount"`
	ReservationID string       `json:"reservation_id,omitempty"`
	PurchaseRef   string       `json:"purchase_ref,omitempty"`
	ClientSecret  string       `json:"client_secret,omitempty"`
	PaymentID     string       `json:"payment_id,omitempty"`
	Receipt       *receiptJSON `json:"receipt,omitempty"`
	FailureKind   string       `json:"failure_kind,omitempty"`
	FailureCode   string       `json:"failure_code,omitempty"`
	Message       string       `json:"message,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
}

func snapshotJSON(s purchase.Snapshot) purchaseJSON {
	out := purchaseJSON{
		ID:            s.ID.String(),
		State:         string(s.State),
		RouteID:       s.RouteID,
		Adult:         s.Selection.Adult,
		Child:         s.Selection.Child,
		Senior:        s.Selection.Senior,
		TotalAmount:   s.TotalAmount,
		ReservationID: s.ReservationID,
		PurchaseRef:   s.PurchaseRef,
		PaymentID:     s.PaymentID,
		FailureKind:   string(s.FailureKind),
		FailureCode:   s.FailureCode,
		UpdatedAt:     s.UpdatedAt,
	}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt
		out.ExpiresAt = &exp
	}
	if s.Offering != nil {
		r := toRouteJSON(*s.Offering)
		out.Route = &r
	}
	// the secret is only useful while the card is still to be confirmed
	if s.State == purchase.StateIntentReady {
		out.ClientSecret = s.ClientSecret
	}
	if s.Receipt != nil {
		out.Receipt = &receiptJSON{
			Message:     s.Receipt.Message,
			PaymentID:   s.Receipt.PaymentID,
			PurchaseID:  s.Receipt.PurchaseID,
			TotalAmount: s.Receipt.TotalAmount,
		}
	}
	if s.FailureKind != "" {
		out.Message = failureMessage(s.FailureKind)
	}
	return out
}

func recordJSON(r domain.PurchaseRecord) purchaseJSON {
	out := purchaseJSON{
		ID:            r.ID.String(),
		State:         r.State,
		RouteID:       r.RouteID,
		Adult:         r.Selection.Adult,
		Child:         r.Selection.Child,
		Senior:        r.Selection.Senior,
		TotalAmount:   r.TotalAmount,
		ReservationID: r.ReservationID,
		PurchaseRef:   r.PurchaseRef,
		PaymentID:     r.PaymentID,
		FailureKind:   r.FailureKind,
		FailureCode:   r.FailureCode,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.FailureKind != "" {
		out.Message = failureMessage(purchase.Kind(r.FailureKind))
	}
	return out
}

type ticketJSON struct {
	ID          string    `json:"id"`
	RouteID     string    `json:"route_id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	TotalPrice  float64   `json:"total_price"`
	QRCode      string    `json:"qr_code,omitempty"`
}

func toTicketJSON(t domain.Ticket) ticketJSON {
	return ticketJSON{
		ID:          t.ID,
		RouteID:     t.RouteID,
		Origin:      t.Origin,
		Destination: t.Destination,
		DepartureAt: t.DepartureAt,
		TotalPrice:  t.TotalPrice,
		QRCode:      t.QRCode,
	}
}

type profileJSON struct {
	UserID         string `json:"user_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

func toProfileJSON(p domain.Profile) profileJSON {
	return profileJSON{
		UserID:         p.UserID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Email:          p.Email,
		ProfilePicture: p.ProfilePicture,
	}
}

type sessionJSON struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	Roles     []domain.Role `json:"roles"`
	ExpiresAt time.Time     `json:"expires_at"`
	Profile   profileJSON   `json:"profile"`
}

func toSessionJSON(s *session.Session) sessionJSON {
	return sessionJSON{
		SessionID: s.ID,
		UserID:    s.UserID,
		Roles:     s.Roles,
		ExpiresAt: s.ExpiresAt,
		Profile:   toProfileJSON(s.Profile),
	}
}

type boardingJSON struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func toBoardingJSON(b backend.BoardingCheck) boardingJSON {
	return boardingJSON{Valid: b.Valid, Message: b.Message}
}

type auditJSON struct {
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func toAuditJSON(logs []mongoadapter.AuditLog) []auditJSON {
	out := make([]auditJSON, 0, len(logs))
	for _, l := range logs {
		out = append(out, auditJSON{Action: l.Action, Timestamp: l.Timestamp, Data: l.Data})
	}
	return out
}
