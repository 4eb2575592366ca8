package domain

import (
	"time"
)

// RouteOffering is a scheduled bus route instance as served by the route service.
type RouteOffering struct {
	ID          string
	Origin      string
	Destination string
	DepartureAt time.Time
	Prices      Prices
	Gate        string
}

// Prices holds the unit price of each ticket category.
type Prices struct {
	Adult  float64
	Child  float64
	Senior float64
}

// AvailableAt reports whether the route still departs strictly after now.
func (r RouteOffering) AvailableAt(now time.Time) bool {
	return r.DepartureAt.After(now)
}

type ReservedTicket struct {
	ID      string
	RouteID string
}

type PaymentIntent struct {
	ClientSecret string
	PurchaseID   string
}

type PaymentOutcome struct {
	Succeeded bool
	PaymentID string
}

type CaptureReceipt struct {
	Message     string
	PaymentID   string
	PurchaseID  string
	TotalAmount float64
}

// Ticket is an issued ticket as listed in a user's history.
type Ticket struct {
	ID          string
	RouteID     string
	Origin      string
	Destination string
	DepartureAt time.Time
	TotalPrice  float64
	QRCode      string
}

type Profile struct {
	UserID         string
	FirstName      string
	LastName       string
	Email          string
	ProfilePicture string
}

func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type Credentials struct {
	Email    string
	Password string
}

type Registration struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
	Roles           []Role
}

type ProfileUpdate struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Role is a backend role name.
type Role string

const (
	RolePassenger Role = "USUARIO"
	RoleDriver    Role = "CONDUCTOR"
)

// CardInput is what the client hands over for card confirmation. Raw card
// numbers never reach the gateway; PaymentMethod is the provider token.
type CardInput struct {
	PaymentMethod string
	BillingEmail  string
}
