package http

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/busticket/internal/adapters/mongo"
	"github.com/robertarktes/busticket/internal/backend"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/robertarktes/busticket/internal/session"
)

// Backend is the remote ticketing API as the handlers use it.
type Backend interface {
	purchase.RouteService
	purchase.TicketService
	purchase.PaymentService
	FindRoutes(ctx context.Context, origin, destination string) ([]domain.RouteOffering, error)
	TicketsByUser(ctx context.Context, userID string) ([]domain.Ticket, error)
	ValidateQR(ctx context.Context, code string) (backend.BoardingCheck, error)
	Register(ctx context.Context, reg domain.Registration) error
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	UpdateProfile(ctx context.Context, userID string, upd domain.ProfileUpdate) (domain.Profile, error)
	UpdateProfilePicture(ctx context.Context, userID string, image io.Reader) error
}

type Sessions interface {
	SessionResolver
	Login(ctx context.Context, creds domain.Credentials) (*session.Session, error)
	Logout(ctx context.Context, id string) error
	Save(ctx context.Context, s *session.Session) error
}

// PayLocker serialises Pay across gateway replicas.
type PayLocker interface {
	AcquirePayLock(ctx context.Context, purchaseID, owner string, ttl time.Duration) (bool, error)
	ReleasePayLock(ctx context.Context, purchaseID, owner string) error
}

// PurchaseLookup reads journaled purchases once their pipeline is gone.
type PurchaseLookup interface {
	GetPurchase(ctx context.Context, id uuid.UUID) (*domain.PurchaseRecord, error)
}

type AuditTrail interface {
	ForPurchase(ctx context.Context, purchaseID string) ([]mongoadapter.AuditLog, error)
}

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

// Deps wires the handlers. PayLock, Purchases, Audit and Ready are optional.
// A zero PurchaseTTL lets purchases wait for payment indefinitely.
type Deps struct {
	Backend     Backend
	Cards       purchase.CardConfirmer
	Sessions    Sessions
	Registry    *purchase.Registry
	Hub         *Hub
	Observers   []purchase.Observer
	PayLock     PayLocker
	PayLockTTL  time.Duration
	PurchaseTTL time.Duration
	Purchases   PurchaseLookup
	Audit       AuditTrail
	QRClient    *http.Client
	Ready       map[string]Check
	Logger      observability.Logger
}

type Handlers struct {
	backend     Backend
	services    purchase.Services
	sessions    Sessions
	registry    *purchase.Registry
	hub         *Hub
	observers   []purchase.Observer
	payLock     PayLocker
	payLockTTL  time.Duration
	purchaseTTL time.Duration
	purchases   PurchaseLookup
	audit       AuditTrail
	qrClient    *http.Client
	ready       map[string]Check
	logger      observability.Logger
	now         func() time.Time
}

func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		backend: d.Backend,
		services: purchase.Services{
			Routes:   d.Backend,
			Tickets:  d.Backend,
			Payments: d.Backend,
			Cards:    d.Cards,
		},
		sessions:    d.Sessions,
		registry:    d.Registry,
		hub:         d.Hub,
		observers:   d.Observers,
		payLock:     d.PayLock,
		payLockTTL:  d.PayLockTTL,
		purchaseTTL: d.PurchaseTTL,
		purchases:   d.Purchases,
		audit:       d.Audit,
		qrClient:    d.QRClient,
		ready:       d.Ready,
		logger:      d.Logger,
		now:         time.Now,
	}
	if h.registry == nil {
		h.registry = purchase.NewRegistry()
	}
	if h.hub == nil {
		h.hub = NewHub()
	}
	if h.payLockTTL <= 0 {
		h.payLockTTL = time.Minute
	}
	if h.qrClient == nil {
		h.qrClient = &http.Client{Timeout: 5 * time.Second}
	}
	return h
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.ready))
	for name := range h.ready {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	result := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.ready[name](ctx); err != nil {
			LoggerFrom(r.Context()).WithField("check", name).Warn("not ready: ", err)
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, &domain.ValidationError{Fields: map[string]string{"credentials": "Ingrese correo y contraseña."}})
		return
	}
	s, err := h.sessions.Login(r.Context(), domain.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(s))
}

type registerRequest struct {
	FirstName       string        `json:"first_name"`
	LastName        string        `json:"last_name"`
	Email           string        `json:"email"`
	Password        string        `json:"password"`
	ConfirmPassword string        `json:"confirm_password"`
	Roles           []domain.Role `json:"roles"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reg := domain.Registration{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Roles:           req.Roles,
	}
	if len(reg.Roles) == 0 {
		reg.Roles = []domain.Role{domain.RolePassenger}
	}
	if err := reg.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.backend.Register(r.Context(), reg); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Usuario registrado."})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	if err := h.sessions.Logout(r.Context(), s.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
