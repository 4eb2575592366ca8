package http

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/robertarktes/busticket/internal/session"
)

func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	routes, err := h.backend.FindRoutes(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]routeJSON, 0, len(routes))
	for _, rt := range routes {
		out = append(out, toRouteJSON(rt))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRoute hides routes that have already departed, same as the listing.
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := h.backend.GetOffering(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !rt.AvailableAt(h.now()) {
		writeError(w, r, errors.Wrapf(domain.ErrNotFound, "route %s departed", rt.ID))
		return
	}
	writeJSON(w, http.StatusOK, toRouteJSON(rt))
}

type createPurchaseRequest struct {
	RouteID string `json:"route_id"`
	Adult   int    `json:"adult"`
	Child   int    `json:"child"`
	Senior  int    `json:"senior"`
}

// CreatePurchase runs the pipeline up to a ready payment intent. The
// pipeline stays registered so the client can pay or stream it.
func (h *Handlers) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	var req createPurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RouteID == "" {
		writeError(w, r, &domain.ValidationError{Fields: map[string]string{"route_id": "Seleccione una ruta."}})
		return
	}
	sel := domain.TicketSelection{Adult: req.Adult, Child: req.Child, Senior: req.Senior}
	if err := sel.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	opts := make([]purchase.Option, 0, len(h.observers)+2)
	opts = append(opts, purchase.WithTTL(h.purchaseTTL))
	for _, o := range h.observers {
		opts = append(opts, purchase.WithObserver(o))
	}
	opts = append(opts, purchase.WithObserver(h.hub))
	p, err := purchase.New(s, h.services, LoggerFrom(r.Context()), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.registry.Put(p)

	// once started the backend calls run to completion even if the client
	// goes away; the result is still reachable by id
	snap, err := p.Start(context.WithoutCancel(r.Context()), req.RouteID, sel)
	if err != nil {
		writePurchaseError(w, r, snap, err)
		return
	}
	w.Header().Set("Location", "/v1/purchases/"+snap.ID.String())
	writeJSON(w, http.StatusCreated, snapshotJSON(snap))
}

func (h *Handlers) GetPurchase(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	if p, err := h.registry.Get(id, s.UserID); err == nil {
		writeJSON(w, http.StatusOK, snapshotJSON(p.Snapshot()))
		return
	}
	rec, err := h.journaled(r.Context(), id, s.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordJSON(*rec))
}

func (h *Handlers) journaled(ctx context.Context, id uuid.UUID, userID string) (*domain.PurchaseRecord, error) {
	if h.purchases == nil {
		return nil, domain.ErrNotFound
	}
	rec, err := h.purchases.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

type payRequest struct {
	PaymentMethod string `json:"payment_method"`
	BillingEmail  string `json:"billing_email"`
}

// PayPurchase confirms the card and captures. A second call while one is
// outstanding, here or on another replica, gets 409.
func (h *Handlers) PayPurchase(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	p, err := h.registry.Get(id, s.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req payRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BillingEmail == "" {
		req.BillingEmail = s.Profile.Email
	}

	ctx := context.WithoutCancel(r.Context())
	logger := LoggerFrom(ctx).WithField("purchase_id", id.String())
	if h.payLock != nil {
		owner := middleware.GetReqID(ctx)
		if owner == "" {
			owner = uuid.NewString()
		}
		ok, err := h.payLock.AcquirePayLock(ctx, id.String(), owner, h.payLockTTL)
		if err != nil {
			logger.Warn("pay lock unavailable, relying on local guard: ", err)
		} else if !ok {
			writePurchaseError(w, r, p.Snapshot(), purchase.ErrPaymentInProgress)
			return
		} else {
			defer func() {
				if err := h.payLock.ReleasePayLock(ctx, id.String(), owner); err != nil {
					logger.Warn("release pay lock: ", err)
				}
			}()
		}
	}

	_, err = p.Pay(ctx, domain.CardInput{PaymentMethod: req.PaymentMethod, BillingEmail: req.BillingEmail})
	if err != nil {
		writePurchaseError(w, r, p.Snapshot(), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotJSON(p.Snapshot()))
}

// PurchaseEvents lists the audit trail recorded for a purchase.
func (h *Handlers) PurchaseEvents(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || h.audit == nil {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	if _, err := h.registry.Get(id, s.UserID); err != nil {
		if _, err := h.journaled(r.Context(), id, s.UserID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	logs, err := h.audit.ForPurchase(r.Context(), id.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditJSON(logs))
}
