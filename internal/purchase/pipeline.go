package purchase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("purchase")

// Pipeline drives one purchase attempt from route selection to capture.
// Steps run strictly in order; each one is a single call to its collaborator
// and any failure is terminal. Nothing is retried or rolled back.
type Pipeline struct {
	id        uuid.UUID
	sess      *session.Session
	userID    string
	svc       Services
	logger    observability.Logger
	now       func() time.Time
	observers []Observer

	mu        sync.Mutex
	state     State
	routeID   string
	offering  *domain.RouteOffering
	selection domain.TicketSelection
	reserved  *domain.ReservedTicket
	intent    *domain.PaymentIntent
	outcome   *domain.PaymentOutcome
	receipt   *domain.CaptureReceipt
	failure   *Failure
	total     float64
	updatedAt time.Time
	ttl       time.Duration
	expiresAt time.Time

	paying atomic.Bool
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithTTL bounds how long the purchase may wait for payment. Pay is refused
// from creation+ttl on, which is also the journal's expiry.
func WithTTL(ttl time.Duration) Option {
	return func(p *Pipeline) { p.ttl = ttl }
}

func WithID(id uuid.UUID) Option {
	return func(p *Pipeline) { p.id = id }
}

// New binds a pipeline to a live session. The user id is read once, here.
func New(sess *session.Session, svc Services, logger observability.Logger, opts ...Option) (*Pipeline, error) {
	if sess == nil || sess.UserID == "" {
		return nil, errors.Wrap(domain.ErrUnauthorized, "purchase needs a logged-in session")
	}
	if svc.Routes == nil || svc.Tickets == nil || svc.Payments == nil || svc.Cards == nil {
		return nil, errors.New("purchase: all services are required")
	}
	p := &Pipeline{
		id:     uuid.New(),
		sess:   sess,
		userID: sess.UserID,
		svc:    svc,
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.WithFields(map[string]interface{}{"purchase_id": p.id.String(), "user_id": p.userID})
	p.updatedAt = p.now()
	if p.ttl > 0 {
		p.expiresAt = p.updatedAt.Add(p.ttl)
	}
	return p, nil
}

func (p *Pipeline) ID() uuid.UUID { return p.id }

func (p *Pipeline) UserID() string { return p.userID }

// Start loads the route, reserves the selection and creates the payment
// intent, awaiting each step before the next.
func (p *Pipeline) Start(ctx context.Context, routeID string, sel domain.TicketSelection) (Snapshot, error) {
	if _, err := p.LoadRoute(ctx, routeID); err != nil {
		return p.Snapshot(), err
	}
	if _, err := p.Reserve(ctx, sel); err != nil {
		return p.Snapshot(), err
	}
	if _, err := p.CreateIntent(ctx); err != nil {
		return p.Snapshot(), err
	}
	return p.Snapshot(), nil
}

// Pay confirms the card and captures the payment. Only one Pay may be
// outstanding; a concurrent call gets ErrPaymentInProgress without touching
// any collaborator.
func (p *Pipeline) Pay(ctx context.Context, input domain.CardInput) (domain.CaptureReceipt, error) {
	if !p.paying.CompareAndSwap(false, true) {
		observability.PaymentInProgressRejections.Inc()
		return domain.CaptureReceipt{}, ErrPaymentInProgress
	}
	defer p.paying.Store(false)

	if p.expired() {
		return domain.CaptureReceipt{}, errors.Wrapf(ErrPurchaseExpired, "purchase %s expired at %s", p.id, p.expiresAt.Format(time.RFC3339))
	}
	if _, err := p.ConfirmCard(ctx, input); err != nil {
		return domain.CaptureReceipt{}, err
	}
	return p.Capture(ctx)
}

func (p *Pipeline) LoadRoute(ctx context.Context, routeID string) (domain.RouteOffering, error) {
	p.mu.Lock()
	if p.state == StateIdle {
		p.routeID = routeID
	}
	p.mu.Unlock()
	if err := p.advance(ctx, StateIdle, StateRouteLoading); err != nil {
		return domain.RouteOffering{}, err
	}
	ctx, done := p.step(ctx, "load_route")

	offering, err := p.svc.Routes.GetOffering(p.callCtx(ctx), routeID)
	if err != nil {
		return domain.RouteOffering{}, done(p.fail(ctx, KindRouteUnavailable, "", err))
	}
	if !offering.AvailableAt(p.now()) {
		err := errors.Newf("route %s departed at %s", routeID, offering.DepartureAt.Format(time.RFC3339))
		return domain.RouteOffering{}, done(p.fail(ctx, KindRouteUnavailable, "", err))
	}

	p.mu.Lock()
	p.offering = &offering
	p.mu.Unlock()
	return offering, done(p.advance(ctx, StateRouteLoading, StateRouteLoaded))
}

// Reserve holds tickets on the loaded route. A zero selection is allowed.
func (p *Pipeline) Reserve(ctx context.Context, sel domain.TicketSelection) (domain.ReservedTicket, error) {
	if err := p.advance(ctx, StateRouteLoaded, StateReserving); err != nil {
		return domain.ReservedTicket{}, err
	}
	ctx, done := p.step(ctx, "reserve")

	if err := sel.Validate(); err != nil {
		return domain.ReservedTicket{}, done(p.fail(ctx, KindReservationFailed, "", err))
	}

	p.mu.Lock()
	offering := *p.offering
	p.selection = sel
	p.total = sel.Total(offering.Prices)
	routeID := offering.ID
	if routeID == "" {
		routeID = p.routeID
	}
	p.mu.Unlock()

	reserved, err := p.svc.Tickets.CreateReservation(p.callCtx(ctx), routeID, sel.Adult, sel.Child, sel.Senior)
	if err != nil {
		return domain.ReservedTicket{}, done(p.fail(ctx, KindReservationFailed, "", err))
	}
	if reserved.ID == "" {
		return domain.ReservedTicket{}, done(p.fail(ctx, KindReservationFailed, "", errors.New("ticket service returned no reservation id")))
	}

	p.mu.Lock()
	p.reserved = &reserved
	p.mu.Unlock()
	return reserved, done(p.advance(ctx, StateReserving, StateReserved))
}

func (p *Pipeline) CreateIntent(ctx context.Context) (domain.PaymentIntent, error) {
	if err := p.advance(ctx, StateReserved, StateIntentCreating); err != nil {
		return domain.PaymentIntent{}, err
	}
	ctx, done := p.step(ctx, "create_intent")

	p.mu.Lock()
	reservationID := p.reserved.ID
	p.mu.Unlock()

	intent, err := p.svc.Payments.CreateIntent(p.callCtx(ctx), reservationID, p.userID)
	if err != nil {
		return domain.PaymentIntent{}, done(p.fail(ctx, KindPaymentSetupFailed, "", err))
	}
	if intent.ClientSecret == "" {
		return domain.PaymentIntent{}, done(p.fail(ctx, KindPaymentSetupFailed, "", errors.New("payment service returned no client secret")))
	}

	p.mu.Lock()
	p.intent = &intent
	p.mu.Unlock()
	return intent, done(p.advance(ctx, StateIntentCreating, StateIntentReady))
}

// ConfirmCard consumes the intent. It can run at most once per pipeline.
func (p *Pipeline) ConfirmCard(ctx context.Context, input domain.CardInput) (domain.PaymentOutcome, error) {
	if err := p.advance(ctx, StateIntentReady, StateConfirming); err != nil {
		return domain.PaymentOutcome{}, err
	}
	ctx, done := p.step(ctx, "confirm_card")

	if input.PaymentMethod == "" {
		return domain.PaymentOutcome{}, done(p.fail(ctx, KindCardInputInvalid, "", errors.New("missing payment method")))
	}

	p.mu.Lock()
	secret := p.intent.ClientSecret
	p.mu.Unlock()

	outcome, err := p.svc.Cards.Confirm(p.callCtx(ctx), secret, input)
	if err != nil {
		var rej CardRejection
		if errors.As(err, &rej) {
			kind := KindCardDeclined
			if rej.InvalidInput() {
				kind = KindCardInputInvalid
			}
			return domain.PaymentOutcome{}, done(p.fail(ctx, kind, rej.DeclineCode(), err))
		}
		return domain.PaymentOutcome{}, done(p.fail(ctx, KindCardDeclined, "", err))
	}
	if !outcome.Succeeded || outcome.PaymentID == "" {
		return domain.PaymentOutcome{}, done(p.fail(ctx, KindCardDeclined, "", errors.New("card confirmation did not succeed")))
	}

	p.mu.Lock()
	p.outcome = &outcome
	p.mu.Unlock()
	return outcome, done(nil)
}

// Capture finalises the payment confirmed by the latest ConfirmCard.
func (p *Pipeline) Capture(ctx context.Context) (domain.CaptureReceipt, error) {
	p.mu.Lock()
	state, outcome, intent := p.state, p.outcome, p.intent
	p.mu.Unlock()
	if state != StateConfirming || outcome == nil || !outcome.Succeeded {
		return domain.CaptureReceipt{}, errors.Wrapf(ErrInvalidTransition, "capture requires a confirmed card payment, state %s", state)
	}
	ctx, done := p.step(ctx, "capture")

	msg, err := p.svc.Payments.Capture(p.callCtx(ctx), outcome.PaymentID, intent.PurchaseID)
	if err != nil {
		return domain.CaptureReceipt{}, done(p.fail(ctx, KindCaptureFailed, "", err))
	}

	p.mu.Lock()
	receipt := domain.CaptureReceipt{
		Message:     msg,
		PaymentID:   outcome.PaymentID,
		PurchaseID:  intent.PurchaseID,
		TotalAmount: p.total,
	}
	p.receipt = &receipt
	p.mu.Unlock()

	if err := p.advance(ctx, StateConfirming, StateCaptured); err != nil {
		return domain.CaptureReceipt{}, done(err)
	}
	observability.PipelineOutcomes.WithLabelValues("captured").Inc()
	return receipt, done(nil)
}

func (p *Pipeline) expired() bool {
	return !p.expiresAt.IsZero() && !p.now().Before(p.expiresAt)
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Total is the selection's price, known once the reservation step ran.
func (p *Pipeline) Total() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Pipeline) Failure() *Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// advance moves from an expected state to the next one and notifies observers.
func (p *Pipeline) advance(ctx context.Context, from, to State) error {
	p.mu.Lock()
	if p.state != from || !CanTransition(from, to) {
		cur := p.state
		p.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s from state %s", from, to, cur)
	}
	p.state = to
	p.updatedAt = p.now()
	t := Transition{PurchaseID: p.id, From: from, To: to, At: p.updatedAt, Snapshot: p.snapshotLocked()}
	p.mu.Unlock()

	p.logger.WithField("state", string(to)).Info("purchase transition")
	p.notify(ctx, t)
	return nil
}

// fail moves any non-terminal state to Failed and returns the failure.
func (p *Pipeline) fail(ctx context.Context, kind Kind, code string, cause error) error {
	f := &Failure{Kind: kind, Code: code, Err: cause}

	p.mu.Lock()
	from := p.state
	if from.Terminal() {
		p.mu.Unlock()
		return f
	}
	p.state = StateFailed
	p.failure = f
	p.updatedAt = p.now()
	t := Transition{PurchaseID: p.id, From: from, To: StateFailed, At: p.updatedAt, Snapshot: p.snapshotLocked()}
	p.mu.Unlock()

	p.logger.WithFields(map[string]interface{}{
		"state": string(from),
		"kind":  string(kind),
		"code":  code,
	}).Warn("purchase failed: ", cause)
	observability.PipelineOutcomes.WithLabelValues(string(kind)).Inc()
	p.notify(ctx, t)
	return f
}

func (p *Pipeline) notify(ctx context.Context, t Transition) {
	for _, o := range p.observers {
		o.OnTransition(ctx, t)
	}
}

// callCtx carries the session so the backend interceptor can attach the
// bearer credential.
func (p *Pipeline) callCtx(ctx context.Context) context.Context {
	return session.NewContext(ctx, p.sess)
}

// step opens a span and a timer around one pipeline step.
func (p *Pipeline) step(ctx context.Context, name string) (context.Context, func(error) error) {
	ctx, span := tracer.Start(ctx, "purchase."+name)
	span.SetAttributes(attribute.String("purchase.id", p.id.String()))
	start := time.Now()
	return ctx, func(err error) error {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.PipelineStepDuration.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
		span.End()
		return err
	}
}
