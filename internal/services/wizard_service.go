package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
	"github.com/hanko-field/checkout/internal/pricing"
	"github.com/hanko-field/checkout/internal/submission"
	"github.com/hanko-field/checkout/internal/wizard"
)

const (
	// DefaultSessionTTL is how long an idle wizard session is kept.
	DefaultSessionTTL = 30 * time.Minute

	instrumentationName = "github.com/hanko-field/checkout/internal/services"
)

// ErrSessionNotFound is returned for unknown, expired or discarded sessions.
var ErrSessionNotFound = errors.New("wizard service: session not found")

// OrderPlacedEvent is published once a wizard places its order.
type OrderPlacedEvent struct {
	EventID        string          `json:"eventId"`
	SessionID      string          `json:"sessionId"`
	OrderID        string          `json:"orderId"`
	TransactionID  string          `json:"transactionId"`
	Flow           domain.FlowKind `json:"flow"`
	VariantID      string          `json:"variantId"`
	Quantity       int             `json:"quantity"`
	TotalAmount    int64           `json:"totalAmount"`
	Currency       string          `json:"currency"`
	DeliveryMethod string          `json:"deliveryMethod,omitempty"`
	PickupStation  string          `json:"pickupStation,omitempty"`
	PaymentMethod  string          `json:"paymentMethod"`
	PlacedAt       time.Time       `json:"placedAt"`
	IdempotencyKey string          `json:"-"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) (string, error)
}

// WizardServiceDeps wires a WizardService. Catalog and Submitter are required.
type WizardServiceDeps struct {
	Catalog   wizard.Catalog
	Pricing   *pricing.Engine
	Submitter wizard.Submitter
	Publisher OrderEventPublisher
	TTL       time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
	NewID     func() string
	Meter     metric.Meter
}

// WizardView is a wizard snapshot addressed by its session id.
type WizardView struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Exit      string    `json:"exit,omitempty"`
	wizard.Snapshot
}

// WizardService hosts wizard controllers as server-side sessions. Calls on one session
// are serialised; the gateway call of a submission runs without holding the session.
type WizardService struct {
	catalog   wizard.Catalog
	pricing   *pricing.Engine
	locations *location.Selector
	gate      *wizard.Gate
	submitter wizard.Submitter
	publisher OrderEventPublisher
	ttl       time.Duration
	logger    func(context.Context, string, map[string]any)
	clock     func() time.Time
	newID     func() string
	active    metric.Int64UpDownCounter

	mu       sync.Mutex
	sessions map[string]*wizardSession
}

type wizardSession struct {
	mu       sync.Mutex
	id       string
	ctrl     *wizard.Controller
	lastSeen time.Time
	cancel   context.CancelFunc
	exit     wizard.ExitReason
	closed   bool
}

func NewWizardService(deps WizardServiceDeps) (*WizardService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("wizard service: catalog is required")
	}
	if deps.Submitter == nil {
		return nil, errors.New("wizard service: submitter is required")
	}
	locations, err := location.NewSelector(deps.Catalog)
	if err != nil {
		return nil, fmt.Errorf("wizard service: %w", err)
	}
	engine := deps.Pricing
	if engine == nil {
		engine = pricing.NewEngine(deps.Catalog.Currency())
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	active, err := meter.Int64UpDownCounter("checkout.wizard.sessions",
		metric.WithDescription("Open wizard sessions"))
	if err != nil {
		return nil, fmt.Errorf("wizard service: session gauge: %w", err)
	}

	return &WizardService{
		catalog:   deps.Catalog,
		pricing:   engine,
		locations: locations,
		gate:      wizard.NewGate(),
		submitter: deps.Submitter,
		publisher: deps.Publisher,
		ttl:       ttl,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    newID,
		active:   active,
		sessions: make(map[string]*wizardSession),
	}, nil
}

// Create opens a wizard session running the given flow.
func (s *WizardService) Create(ctx context.Context, kind domain.FlowKind) (WizardView, error) {
	flow, err := wizard.FlowFor(kind)
	if err != nil {
		return WizardView{}, err
	}
	sess := &wizardSession{id: s.newID(), lastSeen: s.clock()}
	ctrl, err := wizard.New(wizard.Deps{
		Flow:      flow,
		Catalog:   s.catalog,
		Pricing:   s.pricing,
		Locations: s.locations,
		Gate:      s.gate,
		Submitter: s.submitter,
		Navigator: wizard.NavigatorFunc(func(ctx context.Context, reason wizard.ExitReason) {
			s.exit(ctx, sess, reason)
		}),
		Logger: s.logger,
		Clock:  s.clock,
	})
	if err != nil {
		return WizardView{}, err
	}
	sess.ctrl = ctrl

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.active.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", string(flow.Kind()))))
	s.logger(ctx, "wizard.session.created", map[string]any{
		"sessionId": sess.id,
		"orderId":   ctrl.OrderID(),
		"flow":      string(flow.Kind()),
	})
	return s.view(sess), nil
}

// Get returns the current snapshot without touching the idle timer.
func (s *WizardService) Get(ctx context.Context, id string) (WizardView, error) {
	sess, err := s.lock(id)
	if err != nil {
		return WizardView{}, err
	}
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

// LocationOptions lists the choices for level under the session's current selection.
func (s *WizardService) LocationOptions(ctx context.Context, id string, level location.Level) ([]domain.LocationNode, error) {
	sess, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()
	return sess.ctrl.LocationOptions(level)
}

// Discard ends the session and cancels any submission it has in flight.
func (s *WizardService) Discard(ctx context.Context, id string) error {
	sess, err := s.lock(id)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()
	sess.ctrl.CancelSubmission(ctx)
	s.close(ctx, sess, "discarded")
	return nil
}

func (s *WizardService) SelectVariant(ctx context.Context, id, variantID string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SelectVariant(variantID) })
}

func (s *WizardService) SetQuantity(ctx context.Context, id string, quantity int) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SetQuantity(quantity) })
}

func (s *WizardService) SelectLocation(ctx context.Context, id string, level location.Level, code string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SelectLocation(level, code) })
}

func (s *WizardService) SetComposedAddress(ctx context.Context, id, address string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SetComposedAddress(address) })
}

func (s *WizardService) SelectDelivery(ctx context.Context, id, methodID string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SelectDelivery(methodID) })
}

func (s *WizardService) SelectPickupStation(ctx context.Context, id, stationID string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SelectPickupStation(stationID) })
}

func (s *WizardService) SetShippingAddress(ctx context.Context, id string, addr domain.ShippingAddress) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SetShippingAddress(addr) })
}

func (s *WizardService) SelectPayment(ctx context.Context, id, methodID string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.SelectPayment(methodID) })
}

// SetPaymentDetails stores card details or a wallet phone, whichever is supplied.
func (s *WizardService) SetPaymentDetails(ctx context.Context, id string, details domain.PaymentDetails) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error {
		switch {
		case details.Card != nil:
			return c.SetCardDetails(*details.Card)
		case details.Wallet != nil:
			return c.SetWalletPhone(details.Wallet.Phone)
		}
		return fmt.Errorf("%w: card or wallet details are required", wizard.ErrInvalidInput)
	})
}

func (s *WizardService) AcceptTerms(ctx context.Context, id string, accepted bool) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.AcceptTerms(accepted) })
}

// Retreat moves the wizard back one step. Retreating from the first step ends the
// session; the returned view then carries the exit reason.
func (s *WizardService) Retreat(ctx context.Context, id string) (WizardView, error) {
	view, err := s.mutate(ctx, id, func(c *wizard.Controller) error { return c.Retreat(ctx) })
	if errors.Is(err, wizard.ErrExitWizard) {
		return view, nil
	}
	return view, err
}

// Done closes a placed wizard and ends its session.
func (s *WizardService) Done(ctx context.Context, id string) (WizardView, error) {
	return s.mutate(ctx, id, func(c *wizard.Controller) error { return c.Done(ctx) })
}

// Advance moves to the next step. On the final step it submits the order: the ticket is
// taken under the session lock, the gateway is called without it and the outcome is
// applied under the lock again, so reads and cancellation stay responsive meanwhile.
func (s *WizardService) Advance(ctx context.Context, id string) (WizardView, error) {
	sess, err := s.lock(id)
	if err != nil {
		return WizardView{}, err
	}
	sess.lastSeen = s.clock()
	ctrl := sess.ctrl
	if ctrl.State().CurrentStep != ctrl.Flow().Final() {
		err := ctrl.Advance(ctx)
		view := s.view(sess)
		sess.mu.Unlock()
		return view, err
	}

	ticket, err := ctrl.BeginSubmission(ctx)
	if err != nil {
		view := s.view(sess)
		sess.mu.Unlock()
		return view, err
	}
	// The request context only bounds the HTTP exchange; the submission is bounded by the
	// submitter's own timeout and by explicit cancellation.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel
	sess.mu.Unlock()

	outcome := s.submitter.Submit(subCtx, ticket.Request)

	sess.mu.Lock()
	cancel()
	sess.cancel = nil
	sess.lastSeen = s.clock()
	err = ctrl.CompleteSubmission(ctx, ticket, outcome)
	view := s.view(sess)
	sess.mu.Unlock()

	if err == nil {
		s.publish(context.WithoutCancel(ctx), sess.id, ticket.Request, outcome.AttemptID, view.State)
	}
	return view, err
}

// CancelSubmission abandons the in-flight submission. Its outcome is discarded when it
// arrives.
func (s *WizardService) CancelSubmission(ctx context.Context, id string) (WizardView, error) {
	sess, err := s.lock(id)
	if err != nil {
		return WizardView{}, err
	}
	defer sess.mu.Unlock()
	sess.lastSeen = s.clock()
	if sess.ctrl.CancelSubmission(ctx) && sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}
	return s.view(sess), nil
}

// Sweep closes sessions idle for longer than the TTL. Sessions that are busy or have a
// submission in flight are left for the next sweep.
func (s *WizardService) Sweep(ctx context.Context) int {
	now := s.clock()
	s.mu.Lock()
	candidates := make([]*wizardSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	removed := 0
	for _, sess := range candidates {
		if !sess.mu.TryLock() {
			continue
		}
		if !sess.closed && sess.cancel == nil && now.Sub(sess.lastSeen) >= s.ttl {
			s.close(ctx, sess, "expired")
			removed++
		}
		sess.mu.Unlock()
	}
	return removed
}

// Len reports the number of open sessions.
func (s *WizardService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *WizardService) mutate(ctx context.Context, id string, fn func(*wizard.Controller) error) (WizardView, error) {
	sess, err := s.lock(id)
	if err != nil {
		return WizardView{}, err
	}
	defer sess.mu.Unlock()
	sess.lastSeen = s.clock()
	err = fn(sess.ctrl)
	return s.view(sess), err
}

// lock returns the session with its mutex held.
func (s *WizardService) lock(id string) (*wizardSession, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// exit is the navigator of every hosted controller. It runs with the session locked.
func (s *WizardService) exit(ctx context.Context, sess *wizardSession, reason wizard.ExitReason) {
	sess.exit = reason
	s.close(ctx, sess, string(reason))
}

// close removes the session. Callers hold sess.mu.
func (s *WizardService) close(ctx context.Context, sess *wizardSession, reason string) {
	if sess.closed {
		return
	}
	sess.closed = true
	if sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.active.Add(ctx, -1, metric.WithAttributes(attribute.String("flow", string(sess.ctrl.Flow().Kind()))))
	s.logger(ctx, "wizard.session.closed", map[string]any{
		"sessionId": sess.id,
		"orderId":   sess.ctrl.OrderID(),
		"reason":    reason,
	})
}

// view snapshots the session. Card numbers are reduced to their last four digits and the
// CVC is never echoed.
func (s *WizardService) view(sess *wizardSession) WizardView {
	snap := sess.ctrl.Snapshot()
	if card := snap.State.PaymentDetails.Card; card != nil {
		card.Number = maskedCard(card.Last4())
		card.CVC = ""
	}
	return WizardView{
		SessionID: sess.id,
		ExpiresAt: sess.lastSeen.Add(s.ttl),
		Exit:      string(sess.exit),
		Snapshot:  snap,
	}
}

func maskedCard(last4 string) string {
	if last4 == "" {
		return ""
	}
	return "**** " + last4
}

// publish emits the order-placed event. attemptID is the id the gateway saw; the ticket's
// request never carries one because the submitter stamps its own copy.
func (s *WizardService) publish(ctx context.Context, sessionID string, req submission.OrderRequest, attemptID string, state domain.WizardState) {
	if s.publisher == nil {
		return
	}
	event := OrderPlacedEvent{
		EventID:        s.newID(),
		SessionID:      sessionID,
		OrderID:        req.OrderID,
		TransactionID:  state.OrderResult.TransactionID,
		Flow:           state.Flow,
		VariantID:      req.VariantID,
		Quantity:       req.Quantity,
		TotalAmount:    req.TotalAmount,
		Currency:       req.Currency,
		DeliveryMethod: state.DeliveryMethod,
		PickupStation:  state.PickupStation,
		PaymentMethod:  state.PaymentMethod,
		PlacedAt:       state.OrderResult.PlacedAt,
		IdempotencyKey: attemptID,
	}
	id, err := s.publisher.PublishOrderPlaced(ctx, event)
	if err != nil {
		s.logger(ctx, "wizard.order_event.failed", map[string]any{
			"sessionId":     sessionID,
			"transactionId": event.TransactionID,
			"error":         err.Error(),
		})
		return
	}
	s.logger(ctx, "wizard.order_event.published", map[string]any{
		"sessionId": sessionID,
		"messageId": id,
	})
}
