package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
	"github.com/hanko-field/checkout/internal/platform/textutil"
	"github.com/hanko-field/checkout/internal/pricing"
	"github.com/hanko-field/checkout/internal/submission"
)

// ExitReason tells the host why the wizard is handing control back.
type ExitReason string

const (
	ExitBackedOut ExitReason = "backed_out"
	ExitCompleted ExitReason = "completed"
)

// Navigator is the host screen stack.
type Navigator interface {
	Exit(ctx context.Context, reason ExitReason)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, reason ExitReason)

func (f NavigatorFunc) Exit(ctx context.Context, reason ExitReason) { f(ctx, reason) }

// Submitter places the order built at the review step.
type Submitter interface {
	Submit(ctx context.Context, req submission.OrderRequest) submission.Outcome
}

// Catalog is the reference data a wizard reads. *catalog.Catalog satisfies it.
type Catalog interface {
	location.Hierarchy
	Currency() string
	Variant(id string) (domain.ProductVariant, bool)
	DeliveryMethod(id string) (domain.DeliveryMethod, bool)
	PaymentMethod(id string) (domain.PaymentMethod, bool)
	PickupStation(id string) (domain.PickupStation, bool)
	DefaultVariant() string
	DefaultDelivery() string
	DefaultPayment() string
}

// Deps wires a Controller. Catalog and Submitter are required.
type Deps struct {
	Flow       Flow
	Catalog    Catalog
	Pricing    *pricing.Engine
	Locations  *location.Selector
	Gate       *Gate
	Submitter  Submitter
	Navigator  Navigator
	Logger     func(ctx context.Context, event string, fields map[string]any)
	Clock      func() time.Time
	NewOrderID func() string
}

// Controller drives one wizard. It is not safe for concurrent use; hosts serialise
// calls per wizard.
type Controller struct {
	flow      Flow
	catalog   Catalog
	pricing   *pricing.Engine
	locations *location.Selector
	gate      *Gate
	submitter Submitter
	navigator Navigator
	logger    func(context.Context, string, map[string]any)
	clock     func() time.Time

	orderID  string
	state    domain.WizardState
	seq      uint64
	inflight uint64
}

// Ticket identifies one submission. Only the most recent ticket can complete.
type Ticket struct {
	seq     uint64
	Request submission.OrderRequest
}

// New creates a controller positioned on the flow's first step with the catalog
// defaults preselected.
func New(deps Deps) (*Controller, error) {
	if deps.Catalog == nil {
		return nil, errors.New("wizard: catalog is required")
	}
	if deps.Submitter == nil {
		return nil, errors.New("wizard: submitter is required")
	}
	flow := deps.Flow
	if len(flow.steps) == 0 {
		flow = CheckoutFlow
	}
	engine := deps.Pricing
	if engine == nil {
		engine = pricing.NewEngine(deps.Catalog.Currency())
	}
	locations := deps.Locations
	if locations == nil {
		var err error
		if locations, err = location.NewSelector(deps.Catalog); err != nil {
			return nil, err
		}
	}
	gate := deps.Gate
	if gate == nil {
		gate = NewGate()
	}
	navigator := deps.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(context.Context, ExitReason) {})
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewOrderID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	c := &Controller{
		flow:      flow,
		catalog:   deps.Catalog,
		pricing:   engine,
		locations: locations,
		gate:      gate,
		submitter: deps.Submitter,
		navigator: navigator,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		orderID: newID(),
	}
	c.state = domain.WizardState{
		Flow:          flow.Kind(),
		CurrentStep:   flow.Initial(),
		Product:       domain.ProductSelection{VariantID: deps.Catalog.DefaultVariant(), Quantity: 1},
		PaymentMethod: deps.Catalog.DefaultPayment(),
	}
	if flow.HasDelivery() {
		c.state.DeliveryMethod = deps.Catalog.DefaultDelivery()
	}
	return c, nil
}

func (c *Controller) OrderID() string { return c.orderID }

func (c *Controller) Flow() Flow { return c.flow }

// State returns a copy of the current state.
func (c *Controller) State() domain.WizardState { return c.state.Clone() }

// Advance moves to the next step once the current step's gate passes. On the final step
// it submits the order and blocks until the outcome is known.
func (c *Controller) Advance(ctx context.Context) error {
	if err := c.mutable(); err != nil {
		return err
	}
	step := c.state.CurrentStep
	if v := c.gate.Check(step, c.gateInput()); !v.Passed {
		return &ValidationError{Step: step, Reason: v.Reason}
	}
	if step == c.flow.Final() {
		ticket, err := c.BeginSubmission(ctx)
		if err != nil {
			return err
		}
		return c.CompleteSubmission(ctx, ticket, c.submitter.Submit(ctx, ticket.Request))
	}
	next, ok := c.flow.Next(step, c.deliveryKind())
	if !ok {
		return fmt.Errorf("wizard: no step after %s", step)
	}
	c.state.CurrentStep = next
	c.logger(ctx, "wizard.advanced", map[string]any{
		"orderId": c.orderID,
		"from":    step.String(),
		"to":      next.String(),
	})
	return nil
}

// Retreat moves to the previous step. On the initial step the host is told to leave and
// ErrExitWizard is returned.
func (c *Controller) Retreat(ctx context.Context) error {
	if err := c.mutable(); err != nil {
		return err
	}
	step := c.state.CurrentStep
	prev, ok := c.flow.Previous(step, c.deliveryKind())
	if !ok {
		c.logger(ctx, "wizard.exit", map[string]any{"orderId": c.orderID, "reason": string(ExitBackedOut)})
		c.navigator.Exit(ctx, ExitBackedOut)
		return ErrExitWizard
	}
	if prev == domain.StepShippingOption {
		c.state.PickupStation = ""
	}
	c.state.OrderResult = domain.OrderResult{}
	c.state.CurrentStep = prev
	c.logger(ctx, "wizard.retreated", map[string]any{
		"orderId": c.orderID,
		"from":    step.String(),
		"to":      prev.String(),
	})
	return nil
}

// BeginSubmission validates every step on the current path, marks the wizard as
// submitting and returns the ticket carrying the order request. The caller runs the
// request and reports back through CompleteSubmission.
func (c *Controller) BeginSubmission(ctx context.Context) (Ticket, error) {
	if err := c.mutable(); err != nil {
		return Ticket{}, err
	}
	if c.state.CurrentStep != c.flow.Final() {
		return Ticket{}, ErrNotAtReview
	}
	if v, ok := c.firstFailure(); !ok {
		return Ticket{}, &ValidationError{Step: v.Step, Reason: v.Reason}
	}
	req, err := c.buildRequest()
	if err != nil {
		return Ticket{}, err
	}
	c.seq++
	c.inflight = c.seq
	c.state.Submitting = true
	c.state.OrderResult = domain.OrderResult{}
	c.logger(ctx, "wizard.submission.started", map[string]any{
		"orderId": c.orderID,
		"ticket":  c.seq,
		"total":   req.TotalAmount,
	})
	return Ticket{seq: c.seq, Request: req}, nil
}

// CompleteSubmission applies outcome if ticket is still current. A successful outcome
// closes the wizard on StepOrderPlaced; a failure keeps the review step, records the
// message and returns a *SubmissionError.
func (c *Controller) CompleteSubmission(ctx context.Context, ticket Ticket, outcome submission.Outcome) error {
	if ticket.seq == 0 || ticket.seq != c.inflight {
		c.logger(ctx, "wizard.submission.stale", map[string]any{
			"orderId": c.orderID,
			"ticket":  ticket.seq,
		})
		return ErrStaleSubmission
	}
	c.inflight = 0
	c.state.Submitting = false

	fields := map[string]any{"orderId": c.orderID, "ticket": ticket.seq}
	if outcome.Success {
		c.state.OrderResult = domain.OrderResult{
			Placed:        true,
			TransactionID: outcome.TransactionID,
			PlacedAt:      c.clock(),
		}
		c.state.CurrentStep = domain.StepOrderPlaced
		fields["transactionId"] = outcome.TransactionID
		c.logger(ctx, "wizard.order_placed", fields)
		return nil
	}
	kind := outcome.ErrorKind
	if kind == "" {
		kind = submission.KindFailed
	}
	c.state.OrderResult = domain.OrderResult{Error: string(kind), Message: userMessage(kind)}
	fields["errorKind"] = string(kind)
	c.logger(ctx, "wizard.submission.failed", fields)
	return &SubmissionError{Kind: kind, Err: outcome.Err}
}

// CancelSubmission invalidates the in-flight ticket. It reports whether a submission was
// pending.
func (c *Controller) CancelSubmission(ctx context.Context) bool {
	if c.inflight == 0 {
		return false
	}
	c.inflight = 0
	c.state.Submitting = false
	c.state.OrderResult = domain.OrderResult{
		Error:   string(submission.KindCancelled),
		Message: userMessage(submission.KindCancelled),
	}
	c.logger(ctx, "wizard.submission.cancelled", map[string]any{"orderId": c.orderID})
	return true
}

// Done hands control back to the host after the order was placed.
func (c *Controller) Done(ctx context.Context) error {
	if c.state.CurrentStep != domain.StepOrderPlaced {
		return ErrOrderNotPlaced
	}
	c.navigator.Exit(ctx, ExitCompleted)
	return nil
}

func (c *Controller) SelectVariant(id string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	variant, ok := c.catalog.Variant(strings.TrimSpace(id))
	if !ok {
		return fmt.Errorf("%w: variant %q", ErrUnknownOption, id)
	}
	c.state.Product.VariantID = variant.ID
	if c.state.Product.Quantity > variant.Stock {
		c.state.Product.Quantity = variant.Stock
	}
	if c.state.Product.Quantity < 1 {
		c.state.Product.Quantity = 1
	}
	return nil
}

// SetQuantity stores quantity. Stock bounds are checked by the quantity gate.
func (c *Controller) SetQuantity(quantity int) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	c.state.Product.Quantity = quantity
	return nil
}

// SelectLocation sets one level of the cascading location and clears every level below.
func (c *Controller) SelectLocation(level location.Level, code string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	loc, err := c.locations.Select(c.state.Location, level, code)
	if err != nil {
		return err
	}
	c.state.Location = loc
	return nil
}

// SetComposedAddress replaces the hierarchy with a free-form address.
func (c *Controller) SetComposedAddress(address string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	loc, err := location.Compose(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	c.state.Location = loc
	return nil
}

func (c *Controller) SelectDelivery(id string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if !c.flow.HasDelivery() {
		return fmt.Errorf("%w: %s flow has no delivery", ErrUnknownOption, c.flow.Kind())
	}
	method, ok := c.catalog.DeliveryMethod(strings.TrimSpace(id))
	if !ok {
		return fmt.Errorf("%w: delivery method %q", ErrUnknownOption, id)
	}
	c.state.DeliveryMethod = method.ID
	if method.Kind != domain.DeliveryPickupStation {
		c.state.PickupStation = ""
	}
	// Leaving the pickup branch while on its screen returns to the shipping choice; joining
	// it past its screen returns to the station choice.
	switch {
	case !slices.Contains(c.path(), c.state.CurrentStep):
		c.state.CurrentStep = domain.StepShippingOption
	case method.Kind == domain.DeliveryPickupStation && c.state.CurrentStep > domain.StepPickupStationSelection:
		c.state.CurrentStep = domain.StepPickupStationSelection
	}
	return nil
}

func (c *Controller) SelectPickupStation(id string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	station, ok := c.catalog.PickupStation(strings.TrimSpace(id))
	if !ok {
		return fmt.Errorf("%w: pickup station %q", ErrUnknownOption, id)
	}
	if c.deliveryKind() != domain.DeliveryPickupStation {
		return fmt.Errorf("%w: delivery method is not a pickup station", ErrInvalidInput)
	}
	c.state.PickupStation = station.ID
	return nil
}

// SetShippingAddress stores addr with markup stripped from every field.
func (c *Controller) SetShippingAddress(addr domain.ShippingAddress) error {
	if err := c.mutable(); err != nil {
		return err
	}
	c.state.ShippingAddress = domain.ShippingAddress{
		FirstName: textutil.Clean(addr.FirstName),
		LastName:  textutil.Clean(addr.LastName),
		Email:     strings.ToLower(textutil.Clean(addr.Email)),
		Phone:     textutil.Clean(addr.Phone),
		Address:   textutil.Clean(addr.Address),
		City:      textutil.Clean(addr.City),
		State:     textutil.Clean(addr.State),
		Zip:       textutil.Clean(addr.Zip),
	}
	return nil
}

// SelectPayment switches the payment method and drops details that belong to another
// kind of method.
func (c *Controller) SelectPayment(id string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	method, ok := c.catalog.PaymentMethod(strings.TrimSpace(id))
	if !ok {
		return fmt.Errorf("%w: payment method %q", ErrUnknownOption, id)
	}
	c.state.PaymentMethod = method.ID
	if method.Kind != domain.PaymentCard {
		c.state.PaymentDetails.Card = nil
	}
	if method.Kind != domain.PaymentWallet {
		c.state.PaymentDetails.Wallet = nil
	}
	return nil
}

func (c *Controller) SetCardDetails(card domain.CardDetails) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if c.paymentKind() != domain.PaymentCard {
		return fmt.Errorf("%w: selected payment method does not take a card", ErrInvalidInput)
	}
	c.state.PaymentDetails = domain.PaymentDetails{Card: &domain.CardDetails{
		Number: textutil.Digits(card.Number),
		Expiry: strings.TrimSpace(card.Expiry),
		CVC:    textutil.Digits(card.CVC),
		Holder: textutil.Clean(card.Holder),
	}}
	return nil
}

func (c *Controller) SetWalletPhone(phone string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if c.paymentKind() != domain.PaymentWallet {
		return fmt.Errorf("%w: selected payment method is not a wallet", ErrInvalidInput)
	}
	c.state.PaymentDetails = domain.PaymentDetails{Wallet: &domain.WalletDetails{Phone: textutil.Clean(phone)}}
	return nil
}

func (c *Controller) AcceptTerms(accepted bool) error {
	if err := c.mutable(); err != nil {
		return err
	}
	c.state.TermsAccepted = accepted
	return nil
}

func (c *Controller) mutable() error {
	if c.state.CurrentStep == domain.StepOrderPlaced {
		return ErrWizardClosed
	}
	if c.inflight != 0 {
		return ErrSubmissionInFlight
	}
	return nil
}

func (c *Controller) gateInput() GateInput {
	in := GateInput{State: c.state}
	if v, ok := c.catalog.Variant(c.state.Product.VariantID); ok {
		in.Variant = &v
	}
	if c.flow.HasDelivery() {
		if d, ok := c.catalog.DeliveryMethod(c.state.DeliveryMethod); ok {
			in.Delivery = &d
		}
	}
	if p, ok := c.catalog.PaymentMethod(c.state.PaymentMethod); ok {
		in.Payment = &p
	}
	return in
}

func (c *Controller) deliveryKind() domain.DeliveryKind {
	if !c.flow.HasDelivery() {
		return ""
	}
	if d, ok := c.catalog.DeliveryMethod(c.state.DeliveryMethod); ok {
		return d.Kind
	}
	return ""
}

func (c *Controller) paymentKind() domain.PaymentKind {
	if p, ok := c.catalog.PaymentMethod(c.state.PaymentMethod); ok {
		return p.Kind
	}
	return ""
}

// path lists the steps a user passes through to reach the final step with the current
// delivery choice.
func (c *Controller) path() []domain.Step {
	kind := c.deliveryKind()
	steps := []domain.Step{c.flow.Initial()}
	for step := c.flow.Initial(); step != c.flow.Final(); {
		next, ok := c.flow.Next(step, kind)
		if !ok {
			break
		}
		steps = append(steps, next)
		step = next
	}
	return steps
}

func (c *Controller) firstFailure() (Verdict, bool) {
	in := c.gateInput()
	for _, step := range c.path() {
		if v := c.gate.Check(step, in); !v.Passed {
			return v, false
		}
	}
	return Verdict{}, true
}

func (c *Controller) quote() (domain.PriceBreakdown, error) {
	in := c.gateInput()
	if in.Variant == nil {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: variant %q", ErrUnknownOption, c.state.Product.VariantID)
	}
	return c.pricing.Quote(pricing.Input{
		Variant:  *in.Variant,
		Quantity: c.state.Product.Quantity,
		Delivery: in.Delivery,
		Payment:  in.Payment,
	})
}

func (c *Controller) buildRequest() (submission.OrderRequest, error) {
	breakdown, err := c.quote()
	if err != nil {
		return submission.OrderRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	in := c.gateInput()
	if in.Payment == nil {
		return submission.OrderRequest{}, fmt.Errorf("%w: payment method %q", ErrUnknownOption, c.state.PaymentMethod)
	}
	req := submission.OrderRequest{
		OrderID:        c.orderID,
		Flow:           c.flow.Kind(),
		VariantID:      c.state.Product.VariantID,
		Quantity:       c.state.Product.Quantity,
		TotalAmount:    breakdown.Total,
		Currency:       breakdown.Currency,
		Breakdown:      breakdown,
		PaymentMethod:  *in.Payment,
		PaymentDetails: c.state.PaymentDetails.Clone(),
	}
	if in.Delivery != nil {
		req.DeliveryMethod = in.Delivery
		addr := c.state.ShippingAddress
		req.ShippingAddress = &addr
		if in.Delivery.Kind == domain.DeliveryPickupStation {
			req.PickupStationID = c.state.PickupStation
		}
		req.Location = c.locations.Label(c.state.Location)
	}
	return req, nil
}
