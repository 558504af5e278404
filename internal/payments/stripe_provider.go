package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/hanko-field/checkout/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentMethodAPI interface {
	New(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	paymentMethods stripePaymentMethodAPI
	intents        stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider charges cards with a confirmed Payment Intent.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			paymentMethods: sc.PaymentMethods,
			intents:        sc.PaymentIntents,
		}
	}
	if clients.paymentMethods == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Charge tokenises the card and confirms a Payment Intent for the full amount.
func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if p == nil {
		return Charge{}, errors.New("stripe: provider is nil")
	}
	if req.Card == nil {
		return Charge{}, fmt.Errorf("%w: card details are required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	month, year, err := parseExpiry(req.Card.Expiry, p.clock())
	if err != nil {
		return Charge{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	pmParams := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(textutil.Digits(req.Card.Number)),
			ExpMonth: stripe.Int64(month),
			ExpYear:  stripe.Int64(year),
			CVC:      stripe.String(strings.TrimSpace(req.Card.CVC)),
		},
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{
			Name: stripe.String(strings.TrimSpace(req.Card.Holder)),
		},
	}
	pmParams.Context = ctx
	if p.account != "" {
		pmParams.SetStripeAccount(p.account)
	}
	method, err := p.api.paymentMethods.New(pmParams)
	if err != nil {
		return Charge{}, fmt.Errorf("stripe: create payment method: %w", classifyStripeError(err))
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(method.ID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Metadata = make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.OrderID != "" {
		params.Metadata["orderId"] = req.OrderID
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Charge{}, fmt.Errorf("stripe: create payment intent: %w", classifyStripeError(err))
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"last4":         req.Card.Last4(),
	})
	return stripeCharge(intent)
}

func stripeCharge(intent *stripe.PaymentIntent) (Charge, error) {
	if intent == nil {
		return Charge{}, fmt.Errorf("%w: stripe returned no payment intent", ErrUnavailable)
	}
	charge := Charge{
		ID:       intent.ID,
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
		Raw: map[string]any{
			"status": string(intent.Status),
		},
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		charge.Status = StatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		charge.Status = StatusPending
	case stripe.PaymentIntentStatusRequiresAction:
		return Charge{}, fmt.Errorf("%w: card requires customer authentication", ErrDeclined)
	default:
		reason := string(intent.Status)
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		return Charge{}, fmt.Errorf("%w: %s", ErrDeclined, reason)
	}
	return charge, nil
}

// classifyStripeError folds Stripe API errors into the package sentinels.
func classifyStripeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %s", ErrDeclined, se.Msg)
		case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
			return fmt.Errorf("%w: %s", ErrInvalidRequest, se.Msg)
		}
		return fmt.Errorf("%w: %s", ErrUnavailable, se.Msg)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// parseExpiry accepts MM/YY or MM/YYYY and rejects past months.
func parseExpiry(raw string, now time.Time) (int64, int64, error) {
	parts := strings.Split(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("card expiry %q must be MM/YY", raw)
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("card expiry month %q is invalid", parts[0])
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 0 {
		return 0, 0, fmt.Errorf("card expiry year %q is invalid", parts[1])
	}
	switch len(parts[1]) {
	case 2:
		year += 2000
	case 4:
	default:
		return 0, 0, fmt.Errorf("card expiry year %q is invalid", parts[1])
	}
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return 0, 0, errors.New("card has expired")
	}
	return int64(month), int64(year), nil
}
