package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/checkout/internal/domain"
)

// Status enumerates the normalised charge states shared across providers.
type Status string

const (
	// StatusPending indicates the charge was accepted but settles later (bank transfers,
	// asynchronous wallet confirmation).
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider captured the funds.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a terminal failure.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrDeclined marks a charge the provider refused (insufficient funds, card declined).
	ErrDeclined = errors.New("payments: charge declined")
	// ErrInvalidRequest marks a charge the provider rejected as malformed.
	ErrInvalidRequest = errors.New("payments: invalid charge request")
	// ErrUnavailable marks a provider outage or transport failure.
	ErrUnavailable = errors.New("payments: provider unavailable")
)

// ChargeRequest carries a single charge. Amount is in minor units of Currency.
type ChargeRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Method         domain.PaymentMethod
	Card           *domain.CardDetails
	Wallet         *domain.WalletDetails
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Charge normalises the provider response.
type Charge struct {
	Provider  string
	ID        string
	Status    Status
	Amount    int64
	Currency  string
	Reference string
	Raw       map[string]any
}

// Provider defines the contract for payment adapters to implement.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	kindRoutes      map[domain.PaymentKind]string
	methodRoutes    map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no route matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithKindRoutes maps payment method kinds to provider keys.
func WithKindRoutes(routes map[domain.PaymentKind]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.kindRoutes == nil {
			m.kindRoutes = make(map[domain.PaymentKind]string, len(routes))
		}
		for k, v := range routes {
			m.kindRoutes[k] = strings.TrimSpace(v)
		}
	}
}

// WithMethodRoutes maps individual payment method ids to provider keys. Method routes win
// over kind routes, which lets two wallets of the same kind go to different operators.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	MethodID          string
	Kind              domain.PaymentKind
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if method := strings.TrimSpace(strings.ToLower(ctx.MethodID)); method != "" {
		if key, ok := m.lookup(m.methodRoutes[method]); ok {
			return key, m.providers[key], nil
		}
	}
	if ctx.Kind != "" {
		if key, ok := m.lookup(m.kindRoutes[ctx.Kind]); ok {
			return key, m.providers[key], nil
		}
	}
	if key, ok := m.lookup(m.defaultProvider); ok {
		return key, m.providers[key], nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func (m *Manager) lookup(key string) (string, bool) {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return "", false
	}
	_, ok := m.providers[key]
	return key, ok
}

// Charge delegates to the resolved provider and stamps the provider key on the result.
func (m *Manager) Charge(ctx context.Context, paymentCtx PaymentContext, req ChargeRequest) (Charge, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Charge{}, err
	}
	charge, err := provider.Charge(ctx, req)
	if err != nil {
		return Charge{}, err
	}
	charge.Provider = key
	return charge, nil
}
