package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/checkout/internal/platform/textutil"
)

const (
	defaultWalletTimeout = 8 * time.Second
	idempotencyHeader    = "Idempotency-Key"
)

// ErrWalletEndpointRequired is returned when no endpoint is configured and offline mode
// was not requested.
var ErrWalletEndpointRequired = errors.New("wallet: endpoint is required unless offline mode is enabled")

// WalletProviderConfig configures the mobile wallet provider. With Offline set and no
// Endpoint the provider approves every well-formed charge locally.
type WalletProviderConfig struct {
	Endpoint   string
	Offline    bool
	Token      string
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
	NewID      func() string
}

// WalletProvider charges mobile money wallets through the operator's HTTP API.
type WalletProvider struct {
	endpoint string
	token    string
	http     *http.Client
	logger   func(context.Context, string, map[string]any)
	newID    func() string
}

// NewWalletProvider constructs a WalletProvider.
func NewWalletProvider(cfg WalletProviderConfig) (*WalletProvider, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" && !cfg.Offline {
		return nil, ErrWalletEndpointRequired
	}
	if endpoint != "" {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, fmt.Errorf("wallet: invalid endpoint: %w", err)
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultWalletTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &WalletProvider{
		endpoint: endpoint,
		token:    strings.TrimSpace(cfg.Token),
		http:     httpClient,
		logger:   logger,
		newID:    newID,
	}, nil
}

type walletChargePayload struct {
	OrderID  string `json:"orderId"`
	Operator string `json:"operator"`
	Phone    string `json:"phone"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Note     string `json:"note,omitempty"`
}

type walletChargeResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Charge debits the wallet identified by req.Wallet.Phone.
func (p *WalletProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if p == nil {
		return Charge{}, errors.New("wallet: provider is nil")
	}
	if req.Wallet == nil {
		return Charge{}, fmt.Errorf("%w: wallet phone is required", ErrInvalidRequest)
	}
	phone := textutil.Digits(req.Wallet.Phone)
	if len(phone) < 8 {
		return Charge{}, fmt.Errorf("%w: wallet phone %q is too short", ErrInvalidRequest, req.Wallet.Phone)
	}
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	if p.endpoint == "" {
		charge := Charge{
			ID:       "WL-" + p.newID(),
			Status:   StatusSucceeded,
			Amount:   req.Amount,
			Currency: strings.ToUpper(req.Currency),
			Raw:      map[string]any{"offline": true},
		}
		p.logger(ctx, "payments.wallet.offline_charge", map[string]any{
			"orderId":  req.OrderID,
			"operator": req.Method.ID,
			"chargeId": charge.ID,
		})
		return charge, nil
	}

	endpoint, err := url.JoinPath(p.endpoint, "charges")
	if err != nil {
		return Charge{}, err
	}
	payload, err := json.Marshal(walletChargePayload{
		OrderID:  req.OrderID,
		Operator: req.Method.ID,
		Phone:    phone,
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Note:     req.Description,
	})
	if err != nil {
		return Charge{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Charge{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set(idempotencyHeader, key)
	}
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Charge{}, ctx.Err()
		}
		return Charge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return Charge{}, fmt.Errorf("wallet: charge: %w", err)
	}

	var body walletChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Charge{}, fmt.Errorf("%w: decode wallet response: %v", ErrUnavailable, err)
	}
	charge := Charge{
		ID:       strings.TrimSpace(body.ID),
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Raw:      map[string]any{"status": body.Status},
	}
	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "succeeded", "completed", "paid":
		charge.Status = StatusSucceeded
	case "pending", "processing", "":
		charge.Status = StatusPending
	default:
		return Charge{}, fmt.Errorf("%w: %s", ErrDeclined, defaultString(body.Message, body.Status))
	}
	p.logger(ctx, "payments.wallet.charged", map[string]any{
		"orderId":  req.OrderID,
		"operator": req.Method.ID,
		"chargeId": charge.ID,
		"status":   string(charge.Status),
	})
	return charge, nil
}

// statusError maps an HTTP error status onto the package sentinels.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrDeclined, drainError(resp.Body))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, drainError(resp.Body))
	}
	return fmt.Errorf("%w: status %d: %s", ErrInvalidRequest, resp.StatusCode, drainError(resp.Body))
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}
