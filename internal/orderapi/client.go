package orderapi

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

	"github.com/hanko-field/checkout/internal/submission"
)

const (
	defaultTimeout    = 30 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 2048
)

// ErrMissingBaseURL is returned by NewClient when no endpoint is configured.
var ErrMissingBaseURL = errors.New("orderapi: base url is required")

// Client places orders against the downstream order HTTP API. It implements
// submission.Gateway; each attempt id is sent as the idempotency key.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client. The submission adapter owns the deadline,
// so the client timeout only guards against hung connections.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("orderapi: invalid base url: %w", err)
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type placeOrderPayload struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// PlaceOrder posts req to {base}/orders.
func (c *Client) PlaceOrder(ctx context.Context, req submission.OrderRequest) (submission.Receipt, error) {
	endpoint, err := url.JoinPath(c.baseURL, "orders")
	if err != nil {
		return submission.Receipt{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return submission.Receipt{}, fmt.Errorf("%w: encode order: %v", submission.ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return submission.Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(idempotencyHeader, req.AttemptID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return submission.Receipt{}, ctxErr
		}
		return submission.Receipt{}, fmt.Errorf("%w: %v", submission.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return submission.Receipt{}, statusError(resp.StatusCode, drainError(resp.Body))
	}

	var payload placeOrderPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return submission.Receipt{}, fmt.Errorf("orderapi: decode response: %w", err)
	}
	return submission.Receipt{
		TransactionID: strings.TrimSpace(payload.TransactionID),
		Status:        strings.TrimSpace(payload.Status),
	}, nil
}

func statusError(code int, detail string) error {
	var kind error
	switch {
	case code == http.StatusPaymentRequired:
		kind = submission.ErrDeclined
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		kind = submission.ErrUnavailable
	case code >= 400:
		kind = submission.ErrInvalidRequest
	default:
		return fmt.Errorf("orderapi: unexpected status %d", code)
	}
	if detail == "" {
		return fmt.Errorf("%w: status %d", kind, code)
	}
	return fmt.Errorf("%w: status %d: %s", kind, code, detail)
}

func drainError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
