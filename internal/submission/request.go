package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/checkout/internal/domain"
)

// ErrorKind classifies a failed submission.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindDeclined       ErrorKind = "declined"
	KindUnavailable    ErrorKind = "unavailable"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindCancelled      ErrorKind = "cancelled"
	KindFailed         ErrorKind = "failed"
)

// Gateway errors. Implementations wrap one of these so the adapter can classify the
// failure; anything else is reported as KindFailed.
var (
	ErrDeclined       = errors.New("submission: payment declined")
	ErrInvalidRequest = errors.New("submission: invalid order request")
	ErrUnavailable    = errors.New("submission: gateway unavailable")
)

// OrderRequest is the order handed to the gateway. OrderID is stable for a wizard;
// AttemptID changes on every call and doubles as the gateway idempotency key.
type OrderRequest struct {
	OrderID         string                  `json:"orderId"`
	AttemptID       string                  `json:"attemptId"`
	Flow            domain.FlowKind         `json:"flow"`
	VariantID       string                  `json:"variantId"`
	Quantity        int                     `json:"quantity"`
	TotalAmount     int64                   `json:"totalAmount"`
	Currency        string                  `json:"currency"`
	Breakdown       domain.PriceBreakdown   `json:"breakdown"`
	DeliveryMethod  *domain.DeliveryMethod  `json:"deliveryMethod,omitempty"`
	PaymentMethod   domain.PaymentMethod    `json:"paymentMethod"`
	PaymentDetails  domain.PaymentDetails   `json:"paymentDetails"`
	ShippingAddress *domain.ShippingAddress `json:"shippingAddress,omitempty"`
	PickupStationID string                  `json:"pickupStationId,omitempty"`
	Location        string                  `json:"location,omitempty"`
}

// Validate checks the fields every gateway relies on.
func (r OrderRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.OrderID) == "" {
		missing = append(missing, "orderId")
	}
	if strings.TrimSpace(r.VariantID) == "" {
		missing = append(missing, "variantId")
	}
	if r.Quantity < 1 {
		missing = append(missing, "quantity")
	}
	if r.TotalAmount < 0 {
		missing = append(missing, "totalAmount")
	}
	if len(r.Currency) != 3 {
		missing = append(missing, "currency")
	}
	if r.PaymentMethod.ID == "" {
		missing = append(missing, "paymentMethod")
	}
	if r.DeliveryMethod != nil {
		if r.DeliveryMethod.Kind == domain.DeliveryPickupStation && r.PickupStationID == "" {
			missing = append(missing, "pickupStationId")
		}
		if r.DeliveryMethod.Kind != domain.DeliveryPickupStation && r.ShippingAddress == nil {
			missing = append(missing, "shippingAddress")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Receipt is a successful gateway response.
type Receipt struct {
	TransactionID string
	Status        string
}

// Gateway places an order. It must honour ctx cancellation.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Receipt, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req OrderRequest) (Receipt, error)

func (f GatewayFunc) PlaceOrder(ctx context.Context, req OrderRequest) (Receipt, error) {
	return f(ctx, req)
}

// Outcome is the two-case result of a submission.
type Outcome struct {
	Success       bool      `json:"success"`
	TransactionID string    `json:"transactionId,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	AttemptID     string    `json:"attemptId,omitempty"`
	Err           error     `json:"-"`
}

// Succeeded builds a successful outcome.
func Succeeded(attemptID, transactionID string) Outcome {
	return Outcome{Success: true, TransactionID: transactionID, AttemptID: attemptID}
}

// Failed builds a failed outcome of the given kind.
func Failed(attemptID string, kind ErrorKind, err error) Outcome {
	return Outcome{ErrorKind: kind, AttemptID: attemptID, Err: err}
}
