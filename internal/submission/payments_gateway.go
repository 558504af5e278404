package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/checkout/internal/payments"
)

// Charger is the subset of payments.Manager used by PaymentsGateway.
type Charger interface {
	Charge(ctx context.Context, paymentCtx payments.PaymentContext, req payments.ChargeRequest) (payments.Charge, error)
}

// PaymentsGateway places orders by charging the selected payment method directly.
type PaymentsGateway struct {
	charger Charger
}

func NewPaymentsGateway(charger Charger) (*PaymentsGateway, error) {
	if charger == nil {
		return nil, errors.New("submission: charger is required")
	}
	return &PaymentsGateway{charger: charger}, nil
}

func (g *PaymentsGateway) PlaceOrder(ctx context.Context, req OrderRequest) (Receipt, error) {
	charge, err := g.charger.Charge(ctx, payments.PaymentContext{
		MethodID: req.PaymentMethod.ID,
		Kind:     req.PaymentMethod.Kind,
	}, payments.ChargeRequest{
		OrderID:        req.OrderID,
		Amount:         req.TotalAmount,
		Currency:       req.Currency,
		Method:         req.PaymentMethod,
		Card:           req.PaymentDetails.Card,
		Wallet:         req.PaymentDetails.Wallet,
		Description:    fmt.Sprintf("order %s: %d x %s", req.OrderID, req.Quantity, req.VariantID),
		Metadata:       map[string]string{"attemptId": req.AttemptID, "flow": string(req.Flow)},
		IdempotencyKey: req.AttemptID,
	})
	if err != nil {
		return Receipt{}, mapPaymentError(err)
	}
	if charge.Status == payments.StatusFailed {
		return Receipt{}, fmt.Errorf("%w: provider %s reported failure", ErrDeclined, charge.Provider)
	}
	return Receipt{TransactionID: charge.ID, Status: string(charge.Status)}, nil
}

func mapPaymentError(err error) error {
	switch {
	case errors.Is(err, payments.ErrDeclined):
		return fmt.Errorf("%w: %v", ErrDeclined, err)
	case errors.Is(err, payments.ErrInvalidRequest), errors.Is(err, payments.ErrUnsupportedProvider):
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case errors.Is(err, payments.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
