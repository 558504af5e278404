package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// BankTransferProvider accepts the order and issues a transfer reference. Funds settle
// out of band, so every charge is pending.
type BankTransferProvider struct {
	account string
	clock   func() time.Time
	newID   func() string
}

// BankTransferConfig configures the BankTransferProvider.
type BankTransferConfig struct {
	// Account is shown to the customer as the beneficiary.
	Account string
	Clock   func() time.Time
	NewID   func() string
}

func NewBankTransferProvider(cfg BankTransferConfig) *BankTransferProvider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &BankTransferProvider{
		account: strings.TrimSpace(cfg.Account),
		clock:   clock,
		newID:   newID,
	}
}

func (p *BankTransferProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if p == nil {
		return Charge{}, errors.New("bank: provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return Charge{}, err
	}
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	ref := "BT-" + p.newID()
	return Charge{
		ID:        ref,
		Status:    StatusPending,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
		Reference: ref,
		Raw: map[string]any{
			"account":  p.account,
			"issuedAt": p.clock().UTC().Format(time.RFC3339),
		},
	}, nil
}
