package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/hanko-field/checkout/internal/domain"
)

type fakeProvider struct {
	calls  int
	last   ChargeRequest
	charge Charge
	err    error
}

func (f *fakeProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	f.calls++
	f.last = req
	return f.charge, f.err
}

func TestManagerChargeUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	card := &fakeProvider{charge: Charge{ID: "pi_1"}}
	wallet := &fakeProvider{charge: Charge{ID: "WL-1"}}

	mgr, err := NewManager(map[string]Provider{"stripe": card, "wallet": wallet},
		WithKindRoutes(map[domain.PaymentKind]string{domain.PaymentCard: "stripe"}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	charge, err := mgr.Charge(ctx, PaymentContext{PreferredProvider: "Wallet", Kind: domain.PaymentCard}, ChargeRequest{Amount: 100})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if charge.Provider != "wallet" {
		t.Fatalf("expected provider 'wallet', got %q", charge.Provider)
	}
	if card.calls != 0 {
		t.Fatalf("expected card provider to remain unused")
	}
}

func TestManagerRoutesByKindAndMethod(t *testing.T) {
	ctx := context.Background()
	card := &fakeProvider{charge: Charge{ID: "pi_1"}}
	moncash := &fakeProvider{charge: Charge{ID: "WL-1"}}
	natcash := &fakeProvider{charge: Charge{ID: "WL-2"}}

	mgr, err := NewManager(
		map[string]Provider{"stripe": card, "moncash": moncash, "natcash": natcash},
		WithKindRoutes(map[domain.PaymentKind]string{
			domain.PaymentCard:   "stripe",
			domain.PaymentWallet: "moncash",
		}),
		WithMethodRoutes(map[string]string{"NatCash": "natcash"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tests := []struct {
		name     string
		pctx     PaymentContext
		provider string
	}{
		{"card kind", PaymentContext{Kind: domain.PaymentCard}, "stripe"},
		{"wallet kind", PaymentContext{Kind: domain.PaymentWallet, MethodID: "moncash"}, "moncash"},
		{"method route wins", PaymentContext{Kind: domain.PaymentWallet, MethodID: "natcash"}, "natcash"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			charge, err := mgr.Charge(ctx, tc.pctx, ChargeRequest{Amount: 1})
			if err != nil {
				t.Fatalf("charge: %v", err)
			}
			if charge.Provider != tc.provider {
				t.Fatalf("expected %q, got %q", tc.provider, charge.Provider)
			}
		})
	}

	if _, err := mgr.Charge(ctx, PaymentContext{Kind: domain.PaymentBankTransfer}, ChargeRequest{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerFallsBackToDefaultAndSingleProvider(t *testing.T) {
	ctx := context.Background()
	only := &fakeProvider{charge: Charge{ID: "x"}}
	mgr, err := NewManager(map[string]Provider{"bank": only})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	charge, err := mgr.Charge(ctx, PaymentContext{Kind: domain.PaymentWallet}, ChargeRequest{})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if charge.Provider != "bank" {
		t.Fatalf("expected single provider fallback, got %q", charge.Provider)
	}

	a, b := &fakeProvider{}, &fakeProvider{}
	mgr, err = NewManager(map[string]Provider{"a": a, "b": b}, WithDefaultProvider("B"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Charge(ctx, PaymentContext{}, ChargeRequest{}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if b.calls != 1 || a.calls != 0 {
		t.Fatalf("expected default provider b to be used")
	}
}

func TestManagerPropagatesProviderErrors(t *testing.T) {
	fail := &fakeProvider{err: ErrDeclined}
	mgr, err := NewManager(map[string]Provider{"stripe": fail})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Charge(context.Background(), PaymentContext{}, ChargeRequest{}); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestNewManagerRejectsBadRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty providers")
	}
	if _, err := NewManager(map[string]Provider{" ": &fakeProvider{}}); err == nil {
		t.Fatalf("expected error for blank key")
	}
	if _, err := NewManager(map[string]Provider{"stripe": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func TestBankTransferProviderIssuesReference(t *testing.T) {
	p := NewBankTransferProvider(BankTransferConfig{Account: "UNIBANK 001", NewID: func() string { return "01ABC" }})
	charge, err := p.Charge(context.Background(), ChargeRequest{Amount: 500, Currency: "usd"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if charge.ID != "BT-01ABC" || charge.Reference != "BT-01ABC" {
		t.Fatalf("unexpected reference %+v", charge)
	}
	if charge.Status != StatusPending || charge.Currency != "USD" {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if _, err := p.Charge(context.Background(), ChargeRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero amount, got %v", err)
	}
}
