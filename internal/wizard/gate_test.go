package wizard

import (
	"testing"

	"github.com/hanko-field/checkout/internal/domain"
)

func TestGateReasons(t *testing.T) {
	gate := NewGate()
	variant := &domain.ProductVariant{ID: "v", Stock: 5}
	card := &domain.PaymentMethod{ID: "card", Kind: domain.PaymentCard}
	wallet := &domain.PaymentMethod{ID: "moncash", Kind: domain.PaymentWallet}
	bank := &domain.PaymentMethod{ID: "bank", Kind: domain.PaymentBankTransfer}
	station := &domain.DeliveryMethod{ID: "ps", Kind: domain.DeliveryPickupStation}
	contact := domain.ShippingAddress{FirstName: "Ana", LastName: "Pierre", Email: "ana@example.com"}

	tests := []struct {
		name   string
		step   domain.Step
		in     GateInput
		reason string
	}{
		{"no variant", domain.StepVariantSelection, GateInput{}, reasonVariant},
		{"quantity above stock", domain.StepQuantity, GateInput{Variant: variant, State: domain.WizardState{Product: domain.ProductSelection{Quantity: 6}}}, "quantity must be between 1 and 5."},
		{"quantity zero", domain.StepQuantity, GateInput{Variant: variant}, "quantity must be between 1 and 5."},
		{"quantity ok", domain.StepQuantity, GateInput{Variant: variant, State: domain.WizardState{Product: domain.ProductSelection{Quantity: 5}}}, ""},
		{"out of stock", domain.StepQuantity, GateInput{Variant: &domain.ProductVariant{ID: "v"}}, reasonOutOfStock},
		{"partial location", domain.StepLocation, GateInput{State: domain.WizardState{Location: domain.Location{Department: "AR", Commune: "AR-GON", Section: "AR-GON-1"}}}, reasonLocation},
		{"composed location", domain.StepLocation, GateInput{State: domain.WizardState{Location: domain.Location{Composed: "12 Rue Capois"}}}, ""},
		{"no delivery", domain.StepShippingOption, GateInput{}, reasonDelivery},
		{"no station", domain.StepPickupStationSelection, GateInput{Delivery: station}, reasonPickupStation},
		{"missing city", domain.StepDeliveryAddress, GateInput{State: domain.WizardState{ShippingAddress: contact}}, reasonAddress},
		{"station needs contact only", domain.StepDeliveryAddress, GateInput{Delivery: station, State: domain.WizardState{ShippingAddress: contact}}, ""},
		{"station missing email", domain.StepDeliveryAddress, GateInput{Delivery: station, State: domain.WizardState{ShippingAddress: domain.ShippingAddress{FirstName: "Ana", LastName: "Pierre"}}}, reasonContact},
		{"no payment", domain.StepPayment, GateInput{}, reasonPayment},
		{"card incomplete", domain.StepPayment, GateInput{Payment: card, State: domain.WizardState{PaymentDetails: domain.PaymentDetails{Card: &domain.CardDetails{Number: "4242", Expiry: "12/30", CVC: "123"}}}}, reasonCard},
		{"wallet missing", domain.StepPayment, GateInput{Payment: wallet}, reasonWallet},
		{"bank transfer", domain.StepPayment, GateInput{Payment: bank}, ""},
		{"terms", domain.StepReview, GateInput{}, reasonTerms},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := gate.Check(tc.step, tc.in)
			if v.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, v.Reason)
			}
			if v.Passed != (tc.reason == "") {
				t.Fatalf("passed=%v inconsistent with reason %q", v.Passed, v.Reason)
			}
			if v.Step != tc.step {
				t.Fatalf("expected verdict for %s, got %s", tc.step, v.Step)
			}
		})
	}
}
