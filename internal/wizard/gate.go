package wizard

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
)

const (
	reasonVariant       = "select a product variant."
	reasonLocation      = "select a department, commune, section and locality."
	reasonDelivery      = "select a delivery method."
	reasonPickupStation = "select a pickup station."
	reasonAddress       = "enter first name, last name, email, address and city."
	reasonContact       = "enter first name, last name and email."
	reasonPayment       = "select a payment method."
	reasonCard          = "enter the card number, expiry, security code and cardholder name."
	reasonWallet        = "enter the wallet phone number."
	reasonTerms         = "accept the terms to place the order."
	reasonOutOfStock    = "this variant is out of stock."
)

// Verdict is the gate result for one step.
type Verdict struct {
	Step   domain.Step `json:"step"`
	Passed bool        `json:"passed"`
	Reason string      `json:"reason,omitempty"`
}

// GateInput is the state plus the catalog entries it references. A nil entry means the
// id in the state is unset or unknown.
type GateInput struct {
	State    domain.WizardState
	Variant  *domain.ProductVariant
	Delivery *domain.DeliveryMethod
	Payment  *domain.PaymentMethod
}

// Gate evaluates the required fields of a single step. It never looks at other steps
// and never mutates the state.
type Gate struct {
	validate *validator.Validate
}

func NewGate() *Gate {
	return &Gate{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (g *Gate) Check(step domain.Step, in GateInput) Verdict {
	reason := g.reason(step, in)
	return Verdict{Step: step, Passed: reason == "", Reason: reason}
}

func (g *Gate) reason(step domain.Step, in GateInput) string {
	s := in.State
	switch step {
	case domain.StepVariantSelection:
		if in.Variant == nil {
			return reasonVariant
		}
	case domain.StepQuantity:
		if in.Variant == nil {
			return reasonVariant
		}
		if in.Variant.Stock < 1 {
			return reasonOutOfStock
		}
		if err := g.validate.Var(s.Product.Quantity, fmt.Sprintf("min=1,max=%d", in.Variant.Stock)); err != nil {
			return fmt.Sprintf("quantity must be between 1 and %d.", in.Variant.Stock)
		}
	case domain.StepLocation:
		if !location.Complete(s.Location) {
			return reasonLocation
		}
	case domain.StepShippingOption:
		if in.Delivery == nil {
			return reasonDelivery
		}
	case domain.StepPickupStationSelection:
		if err := g.validate.Var(s.PickupStation, "required"); err != nil {
			return reasonPickupStation
		}
	case domain.StepDeliveryAddress:
		if in.Delivery != nil && in.Delivery.Kind == domain.DeliveryPickupStation {
			if err := g.validate.StructExcept(s.ShippingAddress, "Address", "City"); err != nil {
				return reasonContact
			}
			break
		}
		if err := g.validate.Struct(s.ShippingAddress); err != nil {
			return reasonAddress
		}
	case domain.StepPayment:
		if in.Payment == nil {
			return reasonPayment
		}
		switch in.Payment.Kind {
		case domain.PaymentCard:
			if s.PaymentDetails.Card == nil || g.validate.Struct(s.PaymentDetails.Card) != nil {
				return reasonCard
			}
		case domain.PaymentWallet:
			if s.PaymentDetails.Wallet == nil || g.validate.Struct(s.PaymentDetails.Wallet) != nil {
				return reasonWallet
			}
		}
	case domain.StepReview:
		if !s.TermsAccepted {
			return reasonTerms
		}
	}
	return ""
}
