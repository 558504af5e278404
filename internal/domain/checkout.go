package domain

import "time"

// Step enumerates the wizard screens. Ordinals follow the full checkout order.
type Step int

const (
	StepVariantSelection Step = iota + 1
	StepQuantity
	StepLocation
	StepShippingOption
	StepPickupStationSelection
	StepDeliveryAddress
	StepPayment
	StepReview
	// StepOrderPlaced is the terminal pseudo-state reached after a successful submission.
	StepOrderPlaced
)

var stepNames = map[Step]string{
	StepVariantSelection:       "variant_selection",
	StepQuantity:               "quantity",
	StepLocation:               "location",
	StepShippingOption:         "shipping_option",
	StepPickupStationSelection: "pickup_station_selection",
	StepDeliveryAddress:        "delivery_address",
	StepPayment:                "payment",
	StepReview:                 "review",
	StepOrderPlaced:            "order_placed",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// FlowKind selects the step sequence a wizard runs.
type FlowKind string

const (
	FlowCheckout FlowKind = "checkout"
	FlowTransfer FlowKind = "transfer"
)

type DeliveryKind string

const (
	DeliveryPickupStation DeliveryKind = "pickup_station"
	DeliveryMotorcycle    DeliveryKind = "motorcycle"
	DeliveryMeetup        DeliveryKind = "meetup"
	DeliveryLocal         DeliveryKind = "local"
	DeliveryTransit       DeliveryKind = "transit"
	DeliveryPickup        DeliveryKind = "pickup"
)

// Valid reports whether k is one of the known delivery kinds.
func (k DeliveryKind) Valid() bool {
	switch k {
	case DeliveryPickupStation, DeliveryMotorcycle, DeliveryMeetup, DeliveryLocal, DeliveryTransit, DeliveryPickup:
		return true
	}
	return false
}

type PaymentKind string

const (
	PaymentWallet       PaymentKind = "wallet"
	PaymentCard         PaymentKind = "card"
	PaymentBankTransfer PaymentKind = "bank_transfer"
)

func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentWallet, PaymentCard, PaymentBankTransfer:
		return true
	}
	return false
}

// PriceTier prices quantities in [Min, Max]. Max == 0 leaves the tier unbounded.
type PriceTier struct {
	Min       int   `json:"min" yaml:"min"`
	Max       int   `json:"max,omitempty" yaml:"max"`
	UnitPrice int64 `json:"unitPrice" yaml:"unitPrice"`
}

// Contains reports whether quantity falls inside the tier.
func (t PriceTier) Contains(quantity int) bool {
	return quantity >= t.Min && (t.Max == 0 || quantity <= t.Max)
}

// ProductVariant is a purchasable configuration. Amounts are minor units.
type ProductVariant struct {
	ID            string      `json:"id" yaml:"id"`
	Name          string      `json:"name" yaml:"name"`
	UnitPrice     int64       `json:"unitPrice" yaml:"unitPrice"`
	OriginalPrice int64       `json:"originalPrice" yaml:"originalPrice"`
	Stock         int         `json:"stock" yaml:"stock"`
	Tiers         []PriceTier `json:"tiers,omitempty" yaml:"tiers"`
}

type DeliveryMethod struct {
	ID    string       `json:"id" yaml:"id"`
	Kind  DeliveryKind `json:"kind" yaml:"kind"`
	Label string       `json:"label" yaml:"label"`
	Price int64        `json:"price" yaml:"price"`
	ETA   string       `json:"eta" yaml:"eta"`
}

type PaymentMethod struct {
	ID    string      `json:"id" yaml:"id"`
	Kind  PaymentKind `json:"kind" yaml:"kind"`
	Label string      `json:"label" yaml:"label"`
	Fee   int64       `json:"fee" yaml:"fee"`
}

type PickupStation struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Department string `json:"department" yaml:"department"`
	Address    string `json:"address" yaml:"address"`
}

// LocationNode is one entry of the department, commune, section or locality tables.
type LocationNode struct {
	Code   string `json:"code" yaml:"code"`
	Name   string `json:"name" yaml:"name"`
	Parent string `json:"parent,omitempty" yaml:"parent"`
}

// Location holds the cascading selection. Composed replaces the four levels when the
// user supplies a free-form address instead.
type Location struct {
	Department string `json:"department,omitempty"`
	Commune    string `json:"commune,omitempty"`
	Section    string `json:"section,omitempty"`
	Locality   string `json:"locality,omitempty"`
	Composed   string `json:"composed,omitempty"`
}

type ProductSelection struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type ShippingAddress struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
}

type CardDetails struct {
	Number string `json:"number" validate:"required"`
	Expiry string `json:"expiry" validate:"required"`
	CVC    string `json:"cvc" validate:"required"`
	Holder string `json:"holder" validate:"required"`
}

// Last4 returns the trailing four digits of the card number.
func (c CardDetails) Last4() string {
	if len(c.Number) <= 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

type WalletDetails struct {
	Phone string `json:"phone" validate:"required"`
}

// PaymentDetails carries at most one of Card or Wallet.
type PaymentDetails struct {
	Card   *CardDetails   `json:"card,omitempty"`
	Wallet *WalletDetails `json:"wallet,omitempty"`
}

// Clone returns a deep copy.
func (d PaymentDetails) Clone() PaymentDetails {
	var out PaymentDetails
	if d.Card != nil {
		card := *d.Card
		out.Card = &card
	}
	if d.Wallet != nil {
		wallet := *d.Wallet
		out.Wallet = &wallet
	}
	return out
}

// OrderResult records the last submission. Error holds the failure kind ("timeout",
// "declined", ...) and Message the text shown to the user.
type OrderResult struct {
	Placed        bool      `json:"placed"`
	TransactionID string    `json:"transactionId,omitempty"`
	Error         string    `json:"error,omitempty"`
	Message       string    `json:"message,omitempty"`
	PlacedAt      time.Time `json:"placedAt,omitempty"`
}

// WizardState is the full input collected by a wizard.
type WizardState struct {
	Flow            FlowKind         `json:"flow"`
	CurrentStep     Step             `json:"currentStep"`
	Product         ProductSelection `json:"product"`
	Location        Location         `json:"location"`
	DeliveryMethod  string           `json:"deliveryMethod,omitempty"`
	PickupStation   string           `json:"pickupStation,omitempty"`
	ShippingAddress ShippingAddress  `json:"shippingAddress"`
	PaymentMethod   string           `json:"paymentMethod,omitempty"`
	PaymentDetails  PaymentDetails   `json:"paymentDetails"`
	TermsAccepted   bool             `json:"termsAccepted"`
	Submitting      bool             `json:"submitting"`
	OrderResult     OrderResult      `json:"orderResult"`
}

// Clone returns a copy that shares no pointers with s.
func (s WizardState) Clone() WizardState {
	s.PaymentDetails = s.PaymentDetails.Clone()
	return s
}

// PriceBreakdown is derived from WizardState on every read and never stored.
type PriceBreakdown struct {
	Currency     string `json:"currency"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
	Discount     int64  `json:"discount"`
	DeliveryCost int64  `json:"deliveryCost"`
	PaymentFee   int64  `json:"paymentFee"`
	Tax          int64  `json:"tax"`
	Total        int64  `json:"total"`
}
