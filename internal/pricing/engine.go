package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
)

var (
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("pricing: quantity must be at least 1")
	// ErrNoTier signals a tier table with no entry covering the quantity.
	ErrNoTier = errors.New("pricing: no tier covers quantity")
	// ErrInvalidTiers reports a malformed tier table.
	ErrInvalidTiers = errors.New("pricing: invalid tier table")
	// ErrOverflow is returned when an amount does not fit in int64 minor units.
	ErrOverflow = errors.New("pricing: amount overflow")
)

// DefaultTaxRate is the flat sales tax applied to the merchandise subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.10")

// Engine derives price breakdowns. It holds no per-wizard state and is safe for
// concurrent use.
type Engine struct {
	currency string
	taxRate  decimal.Decimal
}

type Option func(*Engine)

// WithTaxRate overrides DefaultTaxRate.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(e *Engine) {
		if !rate.IsNegative() {
			e.taxRate = rate
		}
	}
}

func NewEngine(currency string, opts ...Option) *Engine {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	e := &Engine{currency: currency, taxRate: DefaultTaxRate}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Currency() string { return e.currency }

// Input is everything a quote depends on. Delivery is nil for flows without a shipping
// step; Payment is nil until a method is chosen.
type Input struct {
	Variant  domain.ProductVariant
	Quantity int
	Delivery *domain.DeliveryMethod
	Payment  *domain.PaymentMethod
}

// Quote computes the breakdown for in. Total is always the exact sum of subtotal,
// delivery cost, payment fee and tax. Discount is the saving against the list price,
// max(0, OriginalPrice*Quantity - Subtotal); it is informational and not subtracted.
func (e *Engine) Quote(in Input) (domain.PriceBreakdown, error) {
	unit, err := UnitPrice(in.Variant, in.Quantity)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	subtotal, err := mul(unit, in.Quantity)
	if err != nil {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: subtotal for %s", err, in.Variant.ID)
	}

	var discount int64
	if original, err := mul(in.Variant.OriginalPrice, in.Quantity); err == nil && original > subtotal {
		discount = original - subtotal
	}

	var delivery, fee int64
	if in.Delivery != nil {
		delivery = in.Delivery.Price
	}
	if in.Payment != nil {
		fee = in.Payment.Fee
	}
	if delivery < 0 || fee < 0 {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: negative delivery or payment fee", ErrInvalidTiers)
	}

	tax := Tax(subtotal, e.taxRate)
	total, err := sum(subtotal, delivery, fee, tax)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}

	return domain.PriceBreakdown{
		Currency:     e.currency,
		UnitPrice:    unit,
		Quantity:     in.Quantity,
		Subtotal:     subtotal,
		Discount:     discount,
		DeliveryCost: delivery,
		PaymentFee:   fee,
		Tax:          tax,
		Total:        total,
	}, nil
}

// UnitPrice resolves the per-unit price of variant at quantity. Variants without tiers
// charge UnitPrice for every quantity.
func UnitPrice(variant domain.ProductVariant, quantity int) (int64, error) {
	if quantity < 1 {
		return 0, ErrInvalidQuantity
	}
	if len(variant.Tiers) == 0 {
		return variant.UnitPrice, nil
	}
	tier, err := LookupTier(variant.Tiers, quantity)
	if err != nil {
		return 0, err
	}
	return tier.UnitPrice, nil
}

// LookupTier returns the first tier, ordered by Min, containing quantity.
func LookupTier(tiers []domain.PriceTier, quantity int) (domain.PriceTier, error) {
	if quantity < 1 {
		return domain.PriceTier{}, ErrInvalidQuantity
	}
	ordered := sortedTiers(tiers)
	for _, tier := range ordered {
		if tier.Contains(quantity) {
			return tier, nil
		}
	}
	return domain.PriceTier{}, fmt.Errorf("%w: quantity %d", ErrNoTier, quantity)
}

// ValidateTiers checks that tiers start at 1, are contiguous, end unbounded and never
// raise the unit price as quantity grows.
func ValidateTiers(tiers []domain.PriceTier) error {
	if len(tiers) == 0 {
		return nil
	}
	ordered := sortedTiers(tiers)
	next := 1
	for i, tier := range ordered {
		if tier.UnitPrice < 0 {
			return fmt.Errorf("%w: tier %d has negative price", ErrInvalidTiers, i)
		}
		if tier.Min != next {
			return fmt.Errorf("%w: tier %d starts at %d, want %d", ErrInvalidTiers, i, tier.Min, next)
		}
		last := i == len(ordered)-1
		if tier.Max == 0 {
			if !last {
				return fmt.Errorf("%w: unbounded tier %d is not last", ErrInvalidTiers, i)
			}
			break
		}
		if tier.Max < tier.Min {
			return fmt.Errorf("%w: tier %d ends before it starts", ErrInvalidTiers, i)
		}
		if last {
			return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidTiers)
		}
		if ordered[i+1].UnitPrice > tier.UnitPrice {
			return fmt.Errorf("%w: tier %d raises the unit price", ErrInvalidTiers, i+1)
		}
		next = tier.Max + 1
	}
	return nil
}

// Tax applies rate to subtotal and rounds half away from zero to whole minor units.
func Tax(subtotal int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
}

// Format renders minor units as a two decimal amount, e.g. 4359 -> "43.59".
func Format(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

func sortedTiers(tiers []domain.PriceTier) []domain.PriceTier {
	ordered := append([]domain.PriceTier(nil), tiers...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Min < ordered[j].Min })
	return ordered
}

func mul(amount int64, quantity int) (int64, error) {
	q := int64(quantity)
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative unit price", ErrInvalidTiers)
	}
	if amount > 0 && q > math.MaxInt64/amount {
		return 0, ErrOverflow
	}
	return amount * q, nil
}

func sum(values ...int64) (int64, error) {
	var total int64
	for _, v := range values {
		if v > 0 && total > math.MaxInt64-v {
			return 0, ErrOverflow
		}
		total += v
	}
	return total, nil
}
