package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
)

var twoTierTable = []domain.PriceTier{
	{Min: 1, Max: 2, UnitPrice: 1000},
	{Min: 3, Max: 5, UnitPrice: 900},
}

func tieredVariant() domain.ProductVariant {
	return domain.ProductVariant{
		ID:            "v-classic",
		Name:          "Classic",
		UnitPrice:     1000,
		OriginalPrice: 1000,
		Stock:         5,
		Tiers:         twoTierTable,
	}
}

func TestUnitPriceTierLookup(t *testing.T) {
	cases := []struct {
		quantity int
		want     int64
	}{
		{1, 1000},
		{2, 1000},
		{3, 900},
		{4, 900},
		{5, 900},
	}
	for _, tc := range cases {
		got, err := UnitPrice(tieredVariant(), tc.quantity)
		if err != nil {
			t.Fatalf("UnitPrice(%d) error: %v", tc.quantity, err)
		}
		if got != tc.want {
			t.Fatalf("UnitPrice(%d) = %d, want %d", tc.quantity, got, tc.want)
		}
	}
}

func TestUnitPriceErrors(t *testing.T) {
	if _, err := UnitPrice(tieredVariant(), 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := UnitPrice(tieredVariant(), 6); !errors.Is(err, ErrNoTier) {
		t.Fatalf("expected ErrNoTier, got %v", err)
	}
	flat := domain.ProductVariant{ID: "flat", UnitPrice: 750}
	if got, err := UnitPrice(flat, 40); err != nil || got != 750 {
		t.Fatalf("expected flat price 750, got %d %v", got, err)
	}
}

func TestQuoteSingleUnit(t *testing.T) {
	engine := NewEngine("usd")
	quote, err := engine.Quote(Input{Variant: tieredVariant(), Quantity: 1})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if quote.UnitPrice != 1000 || quote.Subtotal != 1000 {
		t.Fatalf("expected 10.00 unit and subtotal, got %+v", quote)
	}
	if quote.Currency != "USD" {
		t.Fatalf("expected upper-cased currency, got %s", quote.Currency)
	}
}

func TestQuoteMotorcycleCardScenario(t *testing.T) {
	engine := NewEngine("USD")
	delivery := domain.DeliveryMethod{ID: "motorcycle", Kind: domain.DeliveryMotorcycle, Price: 399}
	payment := domain.PaymentMethod{ID: "card", Kind: domain.PaymentCard, Fee: 0}

	quote, err := engine.Quote(Input{Variant: tieredVariant(), Quantity: 4, Delivery: &delivery, Payment: &payment})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	want := domain.PriceBreakdown{
		Currency:     "USD",
		UnitPrice:    900,
		Quantity:     4,
		Subtotal:     3600,
		Discount:     400,
		DeliveryCost: 399,
		PaymentFee:   0,
		Tax:          360,
		Total:        4359,
	}
	if quote != want {
		t.Fatalf("unexpected breakdown\n got %+v\nwant %+v", quote, want)
	}
	if Format(quote.Total) != "43.59" {
		t.Fatalf("expected 43.59, got %s", Format(quote.Total))
	}
}

func TestQuoteTotalDecomposition(t *testing.T) {
	engine := NewEngine("USD")
	variant := domain.ProductVariant{
		ID:            "v-bulk",
		OriginalPrice: 1299,
		Tiers: []domain.PriceTier{
			{Min: 1, Max: 9, UnitPrice: 1299},
			{Min: 10, Max: 49, UnitPrice: 1155},
			{Min: 50, UnitPrice: 1017},
		},
	}
	deliveries := []domain.DeliveryMethod{{Price: 0}, {Price: 199}, {Price: 399}, {Price: 645}}
	payments := []domain.PaymentMethod{{Fee: 0}, {Fee: 35}, {Fee: 150}}

	for q := 1; q <= 120; q++ {
		for i := range deliveries {
			for j := range payments {
				quote, err := engine.Quote(Input{Variant: variant, Quantity: q, Delivery: &deliveries[i], Payment: &payments[j]})
				if err != nil {
					t.Fatalf("Quote(%d) error: %v", q, err)
				}
				if quote.Total != quote.Subtotal+quote.DeliveryCost+quote.PaymentFee+quote.Tax {
					t.Fatalf("total does not decompose for q=%d: %+v", q, quote)
				}
				if quote.Discount < 0 {
					t.Fatalf("negative discount for q=%d: %+v", q, quote)
				}
			}
		}
	}
}

func TestQuoteDiscountFloorsAtZero(t *testing.T) {
	variant := domain.ProductVariant{ID: "v", UnitPrice: 1200, OriginalPrice: 1000}
	quote, err := NewEngine("USD").Quote(Input{Variant: variant, Quantity: 3})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if quote.Discount != 0 {
		t.Fatalf("expected zero discount when tier price exceeds list, got %d", quote.Discount)
	}
}

func TestQuoteOverflow(t *testing.T) {
	variant := domain.ProductVariant{ID: "v", UnitPrice: math.MaxInt64 / 2}
	_, err := NewEngine("USD").Quote(Input{Variant: variant, Quantity: 3})
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestTaxRoundsHalfAwayFromZero(t *testing.T) {
	cases := map[int64]int64{
		3600: 360,
		5:    1,
		14:   1,
		15:   2,
		4:    0,
		0:    0,
	}
	for subtotal, want := range cases {
		if got := Tax(subtotal, DefaultTaxRate); got != want {
			t.Fatalf("Tax(%d) = %d, want %d", subtotal, got, want)
		}
	}
	engine := NewEngine("USD", WithTaxRate(decimal.RequireFromString("0.07")))
	quote, err := engine.Quote(Input{Variant: domain.ProductVariant{UnitPrice: 1000}, Quantity: 1})
	if err != nil || quote.Tax != 70 {
		t.Fatalf("expected 7%% tax of 70, got %d %v", quote.Tax, err)
	}
}

func TestValidateTiers(t *testing.T) {
	valid := []domain.PriceTier{
		{Min: 3, Max: 5, UnitPrice: 900},
		{Min: 1, Max: 2, UnitPrice: 1000},
		{Min: 6, UnitPrice: 850},
	}
	if err := ValidateTiers(valid); err != nil {
		t.Fatalf("expected valid table, got %v", err)
	}

	cases := map[string][]domain.PriceTier{
		"gap":            {{Min: 1, Max: 2, UnitPrice: 10}, {Min: 4, UnitPrice: 9}},
		"overlap":        {{Min: 1, Max: 3, UnitPrice: 10}, {Min: 3, UnitPrice: 9}},
		"not from one":   {{Min: 2, UnitPrice: 10}},
		"bounded end":    {{Min: 1, Max: 2, UnitPrice: 10}, {Min: 3, Max: 5, UnitPrice: 9}},
		"price rises":    {{Min: 1, Max: 2, UnitPrice: 10}, {Min: 3, UnitPrice: 11}},
		"negative price": {{Min: 1, UnitPrice: -1}},
	}
	for name, tiers := range cases {
		if err := ValidateTiers(tiers); !errors.Is(err, ErrInvalidTiers) {
			t.Fatalf("%s: expected ErrInvalidTiers, got %v", name, err)
		}
	}
}

func TestValidatedTiersAreMonotonic(t *testing.T) {
	tiers := []domain.PriceTier{
		{Min: 1, Max: 9, UnitPrice: 1299},
		{Min: 10, Max: 49, UnitPrice: 1155},
		{Min: 50, UnitPrice: 1017},
	}
	if err := ValidateTiers(tiers); err != nil {
		t.Fatalf("ValidateTiers error: %v", err)
	}
	variant := domain.ProductVariant{Tiers: tiers}
	prev := int64(math.MaxInt64)
	for q := 1; q <= 200; q++ {
		price, err := UnitPrice(variant, q)
		if err != nil {
			t.Fatalf("UnitPrice(%d) error: %v", q, err)
		}
		if price > prev {
			t.Fatalf("unit price increased at q=%d: %d > %d", q, price, prev)
		}
		prev = price
	}
}
