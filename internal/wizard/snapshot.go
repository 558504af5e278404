package wizard

import (
	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
	"github.com/hanko-field/checkout/internal/pricing"
)

// Snapshot is the read model of a wizard. Everything except State is derived on read.
type Snapshot struct {
	OrderID         string                 `json:"orderId"`
	State           domain.WizardState     `json:"state"`
	Step            string                 `json:"step"`
	Position        int                    `json:"position"`
	StepCount       int                    `json:"stepCount"`
	Verdict         Verdict                `json:"verdict"`
	Breakdown       *domain.PriceBreakdown `json:"breakdown,omitempty"`
	Display         map[string]string      `json:"display,omitempty"`
	PricingError    string                 `json:"pricingError,omitempty"`
	LocationLabel   string                 `json:"locationLabel,omitempty"`
	LocationLevel   string                 `json:"locationLevel,omitempty"`
	LocationOptions []domain.LocationNode  `json:"locationOptions,omitempty"`
}

// Snapshot returns a copy of the state with the live price breakdown, the verdict for the
// current step and the options for the next unset location level.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		OrderID:   c.orderID,
		State:     c.state.Clone(),
		Step:      c.state.CurrentStep.String(),
		Position:  c.flow.Position(c.state.CurrentStep),
		StepCount: len(c.flow.steps),
	}
	if c.state.CurrentStep != domain.StepOrderPlaced {
		snap.Verdict = c.gate.Check(c.state.CurrentStep, c.gateInput())
	} else {
		snap.Verdict = Verdict{Step: domain.StepOrderPlaced, Passed: true}
	}

	if b, err := c.quote(); err != nil {
		snap.PricingError = err.Error()
	} else {
		snap.Breakdown = &b
		snap.Display = displayAmounts(b)
	}

	if c.flow.Contains(domain.StepLocation) {
		snap.LocationLabel = c.locations.Label(c.state.Location)
		if level, opts := c.locations.NextOptions(c.state.Location); level != 0 {
			snap.LocationLevel = level.String()
			snap.LocationOptions = opts
		}
	}
	return snap
}

// LocationOptions lists the choices for level given the current selection.
func (c *Controller) LocationOptions(level location.Level) ([]domain.LocationNode, error) {
	return c.locations.Options(level, c.state.Location)
}

func displayAmounts(b domain.PriceBreakdown) map[string]string {
	return map[string]string{
		"unitPrice":    pricing.Format(b.UnitPrice),
		"subtotal":     pricing.Format(b.Subtotal),
		"discount":     pricing.Format(b.Discount),
		"deliveryCost": pricing.Format(b.DeliveryCost),
		"paymentFee":   pricing.Format(b.PaymentFee),
		"tax":          pricing.Format(b.Tax),
		"total":        pricing.Format(b.Total),
	}
}
