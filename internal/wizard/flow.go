package wizard

import (
	"fmt"

	"github.com/hanko-field/checkout/internal/domain"
)

// Flow is an ordered subset of the wizard steps.
type Flow struct {
	kind  domain.FlowKind
	steps []domain.Step
	index map[domain.Step]int
}

var (
	// CheckoutFlow runs every step, branching through the pickup station screen when the
	// chosen delivery method requires it.
	CheckoutFlow = newFlow(domain.FlowCheckout,
		domain.StepVariantSelection,
		domain.StepQuantity,
		domain.StepLocation,
		domain.StepShippingOption,
		domain.StepPickupStationSelection,
		domain.StepDeliveryAddress,
		domain.StepPayment,
		domain.StepReview,
	)
	// TransferFlow is the send-money variant. It carries no delivery.
	TransferFlow = newFlow(domain.FlowTransfer,
		domain.StepVariantSelection,
		domain.StepQuantity,
		domain.StepPayment,
		domain.StepReview,
	)
)

func newFlow(kind domain.FlowKind, steps ...domain.Step) Flow {
	index := make(map[domain.Step]int, len(steps))
	for i, s := range steps {
		index[s] = i
	}
	return Flow{kind: kind, steps: steps, index: index}
}

// FlowFor returns the flow registered for kind. An empty kind selects CheckoutFlow.
func FlowFor(kind domain.FlowKind) (Flow, error) {
	switch kind {
	case domain.FlowCheckout, "":
		return CheckoutFlow, nil
	case domain.FlowTransfer:
		return TransferFlow, nil
	}
	return Flow{}, fmt.Errorf("%w: flow %q", ErrUnknownOption, kind)
}

func (f Flow) Kind() domain.FlowKind { return f.kind }

func (f Flow) Steps() []domain.Step { return append([]domain.Step(nil), f.steps...) }

func (f Flow) Initial() domain.Step { return f.steps[0] }

// Final is the step whose completion submits the order.
func (f Flow) Final() domain.Step { return f.steps[len(f.steps)-1] }

func (f Flow) Contains(step domain.Step) bool {
	_, ok := f.index[step]
	return ok
}

// Position is the 1-based index of step within the flow, or 0.
func (f Flow) Position(step domain.Step) int {
	if i, ok := f.index[step]; ok {
		return i + 1
	}
	return 0
}

// HasDelivery reports whether the flow collects a delivery method.
func (f Flow) HasDelivery() bool { return f.Contains(domain.StepShippingOption) }

// route picks a destination for a step based on the chosen delivery kind.
type route func(delivery domain.DeliveryKind) domain.Step

// forward and backward override the linear order. Every step without an entry moves
// to its neighbour in the flow.
var (
	forward = map[domain.Step]route{
		domain.StepShippingOption: func(k domain.DeliveryKind) domain.Step {
			if k == domain.DeliveryPickupStation {
				return domain.StepPickupStationSelection
			}
			return domain.StepDeliveryAddress
		},
	}
	backward = map[domain.Step]route{
		domain.StepDeliveryAddress: func(k domain.DeliveryKind) domain.Step {
			if k == domain.DeliveryPickupStation {
				return domain.StepPickupStationSelection
			}
			return domain.StepShippingOption
		},
	}
)

// Next returns the step after step. ok is false on the final step or for a step outside
// the flow.
func (f Flow) Next(step domain.Step, delivery domain.DeliveryKind) (domain.Step, bool) {
	return f.move(step, delivery, forward, 1)
}

// Previous mirrors Next. ok is false on the initial step.
func (f Flow) Previous(step domain.Step, delivery domain.DeliveryKind) (domain.Step, bool) {
	return f.move(step, delivery, backward, -1)
}

func (f Flow) move(step domain.Step, delivery domain.DeliveryKind, table map[domain.Step]route, dir int) (domain.Step, bool) {
	i, ok := f.index[step]
	if !ok {
		return step, false
	}
	if r, ok := table[step]; ok {
		if target := r(delivery); f.Contains(target) {
			return target, true
		}
	}
	j := i + dir
	if j < 0 || j >= len(f.steps) {
		return step, false
	}
	return f.steps[j], true
}
