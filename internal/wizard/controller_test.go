package wizard

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hanko-field/checkout/internal/catalog"
	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
	"github.com/hanko-field/checkout/internal/submission"
)

type stubSubmitter struct {
	outcomes []submission.Outcome
	calls    []submission.OrderRequest
}

func (s *stubSubmitter) Submit(ctx context.Context, req submission.OrderRequest) submission.Outcome {
	s.calls = append(s.calls, req)
	if len(s.outcomes) == 0 {
		return submission.Succeeded("attempt", "tx-default")
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out
}

type recordingNavigator struct {
	exits []ExitReason
}

func (n *recordingNavigator) Exit(ctx context.Context, reason ExitReason) {
	n.exits = append(n.exits, reason)
}

func newTestController(t *testing.T, flow Flow, sub Submitter, nav Navigator) *Controller {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	c, err := New(Deps{
		Flow:       flow,
		Catalog:    cat,
		Submitter:  sub,
		Navigator:  nav,
		Clock:      func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) },
		NewOrderID: func() string { return "01TESTORDER" },
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func mustAdvance(t *testing.T, c *Controller, want domain.Step) {
	t.Helper()
	if err := c.Advance(context.Background()); err != nil {
		t.Fatalf("advance from %s: %v", c.State().CurrentStep, err)
	}
	if got := c.State().CurrentStep; got != want {
		t.Fatalf("expected step %s, got %s", want, got)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func selectFullLocation(t *testing.T, c *Controller) {
	t.Helper()
	must(t, c.SelectLocation(location.LevelDepartment, "AR"))
	must(t, c.SelectLocation(location.LevelCommune, "AR-GON"))
	must(t, c.SelectLocation(location.LevelSection, "AR-GON-1"))
	must(t, c.SelectLocation(location.LevelLocality, "AR-GON-1-A"))
}

func testAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		FirstName: "Ana",
		LastName:  "Pierre",
		Email:     "Ana@Example.com",
		Address:   "12 Rue Capois",
		City:      "Gonaïves",
	}
}

// walkToShipping advances a fresh checkout wizard with quantity 4 to the shipping step.
func walkToShipping(t *testing.T, c *Controller) {
	t.Helper()
	mustAdvance(t, c, domain.StepQuantity)
	must(t, c.SetQuantity(4))
	mustAdvance(t, c, domain.StepLocation)
	selectFullLocation(t, c)
	mustAdvance(t, c, domain.StepShippingOption)
}

// walkToReview drives the motorcycle and card path to the review step with terms accepted.
func walkToReview(t *testing.T, c *Controller) {
	t.Helper()
	walkToShipping(t, c)
	mustAdvance(t, c, domain.StepDeliveryAddress)
	must(t, c.SetShippingAddress(testAddress()))
	mustAdvance(t, c, domain.StepPayment)
	must(t, c.SetCardDetails(domain.CardDetails{Number: "4242 4242 4242 4242", Expiry: "12/30", CVC: "123", Holder: "Ana Pierre"}))
	mustAdvance(t, c, domain.StepReview)
	must(t, c.AcceptTerms(true))
}

func TestNewStartsOnFirstStepWithDefaults(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	s := c.State()
	if s.CurrentStep != domain.StepVariantSelection {
		t.Fatalf("expected variant selection, got %s", s.CurrentStep)
	}
	if s.Product.VariantID != "seal-classic-black" || s.Product.Quantity != 1 {
		t.Fatalf("unexpected product %+v", s.Product)
	}
	if s.DeliveryMethod != "motorcycle" || s.PaymentMethod != "card" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if _, err := New(Deps{Submitter: &stubSubmitter{}}); err == nil {
		t.Fatalf("expected error without catalog")
	}
}

func TestAdvanceNeverMovesWhenGateFails(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, c *Controller)
		step  domain.Step
	}{
		{"quantity above stock", func(t *testing.T, c *Controller) {
			mustAdvance(t, c, domain.StepQuantity)
			must(t, c.SetQuantity(26))
		}, domain.StepQuantity},
		{"location incomplete", func(t *testing.T, c *Controller) {
			mustAdvance(t, c, domain.StepQuantity)
			mustAdvance(t, c, domain.StepLocation)
			must(t, c.SelectLocation(location.LevelDepartment, "OU"))
		}, domain.StepLocation},
		{"address missing", func(t *testing.T, c *Controller) {
			walkToShipping(t, c)
			mustAdvance(t, c, domain.StepDeliveryAddress)
		}, domain.StepDeliveryAddress},
		{"card missing", func(t *testing.T, c *Controller) {
			walkToShipping(t, c)
			mustAdvance(t, c, domain.StepDeliveryAddress)
			must(t, c.SetShippingAddress(testAddress()))
			mustAdvance(t, c, domain.StepPayment)
		}, domain.StepPayment},
		{"terms not accepted", func(t *testing.T, c *Controller) {
			walkToReview(t, c)
			must(t, c.AcceptTerms(false))
		}, domain.StepReview},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := &stubSubmitter{}
			c := newTestController(t, CheckoutFlow, sub, nil)
			tc.setup(t, c)
			before := c.State()

			err := c.Advance(context.Background())
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Step != tc.step || verr.Reason == "" {
				t.Fatalf("unexpected validation error %+v", verr)
			}
			if after := c.State(); !reflect.DeepEqual(before, after) {
				t.Fatalf("state changed on a failed gate:\nbefore %+v\nafter  %+v", before, after)
			}
			if len(sub.calls) != 0 {
				t.Fatalf("submitter must not be called")
			}
		})
	}
}

func TestPickupStationBranch(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	walkToShipping(t, c)
	must(t, c.SelectDelivery("pickup-station"))
	mustAdvance(t, c, domain.StepPickupStationSelection)

	err := c.Advance(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Reason != "select a pickup station." {
		t.Fatalf("expected pickup station reason, got %v", err)
	}

	must(t, c.SelectPickupStation("st-gonaives"))
	mustAdvance(t, c, domain.StepDeliveryAddress)

	must(t, c.Retreat(context.Background()))
	if got := c.State(); got.CurrentStep != domain.StepPickupStationSelection || got.PickupStation != "st-gonaives" {
		t.Fatalf("expected to return to the station screen with the station kept, got %+v", got)
	}
	must(t, c.Retreat(context.Background()))
	if got := c.State(); got.CurrentStep != domain.StepShippingOption || got.PickupStation != "" {
		t.Fatalf("expected station cleared on shipping option, got %+v", got)
	}
}

func TestPickupStationPathPlacesOrderWithContactOnly(t *testing.T) {
	sub := &stubSubmitter{}
	c := newTestController(t, CheckoutFlow, sub, nil)
	walkToShipping(t, c)
	must(t, c.SelectDelivery("pickup-station"))
	mustAdvance(t, c, domain.StepPickupStationSelection)
	must(t, c.SelectPickupStation("st-gonaives"))
	mustAdvance(t, c, domain.StepDeliveryAddress)
	must(t, c.SetShippingAddress(domain.ShippingAddress{FirstName: "Ana", LastName: "Pierre", Email: "ana@example.com"}))
	mustAdvance(t, c, domain.StepPayment)
	must(t, c.SelectPayment("bank-transfer"))
	mustAdvance(t, c, domain.StepReview)
	must(t, c.AcceptTerms(true))
	mustAdvance(t, c, domain.StepOrderPlaced)

	req := sub.calls[0]
	if req.PickupStationID != "st-gonaives" || req.DeliveryMethod.Kind != domain.DeliveryPickupStation {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Breakdown.DeliveryCost != 0 {
		t.Fatalf("pickup station delivery is free, got %d", req.Breakdown.DeliveryCost)
	}
}

func TestSelectDeliveryAwayFromPickupStationClearsStation(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	must(t, c.SelectDelivery("pickup-station"))
	must(t, c.SelectPickupStation("st-delmas"))
	must(t, c.SelectDelivery("local"))
	if got := c.State().PickupStation; got != "" {
		t.Fatalf("expected station to be cleared, got %q", got)
	}
	if err := c.SelectPickupStation("st-delmas"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without pickup delivery, got %v", err)
	}
}

func TestSelectDeliveryKeepsCurrentStepOnPath(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	walkToShipping(t, c)
	must(t, c.SelectDelivery("pickup-station"))
	mustAdvance(t, c, domain.StepPickupStationSelection)

	must(t, c.SelectDelivery("motorcycle"))
	if got := c.State(); got.CurrentStep != domain.StepShippingOption || got.DeliveryMethod != "motorcycle" {
		t.Fatalf("expected to return to shipping option, got step %s delivery %s", got.CurrentStep, got.DeliveryMethod)
	}
	mustAdvance(t, c, domain.StepDeliveryAddress)

	must(t, c.SetShippingAddress(testAddress()))
	mustAdvance(t, c, domain.StepPayment)
	must(t, c.SelectDelivery("pickup-station"))
	if got := c.State().CurrentStep; got != domain.StepPickupStationSelection {
		t.Fatalf("expected to return to the station screen, got %s", got)
	}
	must(t, c.SelectPickupStation("st-gonaives"))
	mustAdvance(t, c, domain.StepDeliveryAddress)
}

func TestSnapshotBreakdown(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	walkToReview(t, c)

	snap := c.Snapshot()
	if snap.Breakdown == nil {
		t.Fatalf("expected breakdown, got error %q", snap.PricingError)
	}
	b := *snap.Breakdown
	if b.Subtotal != 3600 || b.DeliveryCost != 399 || b.PaymentFee != 0 || b.Tax != 360 || b.Total != 4359 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if snap.Display["total"] != "43.59" {
		t.Fatalf("expected formatted total 43.59, got %q", snap.Display["total"])
	}
	if snap.Position != 8 || snap.StepCount != 8 || !snap.Verdict.Passed {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.LocationLabel != "Raboteau, Pont Tamarin, Gonaïves, Artibonite" {
		t.Fatalf("unexpected location label %q", snap.LocationLabel)
	}
}

func TestSnapshotListsNextLocationLevel(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	must(t, c.SelectLocation(location.LevelDepartment, "NO"))
	snap := c.Snapshot()
	if snap.LocationLevel != "commune" || len(snap.LocationOptions) != 1 || snap.LocationOptions[0].Code != "NO-CAP" {
		t.Fatalf("unexpected location options %+v", snap)
	}
}

func TestReviewTimeoutIsRetryable(t *testing.T) {
	calls := 0
	attempts := []string{}
	gateway := submission.GatewayFunc(func(ctx context.Context, req submission.OrderRequest) (submission.Receipt, error) {
		calls++
		attempts = append(attempts, req.AttemptID)
		if calls == 1 {
			<-ctx.Done()
			return submission.Receipt{}, ctx.Err()
		}
		return submission.Receipt{TransactionID: "tx-42"}, nil
	})
	adapter, err := submission.NewAdapter(submission.Deps{Gateway: gateway, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	c := newTestController(t, CheckoutFlow, adapter, nil)
	walkToReview(t, c)
	before := c.State()

	err = c.Advance(context.Background())
	var serr *SubmissionError
	if !errors.As(err, &serr) || serr.Kind != submission.KindTimeout || !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected timeout submission error, got %v", err)
	}
	failed := c.State()
	if failed.CurrentStep != domain.StepReview || failed.OrderResult.Error != "timeout" || failed.Submitting {
		t.Fatalf("expected to stay on review with a timeout, got %+v", failed)
	}
	failed.OrderResult = before.OrderResult
	if !reflect.DeepEqual(before, failed) {
		t.Fatalf("a failed submission must only touch the order result")
	}

	mustAdvance(t, c, domain.StepOrderPlaced)
	s := c.State()
	if !s.OrderResult.Placed || s.OrderResult.TransactionID != "tx-42" || s.OrderResult.Error != "" {
		t.Fatalf("unexpected order result %+v", s.OrderResult)
	}
	if calls != 2 || attempts[0] == attempts[1] {
		t.Fatalf("expected two independent attempts, got %v", attempts)
	}
}

func TestDeclinedSubmissionKeepsReview(t *testing.T) {
	sub := &stubSubmitter{outcomes: []submission.Outcome{
		submission.Failed("a1", submission.KindDeclined, submission.ErrDeclined),
	}}
	c := newTestController(t, CheckoutFlow, sub, nil)
	walkToReview(t, c)

	err := c.Advance(context.Background())
	if !errors.Is(err, submission.ErrDeclined) {
		t.Fatalf("expected declined error in chain, got %v", err)
	}
	s := c.State()
	if s.OrderResult.Error != "declined" || s.OrderResult.Message == "" {
		t.Fatalf("unexpected order result %+v", s.OrderResult)
	}
	must(t, c.Retreat(context.Background()))
	if got := c.State(); got.CurrentStep != domain.StepPayment || got.OrderResult.Error != "" {
		t.Fatalf("retreating from review should clear the failure, got %+v", got)
	}
}

func TestSubmissionTicketLifecycle(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	walkToReview(t, c)
	ctx := context.Background()

	ticket, err := c.BeginSubmission(ctx)
	must(t, err)
	if !c.State().Submitting {
		t.Fatalf("expected submitting flag")
	}
	if ticket.Request.OrderID != "01TESTORDER" || ticket.Request.TotalAmount != 4359 || ticket.Request.Location == "" {
		t.Fatalf("unexpected request %+v", ticket.Request)
	}
	if ticket.Request.PaymentDetails.Card.Number != "4242424242424242" {
		t.Fatalf("expected normalised card number, got %q", ticket.Request.PaymentDetails.Card.Number)
	}

	for name, fn := range map[string]func() error{
		"advance":  func() error { return c.Advance(ctx) },
		"retreat":  func() error { return c.Retreat(ctx) },
		"quantity": func() error { return c.SetQuantity(2) },
		"terms":    func() error { return c.AcceptTerms(false) },
		"begin":    func() error { _, err := c.BeginSubmission(ctx); return err },
	} {
		if err := fn(); !errors.Is(err, ErrSubmissionInFlight) {
			t.Fatalf("%s: expected ErrSubmissionInFlight, got %v", name, err)
		}
	}

	if !c.CancelSubmission(ctx) {
		t.Fatalf("expected a pending submission to cancel")
	}
	if c.CancelSubmission(ctx) {
		t.Fatalf("second cancel must report nothing pending")
	}
	if err := c.CompleteSubmission(ctx, ticket, submission.Succeeded("a", "tx-late")); !errors.Is(err, ErrStaleSubmission) {
		t.Fatalf("expected stale outcome to be discarded, got %v", err)
	}
	s := c.State()
	if s.CurrentStep != domain.StepReview || s.OrderResult.Placed || s.OrderResult.Error != "cancelled" {
		t.Fatalf("late result must not apply, got %+v", s)
	}

	next, err := c.BeginSubmission(ctx)
	must(t, err)
	if err := c.CompleteSubmission(ctx, ticket, submission.Succeeded("a", "tx-old")); !errors.Is(err, ErrStaleSubmission) {
		t.Fatalf("old ticket must stay stale, got %v", err)
	}
	must(t, c.CompleteSubmission(ctx, next, submission.Succeeded("b", "tx-new")))
	if got := c.State().OrderResult.TransactionID; got != "tx-new" {
		t.Fatalf("expected tx-new, got %q", got)
	}
}

func TestBeginSubmissionRevalidatesEarlierSteps(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	walkToReview(t, c)
	must(t, c.SetShippingAddress(domain.ShippingAddress{}))

	_, err := c.BeginSubmission(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Step != domain.StepDeliveryAddress {
		t.Fatalf("expected delivery address failure, got %v", err)
	}

	c = newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	if _, err := c.BeginSubmission(context.Background()); !errors.Is(err, ErrNotAtReview) {
		t.Fatalf("expected ErrNotAtReview, got %v", err)
	}
}

func TestPlacedWizardIsClosed(t *testing.T) {
	nav := &recordingNavigator{}
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nav)
	if err := c.Done(context.Background()); !errors.Is(err, ErrOrderNotPlaced) {
		t.Fatalf("expected ErrOrderNotPlaced, got %v", err)
	}
	walkToReview(t, c)
	mustAdvance(t, c, domain.StepOrderPlaced)

	if err := c.SetQuantity(1); !errors.Is(err, ErrWizardClosed) {
		t.Fatalf("expected ErrWizardClosed, got %v", err)
	}
	if err := c.Retreat(context.Background()); !errors.Is(err, ErrWizardClosed) {
		t.Fatalf("expected ErrWizardClosed, got %v", err)
	}
	if got := c.State().OrderResult.PlacedAt; !got.Equal(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected placedAt %v", got)
	}
	must(t, c.Done(context.Background()))
	if len(nav.exits) != 1 || nav.exits[0] != ExitCompleted {
		t.Fatalf("expected completed exit, got %v", nav.exits)
	}
}

func TestRetreatOnFirstStepExits(t *testing.T) {
	nav := &recordingNavigator{}
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nav)
	if err := c.Retreat(context.Background()); !errors.Is(err, ErrExitWizard) {
		t.Fatalf("expected ErrExitWizard, got %v", err)
	}
	if len(nav.exits) != 1 || nav.exits[0] != ExitBackedOut {
		t.Fatalf("expected backed out exit, got %v", nav.exits)
	}
	if c.State().CurrentStep != domain.StepVariantSelection {
		t.Fatalf("step must not change")
	}
}

func TestSelectVariantClampsQuantity(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	must(t, c.SetQuantity(10))
	must(t, c.SelectVariant("seal-pocket"))
	if got := c.State().Product; got.VariantID != "seal-pocket" || got.Quantity != 3 {
		t.Fatalf("expected quantity clamped to stock, got %+v", got)
	}
	if err := c.SelectVariant("seal-gold"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if err := c.SetQuantity(0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSelectPaymentDropsMismatchedDetails(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	must(t, c.SetCardDetails(domain.CardDetails{Number: "4242424242424242", Expiry: "12/30", CVC: "123", Holder: "Ana"}))
	if err := c.SetWalletPhone("+509 3412 3456"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for wallet phone on card, got %v", err)
	}
	must(t, c.SelectPayment("moncash"))
	if c.State().PaymentDetails.Card != nil {
		t.Fatalf("card details must be dropped when switching to a wallet")
	}
	must(t, c.SetWalletPhone("+509 3412 3456"))
	must(t, c.SelectPayment("natcash"))
	if c.State().PaymentDetails.Wallet == nil {
		t.Fatalf("wallet details carry over between wallets")
	}
	must(t, c.SelectPayment("bank-transfer"))
	if d := c.State().PaymentDetails; d.Card != nil || d.Wallet != nil {
		t.Fatalf("bank transfer carries no details, got %+v", d)
	}
}

func TestSetShippingAddressStripsMarkup(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	must(t, c.SetShippingAddress(domain.ShippingAddress{FirstName: "<b>Ana</b>", Email: " ANA@EXAMPLE.COM ", Address: "12  Rue <i>Capois</i>"}))
	got := c.State().ShippingAddress
	if got.FirstName != "Ana" || got.Email != "ana@example.com" || got.Address != "12 Rue Capois" {
		t.Fatalf("unexpected address %+v", got)
	}
}

func TestComposedAddressSatisfiesLocation(t *testing.T) {
	c := newTestController(t, CheckoutFlow, &stubSubmitter{}, nil)
	mustAdvance(t, c, domain.StepQuantity)
	mustAdvance(t, c, domain.StepLocation)
	if err := c.SetComposedAddress("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	must(t, c.SetComposedAddress("Route Nationale 1, Gonaïves"))
	mustAdvance(t, c, domain.StepShippingOption)

	var herr *location.HierarchyError
	if err := c.SelectLocation(location.LevelCommune, "AR-GON"); !errors.As(err, &herr) {
		t.Fatalf("expected hierarchy error, got %v", err)
	}
}

func TestTransferFlow(t *testing.T) {
	sub := &stubSubmitter{}
	c := newTestController(t, TransferFlow, sub, nil)
	if c.State().DeliveryMethod != "" {
		t.Fatalf("transfer flow must not preselect delivery")
	}
	if err := c.SelectDelivery("motorcycle"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	mustAdvance(t, c, domain.StepQuantity)
	mustAdvance(t, c, domain.StepPayment)
	must(t, c.SelectPayment("moncash"))
	must(t, c.SetWalletPhone("+509 3412 3456"))
	mustAdvance(t, c, domain.StepReview)
	must(t, c.AcceptTerms(true))

	snap := c.Snapshot()
	if snap.Breakdown == nil || snap.Breakdown.Total != 1135 || snap.Breakdown.DeliveryCost != 0 {
		t.Fatalf("unexpected transfer breakdown %+v", snap.Breakdown)
	}
	if snap.StepCount != 4 || snap.LocationLevel != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	mustAdvance(t, c, domain.StepOrderPlaced)
	req := sub.calls[0]
	if req.DeliveryMethod != nil || req.ShippingAddress != nil || req.Flow != domain.FlowTransfer {
		t.Fatalf("transfer request must carry no delivery, got %+v", req)
	}
	if req.PaymentDetails.Wallet == nil || req.TotalAmount != 1135 {
		t.Fatalf("unexpected request %+v", req)
	}
}
