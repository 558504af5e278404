package handlers

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
	"github.com/hanko-field/checkout/internal/submission"
	"github.com/hanko-field/checkout/internal/wizard"
)

const maxWizardRequestBody = 16 * 1024

// WizardService is the session host behind the wizard endpoints.
type WizardService interface {
	Create(ctx context.Context, kind domain.FlowKind) (services.WizardView, error)
	Get(ctx context.Context, id string) (services.WizardView, error)
	Discard(ctx context.Context, id string) error
	LocationOptions(ctx context.Context, id string, level location.Level) ([]domain.LocationNode, error)
	SelectVariant(ctx context.Context, id, variantID string) (services.WizardView, error)
	SetQuantity(ctx context.Context, id string, quantity int) (services.WizardView, error)
	SelectLocation(ctx context.Context, id string, level location.Level, code string) (services.WizardView, error)
	SetComposedAddress(ctx context.Context, id, address string) (services.WizardView, error)
	SelectDelivery(ctx context.Context, id, methodID string) (services.WizardView, error)
	SelectPickupStation(ctx context.Context, id, stationID string) (services.WizardView, error)
	SetShippingAddress(ctx context.Context, id string, addr domain.ShippingAddress) (services.WizardView, error)
	SelectPayment(ctx context.Context, id, methodID string) (services.WizardView, error)
	SetPaymentDetails(ctx context.Context, id string, details domain.PaymentDetails) (services.WizardView, error)
	AcceptTerms(ctx context.Context, id string, accepted bool) (services.WizardView, error)
	Advance(ctx context.Context, id string) (services.WizardView, error)
	Retreat(ctx context.Context, id string) (services.WizardView, error)
	CancelSubmission(ctx context.Context, id string) (services.WizardView, error)
	Done(ctx context.Context, id string) (services.WizardView, error)
}

// WizardHandlers exposes the checkout wizard as a session resource.
type WizardHandlers struct {
	wizards     WizardService
	idempotency func(http.Handler) http.Handler
}

type WizardOption func(*WizardHandlers)

// WithIdempotency guards every advance, not only the one that places the order. Clients
// send a fresh Idempotency-Key per advance; a retried request with the same key replays
// the first response instead of moving the wizard forward a second step.
func WithIdempotency(mw func(http.Handler) http.Handler) WizardOption {
	return func(h *WizardHandlers) { h.idempotency = mw }
}

func NewWizardHandlers(wizards WizardService, opts ...WizardOption) *WizardHandlers {
	h := &WizardHandlers{wizards: wizards}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers wizard endpoints under the provided router.
func (h *WizardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.create)
	r.Route("/{wizardId}", func(wr chi.Router) {
		wr.Use(sessionContext)
		wr.Get("/", h.get)
		wr.Delete("/", h.discard)
		wr.Get("/locations/{level}", h.locationOptions)

		wr.Put("/variant", h.selectVariant)
		wr.Put("/quantity", h.setQuantity)
		wr.Put("/location", h.selectLocation)
		wr.Put("/address", h.setComposedAddress)
		wr.Put("/delivery", h.selectDelivery)
		wr.Put("/pickup-station", h.selectPickupStation)
		wr.Put("/shipping-address", h.setShippingAddress)
		wr.Put("/payment", h.selectPayment)
		wr.Put("/payment-details", h.setPaymentDetails)
		wr.Put("/terms", h.acceptTerms)

		advance := wr
		if h.idempotency != nil {
			advance = wr.With(h.idempotency)
		}
		advance.Post("/advance", h.advance)
		wr.Post("/retreat", h.retreat)
		wr.Post("/submission:cancel", h.cancelSubmission)
		wr.Post("/done", h.done)
	})
}

// sessionContext records the wizard id so idempotency keys and logs are scoped to it.
func sessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "wizardId"))
		ctx := requestctx.WithSession(r.Context(), id)
		if logger := requestctx.Logger(ctx); logger != nil {
			ctx = requestctx.WithLogger(ctx, logger.With(zap.String("wizardId", id)))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createWizardRequest struct {
	Flow string `json:"flow"`
}

type selectIDRequest struct {
	ID string `json:"id"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type locationRequest struct {
	Level string `json:"level"`
	Code  string `json:"code"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type termsRequest struct {
	Accepted bool `json:"accepted"`
}

func (h *WizardHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createWizardRequest
	if err := httpx.DecodeJSON(r, maxWizardRequestBody, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(r.Context(), w, httpx.BodyError(err))
		return
	}
	view, err := h.wizards.Create(r.Context(), domain.FlowKind(strings.ToLower(strings.TrimSpace(req.Flow))))
	if err != nil {
		writeWizardError(w, r, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+view.SessionID)
	httpx.WriteJSON(w, http.StatusCreated, view)
}

func (h *WizardHandlers) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.wizards.Get(r.Context(), wizardID(r))
	respond(w, r, view, err)
}

func (h *WizardHandlers) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.wizards.Discard(r.Context(), wizardID(r)); err != nil {
		writeWizardError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandlers) locationOptions(w http.ResponseWriter, r *http.Request) {
	level, ok := location.ParseLevel(chi.URLParam(r, "level"))
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_level", "level must be department, commune, section or locality", http.StatusBadRequest))
		return
	}
	opts, err := h.wizards.LocationOptions(r.Context(), wizardID(r), level)
	if err != nil {
		writeWizardError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, locationsResponse{Level: level.String(), Options: opts})
}

func (h *WizardHandlers) selectVariant(w http.ResponseWriter, r *http.Request) {
	var req selectIDRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SelectVariant(r.Context(), wizardID(r), req.ID)
	respond(w, r, view, err)
}

func (h *WizardHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SetQuantity(r.Context(), wizardID(r), req.Quantity)
	respond(w, r, view, err)
}

func (h *WizardHandlers) selectLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decode(w, r, &req) {
		return
	}
	level, ok := location.ParseLevel(req.Level)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_level", "level must be department, commune, section or locality", http.StatusBadRequest))
		return
	}
	view, err := h.wizards.SelectLocation(r.Context(), wizardID(r), level, req.Code)
	respond(w, r, view, err)
}

func (h *WizardHandlers) setComposedAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SetComposedAddress(r.Context(), wizardID(r), req.Address)
	respond(w, r, view, err)
}

func (h *WizardHandlers) selectDelivery(w http.ResponseWriter, r *http.Request) {
	var req selectIDRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SelectDelivery(r.Context(), wizardID(r), req.ID)
	respond(w, r, view, err)
}

func (h *WizardHandlers) selectPickupStation(w http.ResponseWriter, r *http.Request) {
	var req selectIDRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SelectPickupStation(r.Context(), wizardID(r), req.ID)
	respond(w, r, view, err)
}

func (h *WizardHandlers) setShippingAddress(w http.ResponseWriter, r *http.Request) {
	var req domain.ShippingAddress
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SetShippingAddress(r.Context(), wizardID(r), req)
	respond(w, r, view, err)
}

func (h *WizardHandlers) selectPayment(w http.ResponseWriter, r *http.Request) {
	var req selectIDRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SelectPayment(r.Context(), wizardID(r), req.ID)
	respond(w, r, view, err)
}

func (h *WizardHandlers) setPaymentDetails(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentDetails
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.SetPaymentDetails(r.Context(), wizardID(r), req)
	respond(w, r, view, err)
}

func (h *WizardHandlers) acceptTerms(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.wizards.AcceptTerms(r.Context(), wizardID(r), req.Accepted)
	respond(w, r, view, err)
}

func (h *WizardHandlers) advance(w http.ResponseWriter, r *http.Request) {
	view, err := h.wizards.Advance(r.Context(), wizardID(r))
	respond(w, r, view, err)
}

func (h *WizardHandlers) retreat(w http.ResponseWriter, r *http.Request) {
	view, err := h.wizards.Retreat(r.Context(), wizardID(r))
	respond(w, r, view, err)
}

func (h *WizardHandlers) cancelSubmission(w http.ResponseWriter, r *http.Request) {
	view, err := h.wizards.CancelSubmission(r.Context(), wizardID(r))
	respond(w, r, view, err)
}

func (h *WizardHandlers) done(w http.ResponseWriter, r *http.Request) {
	view, err := h.wizards.Done(r.Context(), wizardID(r))
	respond(w, r, view, err)
}

func wizardID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "wizardId"))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, maxWizardRequestBody, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.BodyError(err))
		return false
	}
	return true
}

// respond writes the view, or the error envelope with the view attached so clients can
// re-render the wizard after a rejected change.
func respond(w http.ResponseWriter, r *http.Request, view services.WizardView, err error) {
	if err == nil {
		httpx.WriteJSON(w, http.StatusOK, view)
		return
	}
	if view.SessionID == "" {
		writeWizardError(w, r, err)
		return
	}
	apiErr := wizardError(r.Context(), err)
	details := maps.Clone(apiErr.Details)
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["wizard"] = view
	httpx.WriteError(r.Context(), w, apiErr.WithDetails(details))
}

func writeWizardError(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(r.Context(), w, wizardError(r.Context(), err))
}

func wizardError(ctx context.Context, err error) httpx.Error {
	var verr *wizard.ValidationError
	if errors.As(err, &verr) {
		return httpx.NewError("validation_failed", verr.Reason, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"step": verr.Step.String()})
	}
	var serr *wizard.SubmissionError
	if errors.As(err, &serr) {
		return httpx.NewError("submission_failed", "order submission failed", submissionStatus(serr.Kind)).
			WithDetails(map[string]any{"kind": string(serr.Kind)})
	}
	var herr *location.HierarchyError
	if errors.As(err, &herr) {
		return httpx.NewError("location_inconsistent", herr.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"level": herr.Level.String()})
	}

	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return httpx.NewError("wizard_not_found", "wizard session not found or expired", http.StatusNotFound)
	case errors.Is(err, wizard.ErrUnknownOption):
		return httpx.NewError("unknown_option", err.Error(), http.StatusBadRequest)
	case errors.Is(err, wizard.ErrInvalidInput), errors.Is(err, location.ErrEmptyAddress):
		return httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest)
	case errors.Is(err, wizard.ErrSubmissionInFlight):
		return httpx.NewError("submission_in_flight", "an order submission is already in progress", http.StatusConflict)
	case errors.Is(err, wizard.ErrStaleSubmission):
		return httpx.NewError("submission_cancelled", "the submission was cancelled before it completed", http.StatusConflict)
	case errors.Is(err, wizard.ErrWizardClosed):
		return httpx.NewError("wizard_closed", "the order has already been placed", http.StatusConflict)
	case errors.Is(err, wizard.ErrNotAtReview):
		return httpx.NewError("not_at_review", "submission requires the review step", http.StatusConflict)
	case errors.Is(err, wizard.ErrOrderNotPlaced):
		return httpx.NewError("order_not_placed", "the order has not been placed", http.StatusConflict)
	}

	requestctx.Logger(ctx).Error("wizard request failed", zap.Error(err))
	return httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError)
}

func submissionStatus(kind submission.ErrorKind) int {
	switch kind {
	case submission.KindDeclined:
		return http.StatusPaymentRequired
	case submission.KindInvalidRequest:
		return http.StatusUnprocessableEntity
	case submission.KindTimeout:
		return http.StatusGatewayTimeout
	case submission.KindUnavailable:
		return http.StatusServiceUnavailable
	case submission.KindCancelled:
		return http.StatusConflict
	}
	return http.StatusBadGateway
}
