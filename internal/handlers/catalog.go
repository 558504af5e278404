package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/location"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/pricing"
)

// CatalogReader is the reference data served to clients. *catalog.Catalog satisfies it.
type CatalogReader interface {
	location.Hierarchy
	Currency() string
	Variants() []domain.ProductVariant
	DeliveryMethods() []domain.DeliveryMethod
	PaymentMethods() []domain.PaymentMethod
	PickupStations() []domain.PickupStation
}

// CatalogHandlers exposes the seed catalog and the location cascade.
type CatalogHandlers struct {
	catalog   CatalogReader
	locations *location.Selector
}

func NewCatalogHandlers(catalog CatalogReader) (*CatalogHandlers, error) {
	if catalog == nil {
		return nil, errors.New("catalog handlers: catalog is required")
	}
	selector, err := location.NewSelector(catalog)
	if err != nil {
		return nil, err
	}
	return &CatalogHandlers{catalog: catalog, locations: selector}, nil
}

// Routes registers catalog endpoints under the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog", h.getCatalog)
	r.Get("/locations", h.listLocations)
}

type variantResponse struct {
	domain.ProductVariant
	DisplayPrice string `json:"displayPrice"`
}

type catalogResponse struct {
	Currency        string                  `json:"currency"`
	Variants        []variantResponse       `json:"variants"`
	DeliveryMethods []domain.DeliveryMethod `json:"deliveryMethods"`
	PaymentMethods  []domain.PaymentMethod  `json:"paymentMethods"`
	PickupStations  []domain.PickupStation  `json:"pickupStations"`
}

func (h *CatalogHandlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	variants := h.catalog.Variants()
	resp := catalogResponse{
		Currency:        h.catalog.Currency(),
		Variants:        make([]variantResponse, 0, len(variants)),
		DeliveryMethods: h.catalog.DeliveryMethods(),
		PaymentMethods:  h.catalog.PaymentMethods(),
		PickupStations:  h.catalog.PickupStations(),
	}
	for _, v := range variants {
		resp.Variants = append(resp.Variants, variantResponse{ProductVariant: v, DisplayPrice: pricing.Format(v.UnitPrice)})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type locationsResponse struct {
	Level   string                `json:"level"`
	Options []domain.LocationNode `json:"options"`
}

// listLocations returns the options for the level below the deepest ancestor given in
// the query string.
func (h *CatalogHandlers) listLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := domain.Location{
		Department: strings.TrimSpace(q.Get("department")),
		Commune:    strings.TrimSpace(q.Get("commune")),
		Section:    strings.TrimSpace(q.Get("section")),
	}
	level := location.LevelDepartment
	switch {
	case loc.Section != "":
		level = location.LevelLocality
	case loc.Commune != "":
		level = location.LevelSection
	case loc.Department != "":
		level = location.LevelCommune
	}
	opts, err := h.locations.Options(level, loc)
	if err != nil {
		writeWizardError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, locationsResponse{Level: level.String(), Options: opts})
}
