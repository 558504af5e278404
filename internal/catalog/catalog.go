package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/pricing"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog wraps every seed validation failure.
var ErrInvalidCatalog = errors.New("catalog: invalid seed data")

type document struct {
	Currency string `yaml:"currency"`
	Defaults struct {
		Variant  string `yaml:"variant"`
		Delivery string `yaml:"delivery"`
		Payment  string `yaml:"payment"`
	} `yaml:"defaults"`
	Variants  []domain.ProductVariant `yaml:"variants"`
	Delivery  []domain.DeliveryMethod `yaml:"delivery"`
	Payment   []domain.PaymentMethod  `yaml:"payment"`
	Stations  []domain.PickupStation  `yaml:"stations"`
	Locations struct {
		Departments []domain.LocationNode `yaml:"departments"`
		Communes    []domain.LocationNode `yaml:"communes"`
		Sections    []domain.LocationNode `yaml:"sections"`
		Localities  []domain.LocationNode `yaml:"localities"`
	} `yaml:"locations"`
}

// Catalog is the immutable seed data a wizard runs against: variants with their tier
// tables, delivery and payment schedules, pickup stations and the location hierarchy.
type Catalog struct {
	currency string

	variants   []domain.ProductVariant
	deliveries []domain.DeliveryMethod
	payments   []domain.PaymentMethod
	stations   []domain.PickupStation

	defaultVariant  string
	defaultDelivery string
	defaultPayment  string

	departments []domain.LocationNode
	children    map[string][]domain.LocationNode
	names       map[string]string
}

// Default parses the embedded seed.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a YAML seed from path. An empty path yields the embedded default.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML seed.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	code := strings.ToUpper(strings.TrimSpace(doc.Currency))
	if code == "" {
		code = "USD"
	}
	if _, err := currency.ParseISO(code); err != nil {
		return nil, fmt.Errorf("%w: currency %q: %v", ErrInvalidCatalog, doc.Currency, err)
	}

	c := &Catalog{
		currency:        code,
		variants:        doc.Variants,
		deliveries:      doc.Delivery,
		payments:        doc.Payment,
		stations:        doc.Stations,
		defaultVariant:  doc.Defaults.Variant,
		defaultDelivery: doc.Defaults.Delivery,
		defaultPayment:  doc.Defaults.Payment,
		departments:     doc.Locations.Departments,
		children:        make(map[string][]domain.LocationNode),
		names:           make(map[string]string),
	}

	if len(c.variants) == 0 {
		return nil, fmt.Errorf("%w: at least one variant is required", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{})
	for _, v := range c.variants {
		if err := unique(seen, "variant", v.ID); err != nil {
			return nil, err
		}
		if v.Stock < 0 || v.UnitPrice < 0 || v.OriginalPrice < 0 {
			return nil, fmt.Errorf("%w: variant %s has negative stock or price", ErrInvalidCatalog, v.ID)
		}
		if err := pricing.ValidateTiers(v.Tiers); err != nil {
			return nil, fmt.Errorf("%w: variant %s: %v", ErrInvalidCatalog, v.ID, err)
		}
	}
	for _, d := range c.deliveries {
		if err := unique(seen, "delivery method", d.ID); err != nil {
			return nil, err
		}
		if !d.Kind.Valid() || d.Price < 0 {
			return nil, fmt.Errorf("%w: delivery method %s", ErrInvalidCatalog, d.ID)
		}
	}
	for _, p := range c.payments {
		if err := unique(seen, "payment method", p.ID); err != nil {
			return nil, err
		}
		if !p.Kind.Valid() || p.Fee < 0 {
			return nil, fmt.Errorf("%w: payment method %s", ErrInvalidCatalog, p.ID)
		}
	}
	for _, s := range c.stations {
		if err := unique(seen, "pickup station", s.ID); err != nil {
			return nil, err
		}
	}

	if c.defaultVariant == "" {
		c.defaultVariant = c.variants[0].ID
	}
	if _, ok := c.Variant(c.defaultVariant); !ok {
		return nil, fmt.Errorf("%w: default variant %q not found", ErrInvalidCatalog, c.defaultVariant)
	}
	if c.defaultDelivery == "" && len(c.deliveries) > 0 {
		c.defaultDelivery = c.deliveries[0].ID
	}
	if _, ok := c.DeliveryMethod(c.defaultDelivery); c.defaultDelivery != "" && !ok {
		return nil, fmt.Errorf("%w: default delivery %q not found", ErrInvalidCatalog, c.defaultDelivery)
	}
	if c.defaultPayment == "" && len(c.payments) > 0 {
		c.defaultPayment = c.payments[0].ID
	}
	if _, ok := c.PaymentMethod(c.defaultPayment); !ok {
		return nil, fmt.Errorf("%w: default payment %q not found", ErrInvalidCatalog, c.defaultPayment)
	}

	if err := c.indexLocations(doc); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) indexLocations(doc document) error {
	levels := [][]domain.LocationNode{
		doc.Locations.Departments,
		doc.Locations.Communes,
		doc.Locations.Sections,
		doc.Locations.Localities,
	}
	known := make(map[string]int)
	for depth, nodes := range levels {
		for _, node := range nodes {
			if node.Code == "" || strings.TrimSpace(node.Name) == "" {
				return fmt.Errorf("%w: location entry without code or name", ErrInvalidCatalog)
			}
			if _, dup := known[node.Code]; dup {
				return fmt.Errorf("%w: duplicate location code %s", ErrInvalidCatalog, node.Code)
			}
			if depth == 0 {
				if node.Parent != "" {
					return fmt.Errorf("%w: department %s has a parent", ErrInvalidCatalog, node.Code)
				}
			} else if parentDepth, ok := known[node.Parent]; !ok || parentDepth != depth-1 {
				return fmt.Errorf("%w: location %s has unknown parent %q", ErrInvalidCatalog, node.Code, node.Parent)
			}
			known[node.Code] = depth
			c.names[node.Code] = node.Name
			if depth > 0 {
				c.children[node.Parent] = append(c.children[node.Parent], node)
			}
		}
	}
	return nil
}

func unique(seen map[string]struct{}, kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s without id", ErrInvalidCatalog, kind)
	}
	key := kind + ":" + id
	if _, ok := seen[key]; ok {
		return fmt.Errorf("%w: duplicate %s %s", ErrInvalidCatalog, kind, id)
	}
	seen[key] = struct{}{}
	return nil
}

func (c *Catalog) Currency() string { return c.currency }

func (c *Catalog) Variants() []domain.ProductVariant {
	return append([]domain.ProductVariant(nil), c.variants...)
}

func (c *Catalog) DeliveryMethods() []domain.DeliveryMethod {
	return append([]domain.DeliveryMethod(nil), c.deliveries...)
}

func (c *Catalog) PaymentMethods() []domain.PaymentMethod {
	return append([]domain.PaymentMethod(nil), c.payments...)
}

func (c *Catalog) PickupStations() []domain.PickupStation {
	return append([]domain.PickupStation(nil), c.stations...)
}

func (c *Catalog) Variant(id string) (domain.ProductVariant, bool) {
	for _, v := range c.variants {
		if v.ID == id {
			return v, true
		}
	}
	return domain.ProductVariant{}, false
}

func (c *Catalog) DeliveryMethod(id string) (domain.DeliveryMethod, bool) {
	for _, d := range c.deliveries {
		if d.ID == id {
			return d, true
		}
	}
	return domain.DeliveryMethod{}, false
}

func (c *Catalog) PaymentMethod(id string) (domain.PaymentMethod, bool) {
	for _, p := range c.payments {
		if p.ID == id {
			return p, true
		}
	}
	return domain.PaymentMethod{}, false
}

func (c *Catalog) PickupStation(id string) (domain.PickupStation, bool) {
	for _, s := range c.stations {
		if s.ID == id {
			return s, true
		}
	}
	return domain.PickupStation{}, false
}

func (c *Catalog) DefaultVariant() string  { return c.defaultVariant }
func (c *Catalog) DefaultDelivery() string { return c.defaultDelivery }
func (c *Catalog) DefaultPayment() string  { return c.defaultPayment }

// Departments returns the first level of the location hierarchy.
func (c *Catalog) Departments() []domain.LocationNode {
	return append([]domain.LocationNode(nil), c.departments...)
}

// Children returns the entries whose parent is code, in seed order.
func (c *Catalog) Children(code string) []domain.LocationNode {
	return append([]domain.LocationNode(nil), c.children[code]...)
}

// Name returns the display name of a location code.
func (c *Catalog) Name(code string) (string, bool) {
	name, ok := c.names[code]
	return name, ok
}
