package pricing

import (
	"encoding/json"
	"sort"
	"strings"

	"portal-middleware/flow"
)

// GeneralTab is the mandatory first step shown before the category tabs.
const GeneralTab = "general"

// CategoryOrder is the fixed display precedence. Categories outside this
// list are not shown.
var CategoryOrder = []string{
	"Permanent Residency Services",
	"Temporary Immigration Services",
	"Other Immigration Services",
}

// Service is one catalog service merged with the practitioner's override.
// CurrentPrice and PractitionerID are either both set (offered) or both nil.
type Service struct {
	ID             string   `json:"id"`
	Subject        string   `json:"subject"`
	Product        string   `json:"product"`
	Unit           string   `json:"unit"`
	MinPrice       float64  `json:"minPrice"`
	CurrentPrice   *float64 `json:"currentPrice"`
	PractitionerID *string  `json:"practitionerId"`
}

// Offered reports whether the practitioner has set a price for the service.
func (s Service) Offered() bool {
	return s.PractitionerID != nil
}

type Category struct {
	Name     string    `json:"name"`
	Services []Service `json:"services"`
}

// Grid is an immutable, ordered grouping of services by category. Changes
// produce a new Grid that shares every untouched category with the old one,
// so keeping a reference to an old Grid is a complete snapshot.
type Grid struct {
	categories []Category
}

// catalogEntry is a minimum-price record from the catalog list.
type catalogEntry struct {
	ID      string       `json:"id"`
	Subject string       `json:"subject"`
	Product string       `json:"product"`
	Unit    string       `json:"unit"`
	Price   flow.Decimal `json:"price"`
}

// overrideEntry is a practitioner's own price for a catalog service.
type overrideEntry struct {
	ID      string       `json:"id"`
	Subject string       `json:"subject"`
	Product string       `json:"product"`
	Price   flow.Decimal `json:"price"`
}

type serviceKey struct {
	subject string
	product string
}

// Merge joins the catalog with the practitioner overrides on
// (subject, product) and groups the result.
func Merge(catalog []catalogEntry, overrides []overrideEntry) *Grid {
	byKey := map[serviceKey]overrideEntry{}
	for _, o := range overrides {
		k := serviceKey{o.Subject, o.Product}
		// the first matching override wins
		if _, ok := byKey[k]; !ok {
			byKey[k] = o
		}
	}

	grouped := map[string][]Service{}
	for _, c := range catalog {
		svc := Service{
			ID:       c.ID,
			Subject:  c.Subject,
			Product:  c.Product,
			Unit:     c.Unit,
			MinPrice: c.Price.Float64(),
		}
		if o, ok := byKey[serviceKey{c.Subject, c.Product}]; ok {
			price := o.Price.Float64()
			id := o.ID
			svc.CurrentPrice = &price
			svc.PractitionerID = &id
		}
		grouped[c.Subject] = append(grouped[c.Subject], svc)
	}

	g := &Grid{}
	for _, name := range CategoryOrder {
		services, ok := grouped[name]
		if !ok {
			continue
		}
		sort.SliceStable(services, func(i, j int) bool {
			return strings.ToLower(services[i].Product) < strings.ToLower(services[j].Product)
		})
		g.categories = append(g.categories, Category{Name: name, Services: services})
	}
	return g
}

// Categories returns a copy of the grouping in display order.
func (g *Grid) Categories() []Category {
	if g == nil {
		return nil
	}
	out := make([]Category, len(g.categories))
	for i, c := range g.categories {
		out[i] = Category{Name: c.Name, Services: append([]Service(nil), c.Services...)}
	}
	return out
}

// TabNames is the wizard's tab sequence: the general step followed by every
// category present, in display order.
func (g *Grid) TabNames() []string {
	tabs := []string{GeneralTab}
	if g == nil {
		return tabs
	}
	for _, c := range g.categories {
		tabs = append(tabs, c.Name)
	}
	return tabs
}

// Find looks a service up by category and catalog id.
func (g *Grid) Find(category, id string) (Service, bool) {
	if g == nil {
		return Service{}, false
	}
	for _, c := range g.categories {
		if c.Name != category {
			continue
		}
		for _, s := range c.Services {
			if s.ID == id {
				return s, true
			}
		}
	}
	return Service{}, false
}

// withService returns a new Grid with svc replacing the service of the same
// id in category. Only that category's slice is copied.
func (g *Grid) withService(category string, svc Service) *Grid {
	next := &Grid{categories: make([]Category, len(g.categories))}
	copy(next.categories, g.categories)
	for i, c := range next.categories {
		if c.Name != category {
			continue
		}
		services := make([]Service, len(c.Services))
		copy(services, c.Services)
		for j := range services {
			if services[j].ID == svc.ID {
				services[j] = svc
			}
		}
		next.categories[i] = Category{Name: c.Name, Services: services}
	}
	return next
}

func (g *Grid) MarshalJSON() ([]byte, error) {
	categories := g.Categories()
	if categories == nil {
		categories = []Category{}
	}
	return json.Marshal(categories)
}
