// Package catalog is the product data source behind the search tools. It
// hides whether products come from a third-party search API or from the
// built-in fixture list.
package catalog

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUpstream wraps every failure talking to the search API. Tool
	// handlers surface it to the agent as a failed call.
	ErrUpstream = errors.New("product search unavailable")
	// ErrProductNotFound is returned when a product id is unknown.
	ErrProductNotFound = errors.New("product not found")
)

// DefaultLimit is used when a caller asks for a non-positive number of results.
const DefaultLimit = 5

// Product is one catalog entry.
type Product struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Image       string  `json:"image,omitempty"`
	URL         string  `json:"url,omitempty"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// Searcher looks up products.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Product, error)
	Product(ctx context.Context, id string) (Product, error)
}

// Fixture is a Searcher over a fixed product list.
type Fixture struct {
	products []Product
}

var _ Searcher = (*Fixture)(nil)

// NewFixture returns a Fixture over products, or over the built-in demo
// catalog when none are given.
func NewFixture(products ...Product) *Fixture {
	if len(products) == 0 {
		products = demoProducts
	}
	cp := make([]Product, len(products))
	copy(cp, products)
	return &Fixture{products: cp}
}

// Search returns products whose title, category or description contain every
// word of query, case-insensitively. An empty query matches everything.
func (f *Fixture) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	out := make([]Product, 0, limit)
	for _, p := range f.products {
		if len(out) == limit {
			break
		}
		if matches(p, terms) {
			out = append(out, p)
		}
	}
	return out, nil
}

func matches(p Product, terms []string) bool {
	hay := strings.ToLower(p.Title + " " + p.Category + " " + p.Description)
	for _, t := range terms {
		if !strings.Contains(hay, t) {
			return false
		}
	}
	return true
}

func (f *Fixture) Product(ctx context.Context, id string) (Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

var demoProducts = []Product{
	{ID: "81234567", Title: "Threshold Ceramic Table Lamp", Price: 29.99, Category: "home", Description: "Matte white ceramic base with linen shade", Rating: 4.6, Image: "https://target.scene7.com/is/image/Target/GUEST_lamp"},
	{ID: "81234568", Title: "Room Essentials Bath Towel Set", Price: 12.00, Category: "bath", Description: "Six-piece cotton towel set in gray", Rating: 4.3, Image: "https://target.scene7.com/is/image/Target/GUEST_towels"},
	{ID: "81234569", Title: "Stanley Quencher Tumbler 40oz", Price: 45.00, Category: "kitchen", Description: "Insulated stainless steel tumbler with handle", Rating: 4.8, Image: "https://target.scene7.com/is/image/Target/GUEST_tumbler"},
	{ID: "81234570", Title: "Hearth & Hand Wood Serving Board", Price: 24.99, Category: "kitchen", Description: "Acacia wood board with leather strap", Rating: 4.7, Image: "https://target.scene7.com/is/image/Target/GUEST_board"},
	{ID: "81234571", Title: "All in Motion Yoga Mat", Price: 20.00, Category: "fitness", Description: "Reversible 5mm mat with carrying strap", Rating: 4.5, Image: "https://target.scene7.com/is/image/Target/GUEST_mat"},
	{ID: "81234572", Title: "Cat & Jack Kids Rain Jacket", Price: 25.00, Category: "kids", Description: "Water-resistant hooded jacket", Rating: 4.4, Image: "https://target.scene7.com/is/image/Target/GUEST_jacket"},
	{ID: "81234573", Title: "Keurig K-Mini Coffee Maker", Price: 79.99, Category: "kitchen", Description: "Single-serve coffee maker, fits mugs up to 7 inches", Rating: 4.2, Image: "https://target.scene7.com/is/image/Target/GUEST_keurig"},
	{ID: "81234574", Title: "Project 62 Round Wall Mirror", Price: 40.00, Category: "home", Description: "24 inch brass-finish metal frame mirror", Rating: 4.6, Image: "https://target.scene7.com/is/image/Target/GUEST_mirror"},
}
