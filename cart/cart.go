// Package cart holds the demo shopping cart shared by the cart and checkout
// tools.
//
// Every caller uses the same fixed key (DemoKey), so all connected clients
// see and overwrite one cart. That mirrors the demo's behaviour and is a
// known limitation for any multi-user deployment.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DemoKey is the single cart key used by every client.
const DemoKey = "demo-cart"

// ErrInvalidItem is returned when an item cannot be added.
var ErrInvalidItem = errors.New("invalid cart item")

// Item is one product line in a cart.
type Item struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Image    string  `json:"image,omitempty"`
	Quantity int     `json:"quantity"`
}

// Cart is a snapshot of a cart's contents.
type Cart struct {
	Key   string `json:"key"`
	Items []Item `json:"items"`
}

// Total returns the sum of price times quantity across all items.
func (c Cart) Total() float64 {
	var t float64
	for _, it := range c.Items {
		t += it.Price * float64(it.Quantity)
	}
	return t
}

// Count returns the total quantity across all items.
func (c Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Policy decides how an added item combines with the current contents.
type Policy int

const (
	// SingleItem replaces the cart contents on every add, so a cart holds at
	// most one line.
	SingleItem Policy = iota
	// Append keeps insertion order and merges quantities for repeated
	// product ids.
	Append
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "single":
		return SingleItem, nil
	case "append":
		return Append, nil
	default:
		return SingleItem, fmt.Errorf("unknown cart policy %q", s)
	}
}

func (p Policy) String() string {
	if p == Append {
		return "append"
	}
	return "single"
}

// Store keeps carts in memory. Carts are created on first add and never
// expire.
type Store struct {
	policy Policy

	mu    sync.Mutex
	carts map[string][]Item
}

// NewStore returns an empty Store applying policy.
func NewStore(policy Policy) *Store {
	return &Store{policy: policy, carts: make(map[string][]Item)}
}

// Policy reports the store's add policy.
func (s *Store) Policy() Policy { return s.policy }

// Add places item in the cart under key and returns the resulting cart.
func (s *Store) Add(ctx context.Context, key string, item Item) (Cart, error) {
	if item.ID == "" || item.Title == "" {
		return Cart{}, fmt.Errorf("%w: id and title are required", ErrInvalidItem)
	}
	if item.Price < 0 {
		return Cart{}, fmt.Errorf("%w: negative price", ErrInvalidItem)
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.policy {
	case SingleItem:
		s.carts[key] = []Item{item}
	default:
		items := s.carts[key]
		merged := false
		for i := range items {
			if items[i].ID == item.ID {
				items[i].Quantity += item.Quantity
				merged = true
				break
			}
		}
		if !merged {
			items = append(items, item)
		}
		s.carts[key] = items
	}
	return s.snapshotLocked(key), nil
}

// Get returns the cart under key. A missing cart is returned empty.
func (s *Store) Get(ctx context.Context, key string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(key)
}

// Clear empties the cart under key and returns the contents it held.
func (s *Store) Clear(ctx context.Context, key string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.snapshotLocked(key)
	delete(s.carts, key)
	return prev
}

func (s *Store) snapshotLocked(key string) Cart {
	items := s.carts[key]
	out := Cart{Key: key, Items: make([]Item, len(items))}
	copy(out.Items, items)
	return out
}
