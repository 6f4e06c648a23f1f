package catalog

import (
	"context"
	"sync"
)

// =============================================================================
// STATIC CATALOG - Seeded in-memory implementation
// =============================================================================

// Static is a fixed in-memory catalog. Safe for concurrent use; Replace
// swaps the whole list at once for tests and dev seeding.
type Static struct {
	mu    sync.RWMutex
	items []RewardItem
}

// NewStatic creates a catalog with the given items.
func NewStatic(items ...RewardItem) *Static {
	return &Static{items: append([]RewardItem(nil), items...)}
}

// DefaultItems returns the seed catalog used in single-device mode.
func DefaultItems() []RewardItem {
	return []RewardItem{
		{ID: "r1", Title: "Free Milk Tea", Description: "Medium size. Classic favorite.", PointsCost: 500, Category: "Drink"},
		{ID: "r2", Title: "Free Pearl Topping", Description: "Add chewy pearls to any drink.", PointsCost: 200, Category: "Topping"},
		{ID: "r3", Title: "20.000 Discount", Description: "Min. spend 50.000.", PointsCost: 800, Category: "Discount"},
		{ID: "r4", Title: "Free Large Fresh Milk Tea", Description: "Large size with fresh milk.", PointsCost: 1200, Category: "Drink"},
	}
}

func (s *Static) List(_ context.Context) ([]RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterAvailable(s.items), nil
}

func (s *Static) Get(_ context.Context, id string) (*RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.items {
		if s.items[i].ID == id {
			item := s.items[i]
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

// Replace swaps the full item list.
func (s *Static) Replace(items []RewardItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]RewardItem(nil), items...)
}
