/*
Package catalog provides the reward catalog the ledger engine redeems
against.

PURPOSE:
  Read-mostly reference data: reward definitions and point costs. The
  engine treats this as a price list - it looks up costs and never writes.

AVAILABILITY:
  Items carry optional IsActive and Stock fields. Filtering is lenient on
  purpose: only items explicitly marked inactive, or explicitly at zero
  stock, are excluded. Documents written before those fields existed keep
  flowing through.

IMPLEMENTATIONS:
  - Static: seeded in-memory catalog (dev, tests, single-device mode)
  - Mongo:  collection-backed with a redis read-through cache and a
            change-stream watch feed (mongo.go)
*/
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a reward id has no catalog entry.
var ErrNotFound = errors.New("catalog entry not found")

// IsNotFound reports whether the error is a missing-entry lookup.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// =============================================================================
// REWARD ITEM
// =============================================================================

// RewardItem is one redeemable reward. IsActive and Stock are pointers so
// that documents missing the fields stay distinguishable from explicit
// false/zero.
type RewardItem struct {
	ID          string `json:"id" bson:"_id"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	PointsCost  int64  `json:"pointsCost" bson:"points_cost"`
	Category    string `json:"category,omitempty" bson:"category,omitempty"`
	ImageURL    string `json:"imageURL,omitempty" bson:"image_url,omitempty"`
	IsActive    *bool  `json:"isActive,omitempty" bson:"is_active,omitempty"`
	Stock       *int64 `json:"stock,omitempty" bson:"stock,omitempty"`
}

// Available reports whether the item should be offered. Absent fields pass.
func (r RewardItem) Available() bool {
	if r.IsActive != nil && !*r.IsActive {
		return false
	}
	if r.Stock != nil && *r.Stock <= 0 {
		return false
	}
	return true
}

// FilterAvailable returns the offerable subset, preserving order.
func FilterAvailable(items []RewardItem) []RewardItem {
	out := make([]RewardItem, 0, len(items))
	for _, it := range items {
		if it.Available() {
			out = append(out, it)
		}
	}
	return out
}

// =============================================================================
// CATALOG CONTRACT
// =============================================================================

// Catalog is the engine-facing lookup surface. Read-only.
type Catalog interface {
	// List returns the offerable items.
	List(ctx context.Context) ([]RewardItem, error)

	// Get returns the item by id, or ErrNotFound. Get does not apply the
	// availability filter - a redemption against a just-deactivated item
	// is the verifier's call, not a lookup miss.
	Get(ctx context.Context, id string) (*RewardItem, error)
}

// Watchable is implemented by catalogs that can push change notifications
// of the offerable list to observers.
type Watchable interface {
	Catalog

	// Watch registers fn for every catalog change. The returned function
	// cancels the subscription.
	Watch(ctx context.Context, fn func([]RewardItem)) (func(), error)
}
