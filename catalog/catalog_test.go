package catalog_test

import (
	"context"
	"testing"

	"github.com/warp/loyalty-engine/catalog"
)

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(n int64) *int64 { return &n }

// =============================================================================
// AVAILABILITY FILTER
// =============================================================================

func TestAvailable_LenientOnAbsentFields(t *testing.T) {
	// GIVEN: Items with missing, explicit-true, explicit-false flags
	// WHEN: Checking availability
	// THEN: Only explicit inactive or explicit zero stock excludes

	cases := []struct {
		name string
		item catalog.RewardItem
		want bool
	}{
		{"no flags at all", catalog.RewardItem{ID: "a"}, true},
		{"explicitly active", catalog.RewardItem{ID: "b", IsActive: boolPtr(true)}, true},
		{"explicitly inactive", catalog.RewardItem{ID: "c", IsActive: boolPtr(false)}, false},
		{"stock present", catalog.RewardItem{ID: "d", Stock: int64Ptr(3)}, true},
		{"stock zero", catalog.RewardItem{ID: "e", Stock: int64Ptr(0)}, false},
		{"stock negative", catalog.RewardItem{ID: "f", Stock: int64Ptr(-1)}, false},
		{"active but out of stock", catalog.RewardItem{ID: "g", IsActive: boolPtr(true), Stock: int64Ptr(0)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.Available(); got != tc.want {
				t.Errorf("Available() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterAvailable_PreservesOrder(t *testing.T) {
	items := []catalog.RewardItem{
		{ID: "keep-1"},
		{ID: "drop", IsActive: boolPtr(false)},
		{ID: "keep-2"},
	}

	out := catalog.FilterAvailable(items)

	if len(out) != 2 || out[0].ID != "keep-1" || out[1].ID != "keep-2" {
		t.Errorf("filtered = %v", out)
	}
}

// =============================================================================
// STATIC CATALOG
// =============================================================================

func TestStatic_ListFiltersGetDoesNot(t *testing.T) {
	// GIVEN: A catalog holding one deactivated item
	// WHEN: Listing and looking it up by id
	// THEN: List hides it, Get still finds it - a redemption against a
	//       just-deactivated item is the verifier's call

	cat := catalog.NewStatic(
		catalog.RewardItem{ID: "live", PointsCost: 100},
		catalog.RewardItem{ID: "retired", PointsCost: 200, IsActive: boolPtr(false)},
	)
	ctx := context.Background()

	items, err := cat.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "live" {
		t.Errorf("list = %v, want only the live item", items)
	}

	retired, err := cat.Get(ctx, "retired")
	if err != nil {
		t.Fatalf("get retired item: %v", err)
	}
	if retired.PointsCost != 200 {
		t.Errorf("cost = %d, want 200", retired.PointsCost)
	}
}

func TestStatic_GetMissing(t *testing.T) {
	cat := catalog.NewStatic(catalog.DefaultItems()...)

	_, err := cat.Get(context.Background(), "r999")
	if !catalog.IsNotFound(err) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStatic_Replace(t *testing.T) {
	cat := catalog.NewStatic(catalog.RewardItem{ID: "old"})

	cat.Replace([]catalog.RewardItem{{ID: "new-1"}, {ID: "new-2"}})

	items, err := cat.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("list has %d items, want 2", len(items))
	}
	if _, err := cat.Get(context.Background(), "old"); !catalog.IsNotFound(err) {
		t.Errorf("old item should be gone, got %v", err)
	}
}

func TestDefaultItems_AllOfferable(t *testing.T) {
	for _, it := range catalog.DefaultItems() {
		if !it.Available() {
			t.Errorf("seed item %s not offerable", it.ID)
		}
		if it.PointsCost <= 0 {
			t.Errorf("seed item %s has non-positive cost %d", it.ID, it.PointsCost)
		}
	}
}
