/*
Package ledger provides the loyalty ledger and membership tier engine.

PURPOSE:
  This package contains the data model and orchestration logic for a
  loyalty-card program: XP accrual from monetary spend, rolling-window
  tier resolution, and the voucher lifecycle (issue, expire, consume).

KEY CONCEPTS IN THIS FILE (types.go):
  - Profile: One document per member - balances, tier, history, vouchers
  - LedgerEvent: An immutable record of one balance-affecting occurrence
  - Voucher: A single-use, time-bounded redemption receipt
  - Tier/Role: Closed enums resolved by dedicated functions, never ad hoc

DESIGN PRINCIPLES:
  1. Immutability: Events are appended, never edited or deleted
  2. Derivation: TierXP and Tier are always recomputed, never hand-set
  3. Single document: Every mutation is one atomic profile write
  4. Precision: Monetary amounts use decimal.Decimal; XP is integral

USAGE:
  engine := ledger.NewEngine(store, cat, ledger.DefaultRules())
  profile, err := engine.Earn(ctx, "m-81234", decimal.NewFromInt(500000), ledger.EarnOptions{})

SEE ALSO:
  - tier.go: Rolling-window tier resolution
  - engine.go: Earn / Redeem / ConsumeVoucher orchestration
  - store.go: RecordStore persistence contract
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type EventID string
type VoucherID string

// =============================================================================
// TIER - Membership level derived from a rolling XP window
// =============================================================================

type Tier string

const (
	TierBase Tier = "Base"
	TierMid  Tier = "Mid"
	TierTop  Tier = "Top"
)

// =============================================================================
// ROLE - Closed enum; unknown stored values collapse to RoleMember
// =============================================================================

type Role string

const (
	RoleMember Role = "member"
	RoleTrial  Role = "trial"
	RoleAdmin  Role = "admin"
	RoleMaster Role = "master"
)

// allowedRoles is the single allow-list for role resolution.
// Role strings found in storage but not listed here are treated as RoleMember.
var allowedRoles = map[Role]bool{
	RoleMember: true,
	RoleTrial:  true,
	RoleAdmin:  true,
	RoleMaster: true,
}

// =============================================================================
// LEDGER EVENT - Immutable record of one balance-affecting occurrence
// =============================================================================

type EventKind string

const (
	KindEarn   EventKind = "earn"
	KindRedeem EventKind = "redeem"
)

// LedgerEvent records one earn or redeem. Amount is the XP magnitude; the
// sign is implied by Kind. Redeem events are never tier-eligible - the
// engine and Normalize both force this.
type LedgerEvent struct {
	ID             EventID   `json:"id" bson:"id"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	Amount         int64     `json:"amount" bson:"amount"`
	Kind           EventKind `json:"kind" bson:"kind"`
	TierEligible   bool      `json:"tierEligible" bson:"tier_eligible"`
	Context        string    `json:"context,omitempty" bson:"context,omitempty"`
	Location       string    `json:"location,omitempty" bson:"location,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty" bson:"idempotency_key,omitempty"`
}

// =============================================================================
// VOUCHER - Single-use, time-bounded redemption receipt
// =============================================================================

// Voucher is created only by a successful redemption and never outlives
// its profile. "Expired" is a time-derived state, not a stored flag.
type Voucher struct {
	ID             VoucherID `json:"id" bson:"id"`
	RewardID       string    `json:"rewardId" bson:"reward_id"`
	Title          string    `json:"title" bson:"title"`
	Code           string    `json:"code" bson:"code"`
	RedeemedAt     time.Time `json:"redeemedAt" bson:"redeemed_at"`
	ExpiresAt      time.Time `json:"expiresAt" bson:"expires_at"`
	IsUsed         bool      `json:"isUsed" bson:"is_used"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty" bson:"idempotency_key,omitempty"`
}

// Expired reports whether the voucher's validity window has passed.
// A used voucher is reported as used, not expired, regardless of time.
func (v Voucher) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// Active reports whether the voucher can still be consumed.
func (v Voucher) Active(now time.Time) bool {
	return !v.IsUsed && !v.Expired(now)
}

// =============================================================================
// PROFILE - One document per member
// =============================================================================

// Profile is the single persisted document for a member. Identity fields are
// owned by the profile-edit collaborator; balances, tier, history, and
// vouchers are owned by the engine.
//
// Version supports optimistic concurrency: every successful write bumps it,
// and adapters reject writes whose base version no longer matches.
type Profile struct {
	ID          MemberID  `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	PhoneNumber string    `json:"phoneNumber" bson:"phone_number"`
	Email       string    `json:"email,omitempty" bson:"email,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty" bson:"photo_url,omitempty"`
	JoinedAt    time.Time `json:"joinedAt" bson:"joined_at"`
	Role        Role      `json:"role" bson:"role"`

	PointBalance   int64 `json:"pointBalance" bson:"point_balance"`
	LifetimePoints int64 `json:"lifetimePoints" bson:"lifetime_points"`
	TierXP         int64 `json:"tierXp" bson:"tier_xp"`
	Tier           Tier  `json:"tier" bson:"tier"`

	// History is append-only and retained in full. The rolling-window view
	// used for tier math is computed in memory; see ResolveTier.
	History  []LedgerEvent `json:"history" bson:"history"`
	Vouchers []Voucher     `json:"vouchers" bson:"vouchers"`

	Version   int64     `json:"version" bson:"version"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// VoucherByID returns the voucher with the given id, or nil.
func (p *Profile) VoucherByID(id VoucherID) *Voucher {
	for i := range p.Vouchers {
		if p.Vouchers[i].ID == id {
			return &p.Vouchers[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Store adapters hand out clones so callers can
// never mutate shared state behind the engine's back.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.History = append([]LedgerEvent(nil), p.History...)
	cp.Vouchers = append([]Voucher(nil), p.Vouchers...)
	return &cp
}

// =============================================================================
// IDENTITY - Fallback identity used when materializing missing profiles
// =============================================================================

// Identity carries the fields the auth collaborator knows about a member
// before any profile document exists.
type Identity struct {
	ID          MemberID
	Name        string
	PhoneNumber string
	Email       string
}

// IdentityPatch updates identity fields only. Zero-valued fields are left
// untouched; the engine never lets a patch reach balances or history.
type IdentityPatch struct {
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// =============================================================================
// RULES - Program constants, defaulted to the production ruleset
// =============================================================================

// Rules holds the program constants. DefaultRules matches the deployed
// program: 1 XP per 100 currency units, a 365-day tier window, and 30-day
// voucher validity.
type Rules struct {
	// ConversionRate is the currency-per-XP divisor. Earned XP is
	// floor(amount / ConversionRate).
	ConversionRate decimal.Decimal

	// TierWindow is the rolling lookback for tier-eligible XP.
	TierWindow time.Duration

	// VoucherValidity is the lifetime of an issued voucher.
	VoucherValidity time.Duration

	// Ladder maps active XP to a tier. Must be ascending by MinXP.
	Ladder TierLadder

	// AdminIDs are member ids always resolved to RoleAdmin.
	AdminIDs []MemberID

	// LargePurchase is the monetary threshold above which an earn with no
	// explicit context is labeled as a purchase rather than a top-up.
	LargePurchase decimal.Decimal

	// DefaultLocation is the provenance applied to events created without one.
	DefaultLocation string
}

const (
	defaultConversionRate  = 100
	defaultTierWindowDays  = 365
	defaultVoucherDays     = 30
	defaultLargePurchase   = 50000
	defaultLocation        = "Loyalty App"
	defaultEarnContext     = "Drink Purchase"
	topUpEarnContext       = "Top Up"
	defaultRedeemContext   = "Reward Redeem"
)

func DefaultRules() Rules {
	return Rules{
		ConversionRate:  decimal.NewFromInt(defaultConversionRate),
		TierWindow:      defaultTierWindowDays * 24 * time.Hour,
		VoucherValidity: defaultVoucherDays * 24 * time.Hour,
		Ladder:          DefaultLadder(),
		LargePurchase:   decimal.NewFromInt(defaultLargePurchase),
		DefaultLocation: defaultLocation,
	}
}

// =============================================================================
// CLOCK - Time seam for deterministic tests
// =============================================================================

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// FixedClock is a settable clock for tests and simulations.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

// Advance moves the clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
