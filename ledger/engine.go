/*
engine.go - Ledger engine orchestration

PURPOSE:
  Orchestrates every mutation of a member's profile: load, validate,
  append event, recompute tier, persist. One operation, one atomic
  document write.

OPERATIONS:
  Earn:           monetary amount -> XP credit + earn event
  Redeem:         point spend -> voucher issuance + redeem event
  ConsumeVoucher: one-way Used transition, balance untouched
  LoadProfile:    self-healing read (tier decay persisted on load)
  UpdateIdentity: profile-edit collaborator path, identity fields only

IDEMPOTENCY:
  Earn and Redeem accept a caller-supplied idempotency key. A repeated key
  returns the prior outcome without reapplying the delta, which makes
  retry-on-timeout safe. Without a key, retries can double-credit or
  double-charge - that is the caller's risk to take.

CONCURRENCY:
  At most one active caller per member is expected. The engine still bumps
  the document version on every write so that a concurrent writer from
  another device surfaces as ErrConflict instead of a silent lost update.
  The engine performs no automatic retry; failed operations leave prior
  state untouched.

SEE ALSO:
  - tier.go: Resolution run after every mutation and on every load
  - normalize.go: Defaulting run on load and before every persist
  - store.go: Persistence contract
*/
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/catalog"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies the loyalty program rules against a RecordStore.
type Engine struct {
	store   RecordStore
	catalog catalog.Catalog
	rules   Rules
	clock   Clock
}

// NewEngine creates an engine. A nil clock falls back to the wall clock.
func NewEngine(store RecordStore, cat catalog.Catalog, rules Rules) *Engine {
	return &Engine{
		store:   store,
		catalog: cat,
		rules:   rules,
		clock:   SystemClock(),
	}
}

// WithClock swaps the time source. Tests use this to move the rolling
// window without sleeping.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// Rules exposes the active ruleset (read-only by convention).
func (e *Engine) Rules() Rules { return e.rules }

// Now reports the engine's current time, so callers deriving wire fields
// (voucher expiry flags) agree with the engine's clock.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// =============================================================================
// LOAD
// =============================================================================

// LoadProfile returns the member's resolved profile. A missing document
// materializes a default profile rather than failing. Because the tier
// window moves with wall-clock time alone, tier standing is re-derived on
// every load; if the stored values drifted, the corrected document is
// persisted before returning (self-healing read).
func (e *Engine) LoadProfile(ctx context.Context, id MemberID) (*Profile, error) {
	return e.loadProfileAs(ctx, Identity{ID: id})
}

// LoadProfileAs is LoadProfile with an identity fallback from the auth
// collaborator, used to seed name/phone on first access.
func (e *Engine) LoadProfileAs(ctx context.Context, who Identity) (*Profile, error) {
	return e.loadProfileAs(ctx, who)
}

func (e *Engine) loadProfileAs(ctx context.Context, who Identity) (*Profile, error) {
	now := e.clock.Now()

	stored, err := e.store.Get(ctx, who.ID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", who.ID, err)
	}

	p := Normalize(stored, who, e.rules, now)
	status := ResolveTier(p.History, now, e.rules.TierWindow, e.rules.Ladder)

	dirty := stored == nil ||
		p.TierXP != status.ActiveXP ||
		p.Tier != status.Tier ||
		p.Role != roleOf(stored)

	p.TierXP = status.ActiveXP
	p.Tier = status.Tier

	if dirty {
		if err := e.persist(ctx, p, now); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func roleOf(p *Profile) Role {
	if p == nil {
		return ""
	}
	return p.Role
}

// =============================================================================
// EARN
// =============================================================================

// EarnOptions carries the optional provenance of an earn.
type EarnOptions struct {
	Context        string
	Location       string
	IdempotencyKey string
}

// Earn converts a monetary amount into XP, appends an earn event, and
// credits both the spendable balance and the lifetime total. The XP delta
// is floor(amount / conversion rate); a spend below the rate earns zero
// XP but is still recorded.
func (e *Engine) Earn(ctx context.Context, id MemberID, amount decimal.Decimal, opts EarnOptions) (*Profile, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}

	now := e.clock.Now()
	p, err := e.loadNormalized(ctx, id, now)
	if err != nil {
		return nil, err
	}

	if opts.IdempotencyKey != "" {
		if hasEventKey(p.History, opts.IdempotencyKey) {
			return e.resolveView(p, now), nil
		}
	}

	earned := amount.Div(e.rules.ConversionRate).Floor().IntPart()

	evCtx := opts.Context
	if evCtx == "" {
		evCtx = topUpEarnContext
		if amount.GreaterThanOrEqual(e.rules.LargePurchase) {
			evCtx = defaultEarnContext
		}
	}

	p.History = append(p.History, LedgerEvent{
		ID:             EventID("xp_" + uuid.NewString()),
		Timestamp:      now,
		Amount:         earned,
		Kind:           KindEarn,
		TierEligible:   true,
		Context:        evCtx,
		Location:       opts.Location,
		IdempotencyKey: opts.IdempotencyKey,
	})
	p.PointBalance += earned
	p.LifetimePoints += earned

	status := ResolveTier(p.History, now, e.rules.TierWindow, e.rules.Ladder)
	p.TierXP = status.ActiveXP
	p.Tier = status.Tier

	if err := e.persist(ctx, p, now); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// RedeemOptions carries the optional idempotency key of a redemption.
type RedeemOptions struct {
	IdempotencyKey string
}

// Redeem spends points against a catalog reward and issues a voucher. The
// balance decrement, the redeem event, and the voucher creation land in a
// single document write - there is no observable state where one exists
// without the others.
//
// Redeem events never count toward the tier window: spending points drops
// the balance, not the tier.
func (e *Engine) Redeem(ctx context.Context, id MemberID, rewardID string, opts RedeemOptions) (*Voucher, error) {
	reward, err := e.catalog.Get(ctx, rewardID)
	if err != nil {
		if catalog.IsNotFound(err) {
			return nil, fmt.Errorf("reward %s: %w", rewardID, ErrRewardNotFound)
		}
		return nil, fmt.Errorf("catalog lookup %s: %w", rewardID, err)
	}

	now := e.clock.Now()
	p, err := e.loadNormalized(ctx, id, now)
	if err != nil {
		return nil, err
	}

	if opts.IdempotencyKey != "" {
		if v := voucherByKey(p.Vouchers, opts.IdempotencyKey); v != nil {
			return v, nil
		}
	}

	if p.PointBalance < reward.PointsCost {
		return nil, &InsufficientBalanceError{
			MemberID:  id,
			RewardID:  rewardID,
			Available: p.PointBalance,
			Cost:      reward.PointsCost,
		}
	}

	voucher := Voucher{
		ID:             VoucherID("v_" + uuid.NewString()),
		RewardID:       reward.ID,
		Title:          reward.Title,
		Code:           newVoucherCode(),
		RedeemedAt:     now,
		ExpiresAt:      now.Add(e.rules.VoucherValidity),
		IsUsed:         false,
		IdempotencyKey: opts.IdempotencyKey,
	}

	p.PointBalance -= reward.PointsCost
	p.History = append(p.History, LedgerEvent{
		ID:             EventID("xp_" + uuid.NewString()),
		Timestamp:      now,
		Amount:         reward.PointsCost,
		Kind:           KindRedeem,
		TierEligible:   false,
		Context:        defaultRedeemContext,
		IdempotencyKey: opts.IdempotencyKey,
	})
	p.Vouchers = append(p.Vouchers, voucher)

	status := ResolveTier(p.History, now, e.rules.TierWindow, e.rules.Ladder)
	p.TierXP = status.ActiveXP
	p.Tier = status.Tier

	if err := e.persist(ctx, p, now); err != nil {
		return nil, err
	}
	return &voucher, nil
}

// =============================================================================
// CONSUME
// =============================================================================

// ConsumeVoucher marks a voucher as used. The transition is one-way: a
// used voucher stays used, and an expired voucher can never become used,
// even if IsUsed is still false. The point spend already happened at
// redemption time, so the balance is untouched.
func (e *Engine) ConsumeVoucher(ctx context.Context, id MemberID, voucherID VoucherID) (*Profile, error) {
	now := e.clock.Now()
	p, err := e.loadNormalized(ctx, id, now)
	if err != nil {
		return nil, err
	}

	v := p.VoucherByID(voucherID)
	if v == nil {
		return nil, fmt.Errorf("voucher %s: %w", voucherID, ErrVoucherNotFound)
	}
	if v.IsUsed {
		return nil, &VoucherStateError{VoucherID: voucherID, Reason: ErrVoucherAlreadyUsed}
	}
	if v.Expired(now) {
		return nil, &VoucherStateError{VoucherID: voucherID, Reason: ErrVoucherExpired}
	}

	v.IsUsed = true

	status := ResolveTier(p.History, now, e.rules.TierWindow, e.rules.Ladder)
	p.TierXP = status.ActiveXP
	p.Tier = status.Tier

	if err := e.persist(ctx, p, now); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// IDENTITY
// =============================================================================

// UpdateIdentity is the profile-edit collaborator path. It touches identity
// fields only; balances, history, and vouchers cannot be reached from here.
func (e *Engine) UpdateIdentity(ctx context.Context, id MemberID, patch IdentityPatch) (*Profile, error) {
	now := e.clock.Now()
	p, err := e.loadNormalized(ctx, id, now)
	if err != nil {
		return nil, err
	}

	if patch.Name != "" {
		p.Name = patch.Name
	}
	if patch.PhoneNumber != "" {
		p.PhoneNumber = patch.PhoneNumber
	}
	if patch.Email != "" {
		p.Email = patch.Email
	}
	if patch.PhotoURL != "" {
		p.PhotoURL = patch.PhotoURL
	}

	if err := e.persist(ctx, p, now); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// INTERNAL
// =============================================================================

// loadNormalized reads and repairs the profile without the self-healing
// write; mutating operations persist exactly once, at the end.
func (e *Engine) loadNormalized(ctx context.Context, id MemberID, now time.Time) (*Profile, error) {
	stored, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	return Normalize(stored, Identity{ID: id}, e.rules, now), nil
}

// resolveView refreshes the derived fields without persisting. Used on
// idempotent replays where no write should happen.
func (e *Engine) resolveView(p *Profile, now time.Time) *Profile {
	status := ResolveTier(p.History, now, e.rules.TierWindow, e.rules.Ladder)
	p.TierXP = status.ActiveXP
	p.Tier = status.Tier
	return p
}

// persist normalizes once more, bumps the version, and issues the single
// atomic write for this operation.
func (e *Engine) persist(ctx context.Context, p *Profile, now time.Time) error {
	repaired := Normalize(p, Identity{ID: p.ID}, e.rules, now)
	repaired.TierXP = p.TierXP
	repaired.Tier = p.Tier
	*p = *repaired

	p.Version++
	p.UpdatedAt = now
	if err := e.store.Put(ctx, p); err != nil {
		p.Version--
		return fmt.Errorf("persist profile %s: %w", p.ID, err)
	}
	return nil
}

func hasEventKey(history []LedgerEvent, key string) bool {
	for _, ev := range history {
		if ev.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func voucherByKey(vouchers []Voucher, key string) *Voucher {
	for i := range vouchers {
		if vouchers[i].IdempotencyKey == key {
			return &vouchers[i]
		}
	}
	return nil
}

// =============================================================================
// VOUCHER CODES
// =============================================================================

const (
	voucherCodePrefix  = "VC"
	voucherCodeLength  = 5
	voucherCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// newVoucherCode returns a cashier-presentable code, e.g. "VC-7KQ2M".
// The charset drops lookalike characters (O/0, I/1).
func newVoucherCode() string {
	buf := make([]byte, voucherCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken; fall back
		// to a uuid-derived code rather than aborting the redemption.
		u := uuid.NewString()
		for i := 0; i < voucherCodeLength; i++ {
			buf[i] = u[i]
		}
	}
	for i, b := range buf {
		buf[i] = voucherCodeCharset[int(b)%len(voucherCodeCharset)]
	}
	return voucherCodePrefix + "-" + string(buf)
}
