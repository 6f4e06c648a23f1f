/*
normalize.go - Single place where profile defaults are decided

PURPOSE:
  Historical profile documents accumulated fields incrementally, and the
  store may hand back documents missing anything added after they were
  written. Normalize is the ONLY place defaults are reconstructed - call
  sites never apply ad hoc fallbacks. The engine runs it once on load and
  once before every persist.

WHAT IT REPAIRS:
  - Identity fields from the auth fallback
  - Zero balances, Base tier, empty history/vouchers for new profiles
  - LifetimePoints backfilled from PointBalance for pre-lifetime documents
  - Per-event kind/context/location defaults
  - The Redeem-is-never-tier-eligible invariant (forced, not trusted)
  - Role resolution against the closed allow-list

IDEMPOTENCE:
  Normalize(Normalize(p)) == Normalize(p). Tests rely on this.
*/
package ledger

import "time"

// Normalize returns a repaired copy of the stored profile. A nil profile
// materializes a fresh default document for the fallback identity -
// creation-on-first-access is not an error.
func Normalize(p *Profile, fallback Identity, rules Rules, now time.Time) *Profile {
	out := p.Clone()
	if out == nil {
		out = &Profile{}
	}

	if out.ID == "" {
		out.ID = fallback.ID
	}
	if out.Name == "" {
		out.Name = fallback.Name
	}
	if out.Name == "" {
		out.Name = "Member"
	}
	if out.PhoneNumber == "" {
		out.PhoneNumber = fallback.PhoneNumber
	}
	if out.Email == "" {
		out.Email = fallback.Email
	}
	if out.JoinedAt.IsZero() {
		out.JoinedAt = now
	}

	if out.PointBalance < 0 {
		out.PointBalance = 0
	}
	// Pre-lifetime documents tracked only the spendable balance.
	if out.LifetimePoints < out.PointBalance {
		out.LifetimePoints = out.PointBalance
	}

	if out.History == nil {
		out.History = []LedgerEvent{}
	}
	for i := range out.History {
		normalizeEvent(&out.History[i], rules)
	}
	if out.Vouchers == nil {
		out.Vouchers = []Voucher{}
	}

	out.Role = ResolveRole(out.Role, out.ID, rules.AdminIDs)
	if out.Tier == "" {
		out.Tier = TierBase
	}

	return out
}

func normalizeEvent(ev *LedgerEvent, rules Rules) {
	if ev.Kind == "" {
		// Records predating the kind field were all earns, written before
		// tier eligibility existed; they counted toward tier then and
		// still do.
		ev.Kind = KindEarn
		ev.TierEligible = true
	}
	if ev.Kind == KindRedeem {
		ev.TierEligible = false
	}
	if ev.Context == "" {
		if ev.Kind == KindRedeem {
			ev.Context = defaultRedeemContext
		} else {
			ev.Context = defaultEarnContext
		}
	}
	if ev.Location == "" {
		ev.Location = rules.DefaultLocation
	}
}

// ResolveRole is the single role-resolution function. Ids on the admin
// allow-list always resolve to RoleAdmin; stored values outside the closed
// enum collapse to RoleMember.
func ResolveRole(stored Role, id MemberID, adminIDs []MemberID) Role {
	for _, admin := range adminIDs {
		if id == admin {
			return RoleAdmin
		}
	}
	if stored == "" || !allowedRoles[stored] {
		return RoleMember
	}
	return stored
}
