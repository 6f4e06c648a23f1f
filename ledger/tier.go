/*
tier.go - Rolling-window tier resolution

PURPOSE:
  Pure function from (eventHistory, now) to the member's active XP, tier,
  and the windowed history view. This is the only temporal rule in the
  system: XP silently falls out of the window as the clock moves, so the
  engine re-runs resolution on every load, not only on every mutation.

ALGORITHM:
  1. cutoff = now - window
  2. activeHistory = events with timestamp strictly after cutoff
  3. activeXp = sum of amounts for Earn events that are tier-eligible
  4. tier = highest ladder rung whose threshold <= activeXp (inclusive)

  Redeem events never reduce active XP. Spending points drops the balance,
  not the tier.

SEE ALSO:
  - engine.go: Calls Resolve after every mutation and on every load
  - normalize.go: Repairs history defaults before resolution runs
*/
package ledger

import "time"

// =============================================================================
// TIER LADDER
// =============================================================================

// TierThreshold is one rung: the minimum active XP for a tier.
type TierThreshold struct {
	Tier  Tier
	MinXP int64
}

// TierLadder is an ascending list of thresholds. The first rung should sit
// at zero so every member resolves to some tier.
type TierLadder []TierThreshold

// DefaultLadder returns the production ladder: Base at 0, Mid at 5000,
// Top at 15000.
func DefaultLadder() TierLadder {
	return TierLadder{
		{Tier: TierBase, MinXP: 0},
		{Tier: TierMid, MinXP: 5000},
		{Tier: TierTop, MinXP: 15000},
	}
}

// TierFor returns the highest tier whose threshold does not exceed xp.
// Comparison is inclusive: a member exactly at a threshold is promoted.
func (l TierLadder) TierFor(xp int64) Tier {
	tier := TierBase
	for _, rung := range l {
		if xp >= rung.MinXP {
			tier = rung.Tier
		}
	}
	return tier
}

// =============================================================================
// TIER STATUS - Result of a resolution pass
// =============================================================================

// TierStatus is the resolved view of a member's standing at one instant.
// ActiveHistory is the windowed view only; stored history is never pruned.
type TierStatus struct {
	ActiveXP      int64
	Tier          Tier
	ActiveHistory []LedgerEvent
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveTier computes the member's standing from the full event history.
// Events at or before the cutoff no longer count. Only Earn events flagged
// tier-eligible contribute; Redeem and ineligible events never do, even
// inside the window. Negative amounts (which Normalize should have already
// rejected into zero) are clamped so they cannot drag active XP down.
func ResolveTier(history []LedgerEvent, now time.Time, window time.Duration, ladder TierLadder) TierStatus {
	cutoff := now.Add(-window)

	active := make([]LedgerEvent, 0, len(history))
	var activeXP int64
	for _, ev := range history {
		if !ev.Timestamp.After(cutoff) {
			continue
		}
		active = append(active, ev)
		if ev.Kind != KindEarn || !ev.TierEligible {
			continue
		}
		if ev.Amount > 0 {
			activeXP += ev.Amount
		}
	}

	return TierStatus{
		ActiveXP:      activeXP,
		Tier:          ladder.TierFor(activeXP),
		ActiveHistory: active,
	}
}
