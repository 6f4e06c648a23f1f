/*
store.go - Persistence contract for member profiles

PURPOSE:
  Defines the interface between the engine and the backing store. The
  engine is written only against Get and Put; it never assumes an
  adapter's consistency model beyond read-your-own-writes from the same
  caller.

SINGLE-DOCUMENT ATOMICITY:
  Every engine operation is one read-modify-write cycle ending in exactly
  one Put of the whole profile document. Adapters must make that one write
  atomic: either the new document lands in full or the prior state is
  untouched. The engine never issues two writes for one operation.

OPTIMISTIC CONCURRENCY:
  Put is a conditional write. The engine bumps Version before calling Put;
  adapters persist only if the stored version equals Version-1 (or the
  document is absent and Version is 1), returning ErrConflict otherwise.
  Blind last-write-wins overwrites are not part of this contract.

SUBSCRIPTIONS:
  WatchableStore adds a push channel for external observers (the realtime
  projection). The engine itself never consults it - it never waits for
  its own writes to be echoed back.

IMPLEMENTATIONS:
  - ledger/store (memory): tests and single-process dev
  - store/sqlite: local single-device cache
  - store/mongo: remote multi-device store with change streams

SEE ALSO:
  - engine.go: The only caller of Get/Put
  - realtime/projector.go: The only caller of Subscribe
*/
package ledger

import "context"

// RecordStore is the minimal persistence contract the engine requires.
type RecordStore interface {
	// Get returns the stored profile, or (nil, nil) when no document
	// exists for the member. Absence is not an error.
	Get(ctx context.Context, id MemberID) (*Profile, error)

	// Put atomically persists the whole document. See the optimistic
	// concurrency contract above. A Put that returns successfully is
	// immediately visible to a subsequent Get from the same caller.
	Put(ctx context.Context, p *Profile) error
}

// WatchableStore is implemented by adapters that can push change
// notifications. Delivery is asynchronous, best-effort, and out-of-band
// from any specific writer - never a write acknowledgment.
type WatchableStore interface {
	RecordStore

	// Subscribe registers fn for every committed change to the member's
	// document, from any device or caller. The returned function cancels
	// the subscription.
	Subscribe(ctx context.Context, id MemberID, fn func(*Profile)) (func(), error)
}

// MemberLister is an optional capability used by the background sweeper to
// walk known members. Adapters that cannot enumerate simply don't
// implement it and the sweeper stays idle.
type MemberLister interface {
	ListMembers(ctx context.Context) ([]MemberID, error)
}
