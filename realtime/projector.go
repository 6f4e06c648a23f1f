/*
projector.go - Store change feed -> resolved profile push

PURPOSE:
  Bridges the backing store's subscription channel to the hub. When the
  first observer for a member attaches, the projector subscribes to that
  member's document; every committed write (from any device) is
  re-resolved at read time and published to the member's room. When the
  last observer leaves, the subscription is torn down.

READ-TIME RESOLUTION:
  The raw document may carry stale tier fields - the rolling window moves
  with the clock, and the write may have come from an old client. The
  projector never trusts stored tier state: it normalizes and re-runs
  tier resolution before publishing, the same way the engine does on load.
  It does NOT write the healed values back; self-healing persists belong
  to the engine's read path alone.
*/
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/ledger"
)

// Projector manages per-member store subscriptions on behalf of the hub.
type Projector struct {
	store ledger.WatchableStore
	hub   *Hub
	rules ledger.Rules
	clock ledger.Clock
	log   *logrus.Logger

	mu   sync.Mutex
	subs map[ledger.MemberID]func()
}

// NewProjector wires the projector into the hub's join/leave callbacks.
func NewProjector(store ledger.WatchableStore, hub *Hub, rules ledger.Rules, log *logrus.Logger) *Projector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Projector{
		store: store,
		hub:   hub,
		rules: rules,
		clock: ledger.SystemClock(),
		log:   log,
	}
	p.subs = make(map[ledger.MemberID]func())
	hub.OnFirstJoin = p.watch
	hub.OnLastLeave = p.unwatch
	return p
}

// WithClock swaps the time source used for read-time resolution.
func (p *Projector) WithClock(c ledger.Clock) *Projector {
	p.clock = c
	return p
}

func (p *Projector) watch(id ledger.MemberID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[id]; ok {
		return
	}

	stop, err := p.store.Subscribe(context.Background(), id, func(doc *ledger.Profile) {
		p.publish(id, doc)
	})
	if err != nil {
		p.log.WithError(err).WithField("member", id).Warn("profile subscription failed")
		return
	}
	p.subs[id] = stop
	p.log.WithField("member", id).Debug("profile subscription opened")
}

func (p *Projector) unwatch(id ledger.MemberID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stop, ok := p.subs[id]; ok {
		stop()
		delete(p.subs, id)
		p.log.WithField("member", id).Debug("profile subscription closed")
	}
}

// Close tears down every open subscription.
func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, stop := range p.subs {
		stop()
		delete(p.subs, id)
	}
}

func (p *Projector) publish(id ledger.MemberID, doc *ledger.Profile) {
	now := p.clock.Now()
	view := ledger.Normalize(doc, ledger.Identity{ID: id}, p.rules, now)
	status := ledger.ResolveTier(view.History, now, p.rules.TierWindow, p.rules.Ladder)
	view.TierXP = status.ActiveXP
	view.Tier = status.Tier

	data, err := json.Marshal(view)
	if err != nil {
		p.log.WithError(err).WithField("member", id).Warn("profile encode failed")
		return
	}
	p.hub.Publish(id, TypeProfile, data)
}

// PublishCatalog pushes an offerable reward list to every observer. Wired
// to the catalog's change feed in cmd/server.
func (p *Projector) PublishCatalog(items any) {
	data, err := json.Marshal(items)
	if err != nil {
		p.log.WithError(err).Warn("catalog encode failed")
		return
	}
	p.hub.Broadcast(TypeCatalog, data)
}
