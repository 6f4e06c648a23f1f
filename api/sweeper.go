/*
sweeper.go - Background tier decay sweep

PURPOSE:
  Tier standing depends on wall-clock time alone: XP ages out of the
  rolling window without any write happening. Reads self-heal, but a
  member who never opens the app would keep a stale stored tier forever.
  The sweeper walks every known member on an interval and loads each
  profile through the engine, which persists the corrected tier when the
  stored one has drifted.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Uses the store's MemberLister capability when available; stores
    without it (pure remote caches) simply skip the sweep
  - LoadProfile is already idempotent, so overlapping sweeps are safe

USAGE:
  sweeper := NewTierSweeper(engine, lister, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/engine.go: LoadProfile (self-healing read)
  - ledger/store.go: MemberLister
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/ledger"
)

// TierSweeper periodically re-resolves every member's tier standing.
type TierSweeper struct {
	Engine        *ledger.Engine
	Lister        ledger.MemberLister
	CheckInterval time.Duration
	Enabled       bool

	log    *logrus.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTierSweeper creates a sweeper. Lister may be nil; the sweeper then
// stays idle.
func NewTierSweeper(engine *ledger.Engine, lister ledger.MemberLister, log *logrus.Logger) *TierSweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TierSweeper{
		Engine:        engine,
		Lister:        lister,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (ts *TierSweeper) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.Enabled {
		ts.log.Info("tier sweeper disabled, not starting")
		return
	}
	if ts.Lister == nil {
		ts.log.Info("store cannot enumerate members, tier sweeper idle")
		return
	}

	ts.ticker = time.NewTicker(ts.CheckInterval)
	ts.wg.Add(1)

	go ts.run()

	ts.log.WithField("interval", ts.CheckInterval.String()).Info("tier sweeper started")
}

// Stop stops the sweeper.
func (ts *TierSweeper) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.ticker != nil {
		ts.ticker.Stop()
		close(ts.stop)
		ts.wg.Wait()
		ts.log.Info("tier sweeper stopped")
	}
}

func (ts *TierSweeper) run() {
	defer ts.wg.Done()

	// Run immediately on start
	ts.sweep()

	for {
		select {
		case <-ts.ticker.C:
			ts.sweep()
		case <-ts.stop:
			return
		}
	}
}

func (ts *TierSweeper) sweep() {
	ctx := context.Background()

	members, err := ts.Lister.ListMembers(ctx)
	if err != nil {
		ts.log.WithError(err).Warn("tier sweep: listing members failed")
		return
	}

	swept := 0
	for _, id := range members {
		// LoadProfile persists the corrected tier when the stored one drifted.
		if _, err := ts.Engine.LoadProfile(ctx, id); err != nil {
			ts.log.WithError(err).WithField("member", id).Warn("tier sweep: load failed")
			continue
		}
		swept++
	}

	ts.log.WithFields(logrus.Fields{"members": len(members), "swept": swept}).Debug("tier sweep completed")
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ts *TierSweeper) RunNow() {
	ts.sweep()
}
