// Package store provides the in-memory RecordStore implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps whole profile documents in a map. It honors the optimistic
// write contract and, unlike a real local cache, also implements Subscribe
// so the realtime projection can be exercised without a remote store.
type Memory struct {
	mu       sync.RWMutex
	profiles map[ledger.MemberID]*ledger.Profile

	subMu   sync.Mutex
	nextSub int
	subs    map[ledger.MemberID]map[int]func(*ledger.Profile)
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[ledger.MemberID]*ledger.Profile),
		subs:     make(map[ledger.MemberID]map[int]func(*ledger.Profile)),
	}
}

func (m *Memory) Get(_ context.Context, id ledger.MemberID) (*ledger.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

// Put applies the conditional-write contract: version 1 inserts, version
// n replaces n-1, anything else conflicts.
func (m *Memory) Put(_ context.Context, p *ledger.Profile) error {
	m.mu.Lock()
	existing, ok := m.profiles[p.ID]
	switch {
	case !ok && p.Version != 1:
		m.mu.Unlock()
		return ledger.ErrConflict
	case ok && existing.Version != p.Version-1:
		m.mu.Unlock()
		return ledger.ErrConflict
	}
	stored := p.Clone()
	m.profiles[p.ID] = stored
	m.mu.Unlock()

	m.notify(stored)
	return nil
}

// Subscribe registers fn for every committed Put of the member's document.
// Callbacks run synchronously with their own clone.
func (m *Memory) Subscribe(_ context.Context, id ledger.MemberID, fn func(*ledger.Profile)) (func(), error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.nextSub++
	token := m.nextSub
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]func(*ledger.Profile))
	}
	m.subs[id][token] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs[id], token)
		if len(m.subs[id]) == 0 {
			delete(m.subs, id)
		}
	}, nil
}

func (m *Memory) notify(p *ledger.Profile) {
	m.subMu.Lock()
	fns := make([]func(*ledger.Profile), 0, len(m.subs[p.ID]))
	for _, fn := range m.subs[p.ID] {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(p.Clone())
	}
}

// ListMembers supports the background sweeper.
func (m *Memory) ListMembers(_ context.Context) ([]ledger.MemberID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ledger.MemberID, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var (
	_ ledger.WatchableStore = (*Memory)(nil)
	_ ledger.MemberLister   = (*Memory)(nil)
)
