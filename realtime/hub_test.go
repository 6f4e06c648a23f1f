package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeClient builds a hub client without a websocket connection; the
// pumps are never started so send is read directly by the test.
func fakeClient(hub *Hub, id ledger.MemberID) *Client {
	return &Client{hub: hub, send: make(chan []byte, 16), MemberID: id}
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub delivery")
		return Message{}
	}
}

// =============================================================================
// HUB ROOM LIFECYCLE
// =============================================================================

func TestHub_FirstJoinLastLeaveFireOncePerRoom(t *testing.T) {
	// GIVEN: Two observers of the same member
	// WHEN: Both attach, then both detach
	// THEN: OnFirstJoin fires once on the first attach, OnLastLeave once on
	//       the last detach

	hub := NewHub(quietLogger())
	joins := make(chan ledger.MemberID, 4)
	leaves := make(chan ledger.MemberID, 4)
	hub.OnFirstJoin = func(id ledger.MemberID) { joins <- id }
	hub.OnLastLeave = func(id ledger.MemberID) { leaves <- id }

	go hub.Run()
	defer hub.Stop()

	c1 := fakeClient(hub, "m-1")
	c2 := fakeClient(hub, "m-1")

	hub.register <- c1
	assert.Equal(t, ledger.MemberID("m-1"), <-joins)
	assert.Equal(t, TypeWelcome, recvMessage(t, c1).Type)

	hub.register <- c2
	assert.Equal(t, TypeWelcome, recvMessage(t, c2).Type)
	select {
	case id := <-joins:
		t.Fatalf("second attach fired OnFirstJoin for %s", id)
	case <-time.After(100 * time.Millisecond):
	}

	hub.unregister <- c1
	select {
	case id := <-leaves:
		t.Fatalf("non-final detach fired OnLastLeave for %s", id)
	case <-time.After(100 * time.Millisecond):
	}

	hub.unregister <- c2
	assert.Equal(t, ledger.MemberID("m-1"), <-leaves)
}

func TestHub_PublishReachesRoomOnly(t *testing.T) {
	hub := NewHub(quietLogger())
	go hub.Run()
	defer hub.Stop()

	target := fakeClient(hub, "m-1")
	other := fakeClient(hub, "m-2")
	hub.register <- target
	hub.register <- other
	recvMessage(t, target) // welcome
	recvMessage(t, other)  // welcome

	hub.Publish("m-1", TypeProfile, json.RawMessage(`{"id":"m-1"}`))

	msg := recvMessage(t, target)
	assert.Equal(t, TypeProfile, msg.Type)
	assert.Equal(t, ledger.MemberID("m-1"), msg.MemberID)

	select {
	case data := <-other.send:
		t.Fatalf("other room received %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_BroadcastReachesEveryone(t *testing.T) {
	hub := NewHub(quietLogger())
	go hub.Run()
	defer hub.Stop()

	c1 := fakeClient(hub, "m-1")
	c2 := fakeClient(hub, "m-2")
	hub.register <- c1
	hub.register <- c2
	recvMessage(t, c1)
	recvMessage(t, c2)

	hub.Broadcast(TypeCatalog, json.RawMessage(`[]`))

	assert.Equal(t, TypeCatalog, recvMessage(t, c1).Type)
	assert.Equal(t, TypeCatalog, recvMessage(t, c2).Type)
}

// =============================================================================
// PROJECTOR
// =============================================================================

func TestProjector_PublishesResolvedProfileOnCommit(t *testing.T) {
	// GIVEN: An observer attached and the projector watching the store
	// WHEN: A profile write commits with stale tier fields
	// THEN: The observer receives a re-resolved view, not the stored values

	mem := store.NewMemory()
	hub := NewHub(quietLogger())
	rules := ledger.DefaultRules()
	clock := &ledger.FixedClock{T: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)}
	projector := NewProjector(mem, hub, rules, quietLogger()).WithClock(clock)
	defer projector.Close()

	go hub.Run()
	defer hub.Stop()

	c := fakeClient(hub, "m-1")
	hub.register <- c
	recvMessage(t, c) // welcome

	// The stored document claims Mid, but its only earn is out of window.
	doc := &ledger.Profile{
		ID:     "m-1",
		Tier:   ledger.TierMid,
		TierXP: 5000,
		History: []ledger.LedgerEvent{
			{
				ID:           "old",
				Timestamp:    clock.T.Add(-400 * 24 * time.Hour),
				Amount:       5000,
				Kind:         ledger.KindEarn,
				TierEligible: true,
			},
		},
		Version: 1,
	}
	require.NoError(t, mem.Put(context.Background(), doc))

	msg := recvMessage(t, c)
	assert.Equal(t, TypeProfile, msg.Type)

	var view ledger.Profile
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Equal(t, ledger.TierBase, view.Tier)
	assert.Equal(t, int64(0), view.TierXP)
	// The projector is read-only: the stored document keeps its stale tier.
	stored, err := mem.Get(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TierMid, stored.Tier)
}

func TestProjector_StopsWatchingAfterLastLeave(t *testing.T) {
	mem := store.NewMemory()
	hub := NewHub(quietLogger())
	projector := NewProjector(mem, hub, ledger.DefaultRules(), quietLogger())
	defer projector.Close()

	go hub.Run()
	defer hub.Stop()

	c := fakeClient(hub, "m-1")
	hub.register <- c
	recvMessage(t, c)

	// OnFirstJoin ran synchronously inside the hub loop; a subscription
	// must exist now.
	projector.mu.Lock()
	_, watching := projector.subs["m-1"]
	projector.mu.Unlock()
	assert.True(t, watching)

	hub.unregister <- c

	require.Eventually(t, func() bool {
		projector.mu.Lock()
		defer projector.mu.Unlock()
		_, still := projector.subs["m-1"]
		return !still
	}, 2*time.Second, 10*time.Millisecond)
}
