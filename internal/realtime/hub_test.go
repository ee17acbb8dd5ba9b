package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
	closed bool
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frames(t *testing.T) []frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame, 0, len(f.writes))
	for _, w := range f.writes {
		var fr frame
		require.NoError(t, json.Unmarshal(w, &fr))
		out = append(out, fr)
	}
	return out
}

func (f *fakeConn) countEvent(t *testing.T, event string) int {
	n := 0
	for _, fr := range f.frames(t) {
		if fr.Event == event {
			n++
		}
	}
	return n
}

// nil pool makes presence broadcasts synchronous, which keeps the
// assertions deterministic.
func newTestHub() *Hub { return NewHub(nil, nil, 0) }

func connect(h *Hub, user, session string) *fakeConn {
	c := &fakeConn{}
	h.Connect(&Session{ID: session, UserID: user, Conn: c})
	return c
}

func TestFirstSessionAnnouncesOnlineOnce(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "alice", "a1")

	bob := connect(h, "bob", "b1")
	assert.Equal(t, 1, alice.countEvent(t, "user.online"))

	// second tab for bob: no second announcement
	connect(h, "bob", "b2")
	assert.Equal(t, 1, alice.countEvent(t, "user.online"))

	// the connecting user does not hear their own announcement
	assert.Equal(t, 0, bob.countEvent(t, "user.online"))
}

func TestLastDisconnectAnnouncesOfflineOnce(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "alice", "a1")
	connect(h, "bob", "b1")
	connect(h, "bob", "b2")

	h.Disconnect("bob", "b1")
	assert.Equal(t, 0, alice.countEvent(t, "user.offline"), "non-last disconnect must be silent")

	h.Disconnect("bob", "b2")
	assert.Equal(t, 1, alice.countEvent(t, "user.offline"))

	// disconnecting an unknown session is a no-op
	h.Disconnect("bob", "b2")
	h.Disconnect("carol", "c9")
	assert.Equal(t, 1, alice.countEvent(t, "user.offline"))
}

func TestSendToUserReachesAllSessions(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "alice", "a1")
	c2 := connect(h, "alice", "a2")
	other := connect(h, "bob", "b1")

	h.SendToUser("alice", []byte(`{"event":"ticket.created"}`))
	assert.Len(t, c1.frames(t), 1)
	assert.Len(t, c2.frames(t), 1)
	assert.Equal(t, 0, other.countEvent(t, "ticket.created"))
}

func TestSendToUserPrunesOnlyDeadSession(t *testing.T) {
	h := newTestHub()
	dead := &fakeConn{fail: true}
	h.Connect(&Session{ID: "a1", UserID: "alice", Conn: dead})
	alive := connect(h, "alice", "a2")

	h.SendToUser("alice", []byte(`{"event":"tank.updated"}`))

	assert.True(t, dead.closed)
	assert.Len(t, alive.frames(t), 1)
	// alice still online via the surviving session, so no offline event anywhere
	assert.ElementsMatch(t, []string{"alice"}, h.OnlineUsers())
}

func TestSendToUserNobodyOnline(t *testing.T) {
	h := newTestHub()
	// deliberately lossy: no sessions, message is simply dropped
	h.SendToUser("ghost", []byte(`{"event":"ticket.created"}`))
}

func TestBroadcastExcludes(t *testing.T) {
	h := newTestHub()
	a := connect(h, "alice", "a1")
	b := connect(h, "bob", "b1")

	h.Broadcast([]byte(`{"event":"batch.created"}`), "alice")
	assert.Equal(t, 0, a.countEvent(t, "batch.created"))
	assert.Equal(t, 1, b.countEvent(t, "batch.created"))
}

func TestRoomLifecycle(t *testing.T) {
	h := newTestHub()
	a := connect(h, "alice", "a1")
	b := connect(h, "bob", "b1")
	c := connect(h, "carol", "c1")

	h.JoinRoom("hatchery", "alice")
	h.JoinRoom("hatchery", "bob")

	h.SendToRoom("hatchery", []byte(`{"event":"feeding.logged"}`))
	assert.Equal(t, 1, a.countEvent(t, "feeding.logged"))
	assert.Equal(t, 1, b.countEvent(t, "feeding.logged"))
	assert.Equal(t, 0, c.countEvent(t, "feeding.logged"))

	// membership survives a disconnect
	h.Disconnect("alice", "a1")
	assert.ElementsMatch(t, []string{"alice", "bob"}, h.RoomMembers("hatchery"))

	h.LeaveRoom("hatchery", "alice")
	h.LeaveRoom("hatchery", "bob")
	assert.Nil(t, h.RoomMembers("hatchery"), "emptied room must be discarded")

	h.LeaveRoom("hatchery", "nobody")
}

func TestCloseDrainsPoolAndClosesConns(t *testing.T) {
	pool := NewTaskPool(2, 16, nil)
	h := NewHub(nil, pool, 0)
	conns := make([]*fakeConn, 0, 4)
	for i := 0; i < 4; i++ {
		c := connect(h, fmt.Sprintf("u%d", i), fmt.Sprintf("s%d", i))
		conns = append(conns, c)
	}

	h.Close()
	for _, c := range conns {
		assert.True(t, c.closed)
	}
	assert.Empty(t, h.OnlineUsers())
}
