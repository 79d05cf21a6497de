package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/messagehub/internal/protocol"
)

type fakeConn struct {
	id   string
	open bool

	mu  sync.Mutex
	got []string
	err error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id, open: true} }

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
func (c *fakeConn) Send(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, data)
	return nil
}

func TestRegisterConnectionIsIdempotent(t *testing.T) {
	r := New(Config{})
	conn := newFakeConn("c1")

	id1 := r.RegisterConnection(conn)
	id2 := r.RegisterConnection(conn)

	assert.Equal(t, id1, id2)
	assert.Equal(t, []string{"c1"}, r.GetClientIDs())
}

func TestSubscribeAndRouteEvent(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	b := newFakeConn("b")
	r.RegisterConnection(a)
	r.RegisterConnection(b)

	require.NoError(t, r.Subscribe("sess1", "chat.message", "a"))
	require.NoError(t, r.Subscribe("sess1", "chat.message", "b"))

	msg := protocol.NewEvent("sess1", "chat.message", protocol.NewOptions{Data: "hi"})
	result := r.RouteEvent(msg)

	assert.Equal(t, 2, result.TotalSubscribers)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, result.TotalSubscribers, result.Sent+result.Failed)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestRouteEventCountsFailedClosedConnections(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	b := newFakeConn("b")
	r.RegisterConnection(a)
	r.RegisterConnection(b)
	require.NoError(t, r.Subscribe("s", "m.x", "a"))
	require.NoError(t, r.Subscribe("s", "m.x", "b"))

	b.open = false

	result := r.RouteEvent(protocol.NewEvent("s", "m.x", protocol.NewOptions{}))
	assert.Equal(t, 2, result.TotalSubscribers)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
}

func TestRouteEventRejectsNonEventMessages(t *testing.T) {
	r := New(Config{})
	result := r.RouteEvent(protocol.NewCall("s", "a.b", protocol.NewOptions{}))
	assert.Equal(t, RouteResult{}, result)
}

func TestUnregisterConnectionCascadesCleanup(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	r.RegisterConnection(a)
	require.NoError(t, r.Subscribe("s1", "m.x", "a"))
	require.NoError(t, r.Subscribe("s2", "m.y", "a"))

	r.UnregisterConnection("a")

	assert.Nil(t, r.GetClientByID("a"))
	assert.Equal(t, 0, r.GetSubscriptionCount("s1", "m.x"))
	assert.Equal(t, 0, r.GetSubscriptionCount("s2", "m.y"))
}

func TestRouteEventIsolatesSessions(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	r.RegisterConnection(a)
	require.NoError(t, r.Subscribe("s1", "user.created", "a"))

	result := r.RouteEvent(protocol.NewEvent("s2", "user.created", protocol.NewOptions{Data: map[string]string{"userId": "u1"}}))

	assert.Equal(t, 0, result.TotalSubscribers)
	assert.Empty(t, a.got)
}

func TestUnsubscribeRestoresSubscriptionCount(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	r.RegisterConnection(a)

	before := r.GetSubscriptionCount("s1", "m.x")
	require.NoError(t, r.Subscribe("s1", "m.x", "a"))
	require.Equal(t, before+1, r.GetSubscriptionCount("s1", "m.x"))

	r.UnsubscribeClient("s1", "m.x", "a")
	assert.Equal(t, before, r.GetSubscriptionCount("s1", "m.x"))
}

func TestSendToClientReportsDelivery(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	r.RegisterConnection(a)

	ok := r.SendToClient("a", protocol.NewEvent("s1", "m.x", protocol.NewOptions{}))
	assert.True(t, ok)
	assert.Len(t, a.got, 1)

	assert.False(t, r.SendToClient("unknown", protocol.NewEvent("s1", "m.x", protocol.NewOptions{})))

	a.open = false
	assert.False(t, r.SendToClient("a", protocol.NewEvent("s1", "m.x", protocol.NewOptions{})))
}

func TestSubscribeRejectsColonInKeys(t *testing.T) {
	r := New(Config{})
	err := r.Subscribe("bad:session", "m.x", "a")
	require.Error(t, err)
}

func TestBroadcastIgnoresSubscriptions(t *testing.T) {
	r := New(Config{})
	a := newFakeConn("a")
	b := newFakeConn("b")
	r.RegisterConnection(a)
	r.RegisterConnection(b)

	result := r.Broadcast(protocol.NewEvent("global", "sys.notice", protocol.NewOptions{}))
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 0, result.Failed)
}
