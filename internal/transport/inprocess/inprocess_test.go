package inprocess_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
	"github.com/streamspace/messagehub/internal/transport/inprocess"
)

func TestPairDeliversMessagesBothWays(t *testing.T) {
	server, client := inprocess.NewPair(inprocess.PairOptions{})
	ctx := context.Background()
	require.NoError(t, server.Initialize(ctx))
	require.NoError(t, client.Initialize(ctx))

	assert.Equal(t, server.ClientID(), client.ClientID())

	received := make(chan *protocol.HubMessage, 1)
	client.OnMessage(func(m *protocol.HubMessage) { received <- m })

	msg := protocol.NewEvent("s1", "chat.x", protocol.NewOptions{Data: "hi"})
	require.NoError(t, server.Send(ctx, msg))

	select {
	case got := <-received:
		assert.Equal(t, "hi", got.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPairCloneMessagesPreventsSharedMutation(t *testing.T) {
	server, client := inprocess.NewPair(inprocess.PairOptions{CloneMessages: true})
	ctx := context.Background()
	require.NoError(t, server.Initialize(ctx))
	require.NoError(t, client.Initialize(ctx))

	received := make(chan *protocol.HubMessage, 1)
	client.OnMessage(func(m *protocol.HubMessage) { received <- m })

	original := protocol.NewEvent("s1", "chat.x", protocol.NewOptions{Data: map[string]interface{}{"n": float64(1)}})
	require.NoError(t, server.Send(ctx, original))

	got := <-received
	gotData := got.Data.(map[string]interface{})
	gotData["n"] = float64(2)

	originalData := original.Data.(map[string]interface{})
	assert.Equal(t, float64(1), originalData["n"], "mutating the delivered clone must not affect the sender's copy")
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	server, _ := inprocess.NewPair(inprocess.PairOptions{})
	err := server.Send(context.Background(), protocol.NewPing("global", ""))
	require.Error(t, err)
}

func TestCloseInvokesOnClientDisconnect(t *testing.T) {
	disconnected := make(chan string, 1)
	server, client := inprocess.NewPair(inprocess.PairOptions{
		OnClientDisconnect: func(clientID string) { disconnected <- clientID },
	})
	ctx := context.Background()
	require.NoError(t, server.Initialize(ctx))
	require.NoError(t, client.Initialize(ctx))

	require.NoError(t, client.Close(ctx))

	select {
	case id := <-disconnected:
		assert.Equal(t, server.ClientID(), id)
	case <-time.After(time.Second):
		t.Fatal("expected OnClientDisconnect to fire")
	}
}

func TestBusFansOutExcludingSender(t *testing.T) {
	bus := inprocess.NewBus()
	ctx := context.Background()

	a, err := bus.Attach("a")
	require.NoError(t, err)
	b, err := bus.Attach("b")
	require.NoError(t, err)
	c, err := bus.Attach("c")
	require.NoError(t, err)
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, c.Initialize(ctx))

	bGot := make(chan *protocol.HubMessage, 1)
	cGot := make(chan *protocol.HubMessage, 1)
	b.OnMessage(func(m *protocol.HubMessage) { bGot <- m })
	c.OnMessage(func(m *protocol.HubMessage) { cGot <- m })

	require.NoError(t, a.Send(ctx, protocol.NewEvent("s", "sys.broadcast", protocol.NewOptions{})))

	select {
	case <-bGot:
	case <-time.After(time.Second):
		t.Fatal("b should have received the broadcast")
	}
	select {
	case <-cGot:
	case <-time.After(time.Second):
		t.Fatal("c should have received the broadcast")
	}
}

func TestBusRejectsDuplicateNames(t *testing.T) {
	bus := inprocess.NewBus()
	_, err := bus.Attach("dup")
	require.NoError(t, err)
	_, err = bus.Attach("dup")
	require.Error(t, err)
}

func TestBusDetachOnClose(t *testing.T) {
	bus := inprocess.NewBus()
	ctx := context.Background()
	a, err := bus.Attach("a")
	require.NoError(t, err)
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Close(ctx))

	// Re-attaching the same name must succeed once detached.
	_, err = bus.Attach("a")
	require.NoError(t, err)
	assert.Equal(t, transport.StateDisconnected, a.State())
}
