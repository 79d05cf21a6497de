package hub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/messagehub/internal/hub"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport/inprocess"
)

func TestPingTriggersExactlyOnePong(t *testing.T) {
	serverTransport, clientTransport := inprocess.NewPair(inprocess.PairOptions{})
	require.NoError(t, serverTransport.Initialize(context.Background()))
	require.NoError(t, clientTransport.Initialize(context.Background()))

	server := hub.New(hub.DefaultConfig())
	require.NoError(t, server.RegisterTransport(serverTransport))
	defer server.Stop()

	// The client side stays hub-less so every frame the server sends back is
	// observable raw.
	replies := make(chan *protocol.HubMessage, 4)
	clientTransport.OnMessage(func(m *protocol.HubMessage) { replies <- m })

	ping := protocol.NewPing("global", "")
	require.NoError(t, clientTransport.Send(context.Background(), ping))

	select {
	case m := <-replies:
		assert.Equal(t, protocol.TypePong, m.Type)
		assert.Equal(t, ping.ID, m.RequestID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PONG")
	}

	select {
	case m := <-replies:
		t.Fatalf("expected exactly one reply, got a second %s", m.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransportDisconnectRejectsPendingCalls(t *testing.T) {
	serverTransport, clientTransport := inprocess.NewPair(inprocess.PairOptions{})
	require.NoError(t, serverTransport.Initialize(context.Background()))
	require.NoError(t, clientTransport.Initialize(context.Background()))
	// No hub on the server side: the CALL below can never be answered.

	client := hub.New(hub.DefaultConfig())
	require.NoError(t, client.RegisterTransport(clientTransport))
	defer client.Stop()

	errCh := make(chan error, 1)
	go func() {
		_, err := hub.Request[int](context.Background(), client, "", "test.method", nil, hub.RequestOptions{Timeout: 5 * time.Second})
		errCh <- err
	}()

	// Wait until the call is actually in the pending table before cutting
	// the transport.
	require.Eventually(t, func() bool {
		return client.GetPendingCallCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, clientTransport.Close(context.Background()))

	select {
	case err := <-errCh:
		require.Error(t, err)
		var hubErr *protocol.HubError
		require.ErrorAs(t, err, &hubErr)
		assert.Equal(t, protocol.ErrTransportError, hubErr.Code)
	case <-time.After(time.Second):
		t.Fatal("pending call was not rejected on disconnect")
	}

	assert.Equal(t, 0, client.GetPendingCallCount())
}

func TestEventHandlerMayEmitFollowUpEvents(t *testing.T) {
	client, server := newConnectedPair(t)

	followUp := make(chan struct{}, 1)
	_, err := server.OnEvent("chain.done", func(data interface{}) { followUp <- struct{}{} })
	require.NoError(t, err)

	// The handler runs on the client's actor loop; emitting from inside it
	// must not deadlock the loop it is running on.
	_, err = client.OnEvent("chain.start", func(data interface{}) {
		_ = client.Event(context.Background(), "s1", "chain.done", nil)
	})
	require.NoError(t, err)

	require.NoError(t, server.Event(context.Background(), "s1", "chain.start", nil))

	select {
	case <-followUp:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up event never arrived: handler emit deadlocked or was dropped")
	}
}

func TestEventWithInvalidMethodFailsFast(t *testing.T) {
	client, _ := newConnectedPair(t)

	err := client.Event(context.Background(), "s1", "bad:method", nil)
	require.Error(t, err)
	var hubErr *protocol.HubError
	require.ErrorAs(t, err, &hubErr)
	assert.Equal(t, protocol.ErrInvalidMethod, hubErr.Code)
}
