package hub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/messagehub/internal/channels"
	"github.com/streamspace/messagehub/internal/router"
)

func TestSubscribeWithAckResolvesAgainstALivePeer(t *testing.T) {
	client, _ := newConnectedPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handle, err := client.Subscribe(ctx, "session-1", "chat.message", func(data interface{}) {}, true)
	require.NoError(t, err)
	assert.NotNil(t, handle)
}

func TestUnsubscribeAfterAckedSubscribeSendsUnsubscribe(t *testing.T) {
	client, _ := newConnectedPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handle, err := client.Subscribe(ctx, "session-1", "chat.message", func(data interface{}) {}, true)
	require.NoError(t, err)

	require.NoError(t, client.Unsubscribe(ctx, handle))
}

func TestSubscribeWithAckRegistersOnRouterWhenServerSideIsAttached(t *testing.T) {
	client, server := newConnectedPair(t)

	rtr := router.New(router.Config{})
	mgr := channels.New()
	server.AttachRouter(rtr, "peer-1")
	server.AttachChannels(mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Subscribe(ctx, "session-1", "chat.message", func(data interface{}) {}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, rtr.GetSubscriptionCount("session-1", "chat.message"))
}

func TestSubscribeWithoutAckNeverBlocksOnNetworkRoundTrip(t *testing.T) {
	client, _ := newConnectedPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handle, err := client.Subscribe(ctx, "session-1", "chat.message", func(data interface{}) {}, false)
	require.NoError(t, err)
	assert.NotNil(t, handle)
}
