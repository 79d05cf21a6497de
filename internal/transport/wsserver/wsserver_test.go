package wsserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
	"github.com/streamspace/messagehub/internal/transport/wsserver"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func startServer(t *testing.T, onAccept func(tr *wsserver.Transport)) (*httptest.Server, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		tr := wsserver.New(conn, wsserver.Config{ClientID: "peer-1"})
		require.NoError(t, tr.Initialize(context.Background()))
		onAccept(tr)
	}))
	return srv, srv.Close
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestServerTransportDeliversInboundMessageWithClientID(t *testing.T) {
	var tr *wsserver.Transport
	ready := make(chan struct{})
	srv, closeSrv := startServer(t, func(t2 *wsserver.Transport) { tr = t2; close(ready) })
	defer closeSrv()

	conn := dial(t, srv)
	defer conn.Close()
	<-ready

	got := make(chan *protocol.HubMessage, 1)
	tr.OnMessage(func(m *protocol.HubMessage) { got <- m })

	msg := protocol.NewEvent("s1", "chat.x", protocol.NewOptions{Data: "hi"})
	require.NoError(t, conn.WriteJSON(msg))

	select {
	case m := <-got:
		assert.Equal(t, "peer-1", m.ClientID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestServerTransportSendDeliversToClient(t *testing.T) {
	var tr *wsserver.Transport
	ready := make(chan struct{})
	srv, closeSrv := startServer(t, func(t2 *wsserver.Transport) { tr = t2; close(ready) })
	defer closeSrv()

	conn := dial(t, srv)
	defer conn.Close()
	<-ready

	require.NoError(t, tr.Send(context.Background(), protocol.NewPing("global", "")))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"PING"`)
}

func TestOnCloseFiresOnceWhenClientDisconnects(t *testing.T) {
	closed := make(chan string, 1)
	ready := make(chan struct{})
	var tr *wsserver.Transport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		tr = wsserver.New(conn, wsserver.Config{
			ClientID: "peer-2",
			OnClose:  func(id string) { closed <- id },
		})
		require.NoError(t, tr.Initialize(context.Background()))
		close(ready)
	}))
	defer srv.Close()

	conn := dial(t, srv)
	<-ready
	require.NoError(t, conn.Close())

	select {
	case id := <-closed:
		assert.Equal(t, "peer-2", id)
	case <-time.After(time.Second):
		t.Fatal("expected OnClose to fire")
	}
	_ = tr
}

func TestAdapterSatisfiesRouterClientConnection(t *testing.T) {
	var tr *wsserver.Transport
	ready := make(chan struct{})
	srv, closeSrv := startServer(t, func(t2 *wsserver.Transport) { tr = t2; close(ready) })
	defer closeSrv()

	conn := dial(t, srv)
	defer conn.Close()
	<-ready

	adapter := wsserver.NewAdapter(tr)
	assert.Equal(t, "peer-1", adapter.ID())
	assert.True(t, adapter.IsOpen())
	require.NoError(t, adapter.Send(`{"type":"PING"}`))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, transport.StateConnected, tr.State())
}
