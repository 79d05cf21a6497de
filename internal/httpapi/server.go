// Package httpapi provides the HTTP surface a MessageHub server process
// needs: how a WebSocket server actually accepts an HTTP Upgrade, using
// the familiar gin+gorilla upgrade pattern, adapted to mint a clientId per
// connection and wire it straight into a Router-attached MessageHub.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/messagehub/internal/channels"
	"github.com/streamspace/messagehub/internal/hub"
	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/router"
	"github.com/streamspace/messagehub/internal/transport/wsserver"
)

// Config configures a Server.
type Config struct {
	Auth AuthConfig
	// HubConfig is used to construct a fresh MessageHub per connection.
	HubConfig hub.Config
	// OnNewHub, if set, runs against every per-connection MessageHub right
	// after construction, before the transport is attached — the hook a
	// caller (e.g. cmd/messagehubd) uses to register its OnRequest handlers
	// on every connection's hub rather than just one shared instance.
	OnNewHub func(*hub.MessageHub)
}

// Server wraps a gin.Engine exposing /healthz, /metrics, and /ws. One
// Router and one channels.Manager are shared across every connection it
// accepts: the serving process is one peer, however many clients attach.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	router   *router.Router
	channels *channels.Manager
	log      *zerolog.Logger

	upgrader websocket.Upgrader

	hubsMu sync.Mutex
	hubs   map[string]*hub.MessageHub
}

// NewServer builds a Server with fresh Router/ChannelManager instances.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		router:   router.New(router.Config{}),
		channels: channels.New(),
		log:      logger.Router(),
		hubs:     make(map[string]*hub.MessageHub),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", s.handleMetrics)
	s.engine.GET("/ws", s.handleWS)
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for http.ListenAndServe.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Router returns the shared Router, for callers that need to know about
// connected peers.
func (s *Server) Router() *router.Router { return s.router }

// Channels returns the shared ChannelManager, so a caller wiring up a
// non-HTTP transport can attach a per-connection hub to the same
// Router/ChannelManager pair every WebSocket connection uses.
func (s *Server) Channels() *channels.Manager { return s.channels }

// TrackHub registers h under clientID so handleMetrics' pending-call sum
// includes it; it is how a hub built outside handleWS opts into /metrics
// bookkeeping. UntrackHub reverses it on disconnect.
func (s *Server) TrackHub(clientID string, h *hub.MessageHub) { s.trackHub(clientID, h) }

// UntrackHub removes the hub registered for clientID.
func (s *Server) UntrackHub(clientID string) { s.untrackHub(clientID) }

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics reports aggregate figures across every connection this
// Server currently owns: connected-client count straight from the Router,
// subscriber count summed across the Router's subscription index, and
// pending-call count summed across every per-connection hub's own
// GetPendingCallCount. Per-connection hubs are not otherwise
// tracked anywhere else in this package, so s.hubs exists purely to make
// this handler possible.
func (s *Server) handleMetrics(c *gin.Context) {
	s.hubsMu.Lock()
	pending := 0
	for _, h := range s.hubs {
		pending += h.GetPendingCallCount()
	}
	s.hubsMu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"connectedClients": len(s.router.GetClientIDs()),
		"subscriberCount":  s.router.TotalSubscriptionCount(),
		"pendingCallCount": pending,
	})
}

func (s *Server) handleWS(c *gin.Context) {
	if _, err := authenticate(s.cfg.Auth, c.GetHeader("Authorization")); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The clientId is minted up front and never changes for the life of
	// the connection, so the Transport, its Router adapter, and the hub
	// attached to it all agree on the same id from construction.
	clientID := router.NewClientID()
	// h is assigned below, before wsTransport.Initialize starts the pumps
	// that can ever observe a closed connection, so OnClose always sees a
	// non-nil hub by the time it can fire.
	var h *hub.MessageHub
	wsTransport := wsserver.New(conn, wsserver.Config{
		ClientID: clientID,
		OnClose: func(id string) {
			s.router.UnregisterConnection(id)
			s.channels.RemoveClient(id)
			s.untrackHub(id)
			if h != nil {
				h.Cleanup()
				h.Stop()
			}
		},
	})
	s.router.RegisterConnection(wsserver.NewAdapter(wsTransport))

	h = hub.New(s.cfg.HubConfig)
	h.AttachRouter(s.router, clientID)
	h.AttachChannels(s.channels)
	if s.cfg.OnNewHub != nil {
		s.cfg.OnNewHub(h)
	}
	s.trackHub(clientID, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.RegisterTransport(wsTransport); err != nil {
		s.log.Error().Err(err).Msg("failed to register transport on new hub")
		_ = conn.Close()
		s.router.UnregisterConnection(clientID)
		s.untrackHub(clientID)
		h.Cleanup()
		h.Stop()
		return
	}
	if err := wsTransport.Initialize(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to initialize server transport")
		s.router.UnregisterConnection(clientID)
		s.untrackHub(clientID)
		h.Cleanup()
		h.Stop()
		return
	}
}

func (s *Server) trackHub(clientID string, h *hub.MessageHub) {
	s.hubsMu.Lock()
	defer s.hubsMu.Unlock()
	s.hubs[clientID] = h
}

func (s *Server) untrackHub(clientID string) {
	s.hubsMu.Lock()
	defer s.hubsMu.Unlock()
	delete(s.hubs, clientID)
}
