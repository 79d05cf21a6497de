package main

import (
	"github.com/streamspace/messagehub/internal/hub"
	"github.com/streamspace/messagehub/internal/session"
)

// sessionHandlerHook builds the OnNewHub callback that registers every
// session.* handler against a freshly constructed hub. It is passed as
// httpapi.Config.OnNewHub, so every connection's hub gets the same
// in-memory session.* method table wired in at construction time.
func sessionHandlerHook(store *session.Store) func(*hub.MessageHub) {
	return func(h *hub.MessageHub) {
		_ = h.OnRequest("session.create", session.CreateHandler(store))
		_ = h.OnRequest("session.list", session.ListHandler(store))
		_ = h.OnRequest("session.get", session.GetHandler(store))
		_ = h.OnRequest("session.delete", session.DeleteHandler(store))
	}
}
