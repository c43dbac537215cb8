package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/api/middleware"
	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/hub"
)

// RealtimeService serves upgraded realtime clients
type RealtimeService interface {
	hub.Handler
	Connect(c *hub.Client)
}

// RealtimeHandler upgrades browsers to the realtime channel
type RealtimeHandler struct {
	service  RealtimeService
	cfg      config.RealtimeConfig
	base     context.Context
	upgrader websocket.Upgrader
}

// NewRealtimeHandler creates the websocket endpoint. Connections live until
// they close or base is cancelled.
func NewRealtimeHandler(base context.Context, service RealtimeService, cfg config.RealtimeConfig) *RealtimeHandler {
	h := &RealtimeHandler{service: service, cfg: cfg, base: base}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Serve upgrades the request and runs the client until it disconnects
func (h *RealtimeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(conn, userID, h.cfg)
	h.service.Connect(client)
	client.Run(h.base, h.service)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		// same host is always allowed
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
