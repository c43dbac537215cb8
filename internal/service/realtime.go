package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
)

const errAuthRequired = "authentication required"

// CurrentSession reports a user's bot session
type CurrentSession interface {
	Current(ownerUserID string) *domain.BotSession
}

// Realtime serves the client side of the realtime channel: identity
// binding, bot status queries and direct transcription sessions.
type Realtime struct {
	hub      *hub.Hub
	sessions CurrentSession
	live     *LiveSessions

	// VerifiedOnly refuses identities claimed in messages; the connection
	// keeps the user it was authenticated as at upgrade time.
	VerifiedOnly bool
}

// NewRealtime creates the realtime message handler
func NewRealtime(h *hub.Hub, sessions CurrentSession, live *LiveSessions) *Realtime {
	return &Realtime{hub: h, sessions: sessions, live: live}
}

// Connect subscribes a client that arrived with an identity
func (r *Realtime) Connect(c *hub.Client) {
	if userID := c.UserID(); userID != "" {
		r.hub.Subscribe(userID, c)
		log.Debug().Str("conn_id", c.ID()).Str("user_id", userID).Msg("realtime client connected")
	}
}

func (r *Realtime) HandleMessage(ctx context.Context, c *hub.Client, msg hub.Inbound) {
	switch msg.Type {
	case hub.TypePing:
		c.Send(hub.Pong())

	case hub.TypeRegisterUser:
		if msg.UserID == "" {
			c.Send(hub.Error("userId is required"))
			return
		}
		current := c.UserID()
		if current != "" && current != msg.UserID {
			c.Send(hub.Error("connection is bound to another user"))
			return
		}
		if current == "" && r.VerifiedOnly {
			c.Send(hub.Error(errAuthRequired))
			return
		}
		c.SetUserID(msg.UserID)
		r.hub.Subscribe(msg.UserID, c)
		c.Send(hub.BotStatus(r.sessions.Current(msg.UserID)))

	case hub.TypeBotStatusRequest:
		userID, ok := r.identity(c, msg)
		if !ok {
			return
		}
		c.Send(hub.BotStatus(r.sessions.Current(userID)))

	case hub.TypeStartTranscription:
		userID, ok := r.identity(c, msg)
		if !ok {
			return
		}
		sessionID, err := r.live.Start(ctx, c, userID, msg.Title)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("could not start live transcription")
			c.Send(hub.Error("could not start transcription: " + err.Error()))
			return
		}
		c.Send(hub.TranscriptionStarted(sessionID))

	case hub.TypeStopTranscription:
		sessionID, ok := r.live.Stop(c.ID())
		if !ok {
			c.Send(hub.Error(ErrNoTranscription.Error()))
			return
		}
		c.Send(hub.TranscriptionStopped(sessionID))

	default:
		c.Send(hub.Error("unknown message type: " + string(msg.Type)))
	}
}

func (r *Realtime) HandleAudio(_ context.Context, c *hub.Client, data []byte) {
	if err := r.live.Audio(c.ID(), data); err != nil {
		if errors.Is(err, ErrNoTranscription) {
			c.Send(hub.Error(err.Error()))
			return
		}
		log.Debug().Err(err).Str("conn_id", c.ID()).Msg("forwarding audio failed")
	}
}

func (r *Realtime) HandleClose(c *hub.Client) {
	r.live.Stop(c.ID())
	r.hub.Unsubscribe(c)
	log.Debug().Str("conn_id", c.ID()).Str("user_id", c.UserID()).Msg("realtime client disconnected")
}

// identity resolves the acting user, binding the connection on first use
func (r *Realtime) identity(c *hub.Client, msg hub.Inbound) (string, bool) {
	current := c.UserID()
	switch {
	case current != "" && msg.UserID != "" && msg.UserID != current:
		c.Send(hub.Error("connection is bound to another user"))
		return "", false
	case current != "":
		return current, true
	case r.VerifiedOnly:
		c.Send(hub.Error(errAuthRequired))
		return "", false
	case msg.UserID != "":
		c.SetUserID(msg.UserID)
		r.hub.Subscribe(msg.UserID, c)
		return msg.UserID, true
	default:
		c.Send(hub.Error("userId is required"))
		return "", false
	}
}
