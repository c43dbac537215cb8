package channel

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/metrics"
	"github.com/Rrens/meeting-assistant/internal/provider"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

var errNotRegistered = errors.New("session is not registered")

// Strategy is how transcripts for a session reach this process
type Strategy interface {
	Kind() domain.ChannelKind

	// Prepare adjusts the create request before the provider call
	Prepare(opts *provider.LaunchOptions)

	// Attach activates the channel for a registered session
	Attach(ctx context.Context, session domain.BotSession) error

	// Wait blocks until every reader started by Attach has returned
	Wait()
}

// Sessions is the registry surface channels use
type Sessions interface {
	FindByID(sessionID string) *domain.BotSession
	AttachChannel(sessionID string, kind domain.ChannelKind, closer io.Closer) bool
}

// FrameSink consumes raw stream frames
type FrameSink interface {
	FromStreamFrame(ctx context.Context, src transcript.Source, frame []byte) bool
}

// Notifier delivers control messages to a user's connections
type Notifier interface {
	PublishControl(userID string, msg hub.Message)
}

// New picks the strategy from configuration
func New(cfg *config.Config, gateway provider.Gateway, sessions Sessions, sink FrameSink, notify Notifier, m *metrics.Metrics) Strategy {
	if cfg.UseWebhookDelivery() {
		url := cfg.Transcript.WebhookURL(gateway.Name())
		log.Info().Str("webhook_url", url).Msg("transcripts delivered by webhook")
		return NewWebhook(url, sessions)
	}
	log.Info().Msg("transcripts delivered by provider stream")
	return NewSocket(gateway, sessions, sink, notify, SocketOptions{
		Attempts: cfg.Transcript.ReconnectAttempts,
		Backoff:  cfg.Transcript.ReconnectBackoff,
	}, m)
}

// Webhook relies on the provider posting to the public callback URL
type Webhook struct {
	url      string
	sessions Sessions
}

// NewWebhook creates a webhook strategy for callbackURL
func NewWebhook(callbackURL string, sessions Sessions) *Webhook {
	return &Webhook{url: callbackURL, sessions: sessions}
}

func (w *Webhook) Kind() domain.ChannelKind {
	return domain.ChannelWebhook
}

func (w *Webhook) Prepare(opts *provider.LaunchOptions) {
	opts.WebhookURL = w.url
}

// Wait returns at once; webhook delivery starts no readers
func (w *Webhook) Wait() {}

func (w *Webhook) Attach(_ context.Context, session domain.BotSession) error {
	if !w.sessions.AttachChannel(session.ID, domain.ChannelWebhook, nil) {
		return &domain.ChannelError{SessionID: session.ID, Kind: domain.ChannelWebhook, Err: errNotRegistered}
	}
	return nil
}
