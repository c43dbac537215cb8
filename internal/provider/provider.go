package provider

import (
	"context"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

// OutputAudio is an audio clip the bot plays once it joins
type OutputAudio struct {
	Kind    string `json:"kind" validate:"omitempty,oneof=mp3"`
	B64Data string `json:"b64_data" validate:"required_with=Kind"`
}

// LaunchOptions carries the optional parts of a create request
type LaunchOptions struct {
	Mode                  domain.SessionMode
	TargetLabel           string
	TranscriptionProvider string
	WebhookURL            string
	OutputAudio           *OutputAudio
	WaitingRoomTimeout    int
	NooneJoinedTimeout    int
}

// CreateRequest describes one upstream session to create
type CreateRequest struct {
	TargetURL   string
	DisplayName string
	OwnerUserID string
	Options     LaunchOptions
}

// StreamConn is an open transcript stream for one session
type StreamConn interface {
	// ReadFrame blocks until the next frame arrives or the stream fails
	ReadFrame() ([]byte, error)
	Close() error
}

// Gateway defines the interface for meeting-bot providers
type Gateway interface {
	// Name returns the provider identifier used in webhook paths
	Name() string

	// CreateSession creates the upstream bot or upload session.
	// Non-2xx responses are returned as *domain.ProviderError.
	CreateSession(ctx context.Context, req CreateRequest) (*domain.BotSession, error)

	// GetStatus returns the current upstream view of a session, or nil when
	// it could not be fetched.
	GetStatus(ctx context.Context, sessionID string) *domain.BotSession

	// Terminate asks the provider to remove the bot from its meeting
	Terminate(ctx context.Context, sessionID string) error

	// OpenStream dials the provider's transcript stream for a session
	OpenStream(ctx context.Context, sessionID string) (StreamConn, error)
}
