package domain

import "time"

// BotStatus is the lifecycle state of an upstream bot or upload session
type BotStatus string

const (
	BotStatusCreated            BotStatus = "created"
	BotStatusJoining            BotStatus = "joining"
	BotStatusWaitingRoom        BotStatus = "waiting_room"
	BotStatusInCall             BotStatus = "in_call"
	BotStatusInCallRecording    BotStatus = "in_call_recording"
	BotStatusInCallNotRecording BotStatus = "in_call_not_recording"
	BotStatusDone               BotStatus = "done"
	BotStatusFatal              BotStatus = "fatal"
)

// IsTerminal reports whether no further transitions may leave the status
func (s BotStatus) IsTerminal() bool {
	return s == BotStatusDone || s == BotStatusFatal
}

// CanTransition reports whether a session in status s may move to next.
// Providers routinely skip intermediate states, so only terminal stickiness,
// same-status updates and a return to created are rejected.
func (s BotStatus) CanTransition(next BotStatus) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	return next != BotStatusCreated
}

// ChannelKind identifies the transcript delivery mechanism attached to a session
type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
	ChannelSocket  ChannelKind = "socket"
	ChannelNone    ChannelKind = "none"
)

// SessionMode selects which provider resource backs a session
type SessionMode string

const (
	ModeBot       SessionMode = "bot"
	ModeSDKUpload SessionMode = "sdk_upload"
)

// BotSession represents one active upstream bot/recording resource
type BotSession struct {
	ID                string      `json:"id"`
	OwnerUserID       string      `json:"owner_user_id"`
	Mode              SessionMode `json:"mode"`
	TargetURL         string      `json:"target_url,omitempty"`
	TargetLabel       string      `json:"target_label,omitempty"`
	DisplayName       string      `json:"display_name"`
	Status            BotStatus   `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	TranscriptChannel ChannelKind `json:"transcript_channel"`
}

// Target returns the meeting URL, or the label for sessions without one
func (s BotSession) Target() string {
	if s.TargetURL != "" {
		return s.TargetURL
	}
	return s.TargetLabel
}
