package hub

import (
	"github.com/Rrens/meeting-assistant/internal/domain"
)

// MessageType names a realtime message
type MessageType string

// Server to client
const (
	TypeTranscriptionStarted MessageType = "transcription_started"
	TypeTranscription        MessageType = "transcription"
	TypeTranscriptionStopped MessageType = "transcription_stopped"
	TypeBotCreated           MessageType = "bot_created"
	TypeBotLeft              MessageType = "bot_left"
	TypeBotStatus            MessageType = "bot_status"
	TypeError                MessageType = "error"
	TypePong                 MessageType = "pong"
)

// Client to server
const (
	TypeStartTranscription MessageType = "start_transcription"
	TypeStopTranscription  MessageType = "stop_transcription"
	TypeRegisterUser       MessageType = "register_user"
	TypeBotStatusRequest   MessageType = "bot_status_request"
	TypePing               MessageType = "ping"
)

// Message is a server to client frame
type Message struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"sessionId,omitempty"`
	BotID     string           `json:"botId,omitempty"`
	UserID    string           `json:"userId,omitempty"`
	Status    domain.BotStatus `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Data      any              `json:"data,omitempty"`
}

// Inbound is a client to server frame
type Inbound struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId,omitempty"`
	Title  string      `json:"title,omitempty"`
	BotID  string      `json:"botId,omitempty"`
}

func Transcription(ev domain.TranscriptEvent) Message {
	return Message{Type: TypeTranscription, Data: ev}
}

func TranscriptionStarted(sessionID string) Message {
	return Message{Type: TypeTranscriptionStarted, SessionID: sessionID}
}

func TranscriptionStopped(sessionID string) Message {
	return Message{Type: TypeTranscriptionStopped, SessionID: sessionID}
}

func BotCreated(s domain.BotSession) Message {
	return Message{Type: TypeBotCreated, BotID: s.ID, UserID: s.OwnerUserID, Status: s.Status}
}

func BotLeft(botID, userID string) Message {
	return Message{Type: TypeBotLeft, BotID: botID, UserID: userID}
}

// BotStatus carries the session, or nil data when the user has none
func BotStatus(s *domain.BotSession) Message {
	if s == nil {
		return Message{Type: TypeBotStatus}
	}
	return Message{Type: TypeBotStatus, Data: s}
}

func Error(message string) Message {
	return Message{Type: TypeError, Message: message}
}

func Pong() Message {
	return Message{Type: TypePong}
}
