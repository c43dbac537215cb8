package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Rrens/meeting-assistant/internal/api/middleware"
	"github.com/Rrens/meeting-assistant/internal/api/response"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/provider"
	"github.com/Rrens/meeting-assistant/internal/service"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

var validate = validator.New()

// DefaultBotName is used when a launch request names no bot
const DefaultBotName = "Meeting Assistant"

// BotController is the lifecycle surface the bot endpoints need
type BotController interface {
	Launch(ctx context.Context, req service.LaunchRequest) (*domain.BotSession, error)
	Current(ownerUserID string) *domain.BotSession
	Get(ownerUserID, sessionID string) (*domain.BotSession, error)
	Terminate(ctx context.Context, target service.TerminateTarget) error
}

// LiveSnapshots renders the merged live transcript of a session
type LiveSnapshots interface {
	Snapshot(sourceID string) transcript.Snapshot
}

// LaunchInput is the body of a launch request
type LaunchInput struct {
	MeetingURL            string                `json:"meeting_url" validate:"omitempty,url,max=2048"`
	BotName               string                `json:"bot_name" validate:"max=100"`
	Title                 string                `json:"title" validate:"max=200"`
	Mode                  string                `json:"mode" validate:"omitempty,oneof=bot sdk_upload"`
	TargetLabel           string                `json:"target_label" validate:"max=200"`
	TranscriptionProvider string                `json:"transcription_provider" validate:"max=64"`
	OutputAudio           *provider.OutputAudio `json:"output_audio"`
	WaitingRoomTimeout    int                   `json:"waiting_room_timeout" validate:"gte=0,lte=86400"`
	NooneJoinedTimeout    int                   `json:"noone_joined_timeout" validate:"gte=0,lte=86400"`
}

// BotHandler handles bot session endpoints
type BotHandler struct {
	controller BotController
	live       LiveSnapshots
}

// NewBotHandler creates a new bot handler
func NewBotHandler(controller BotController, live LiveSnapshots) *BotHandler {
	return &BotHandler{controller: controller, live: live}
}

// Launch starts a bot for the caller
func (h *BotHandler) Launch(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input LaunchInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			response.BadRequest(w, fieldErrors(validationErrors))
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	mode := domain.SessionMode(input.Mode)
	if mode == "" {
		mode = domain.ModeBot
	}
	if mode == domain.ModeBot && strings.TrimSpace(input.MeetingURL) == "" {
		response.BadRequest(w, map[string]string{"meeting_url": "field is required"})
		return
	}

	botName := strings.TrimSpace(input.BotName)
	if botName == "" {
		botName = DefaultBotName
	}

	session, err := h.controller.Launch(r.Context(), service.LaunchRequest{
		OwnerUserID: userID,
		TargetURL:   strings.TrimSpace(input.MeetingURL),
		DisplayName: botName,
		Title:       input.Title,
		Options: provider.LaunchOptions{
			Mode:                  mode,
			TargetLabel:           input.TargetLabel,
			TranscriptionProvider: input.TranscriptionProvider,
			OutputAudio:           input.OutputAudio,
			WaitingRoomTimeout:    input.WaitingRoomTimeout,
			NooneJoinedTimeout:    input.NooneJoinedTimeout,
		},
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, session)
}

// Current returns the caller's session with its live transcript
func (h *BotHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	session := h.controller.Current(userID)
	if session == nil {
		response.NotFound(w, "no active session")
		return
	}

	response.OK(w, map[string]any{
		"bot":        session,
		"transcript": h.live.Snapshot(session.ID),
	})
}

// Get returns one of the caller's sessions
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	session, err := h.controller.Get(userID, chi.URLParam(r, "botID"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, session)
}

// Delete removes one of the caller's bots from its meeting
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	target := service.TerminateTarget{SessionID: chi.URLParam(r, "botID"), OwnerUserID: userID}
	if err := h.controller.Terminate(r.Context(), target); err != nil {
		response.FromError(w, err)
		return
	}

	response.NoContent(w)
}

// DeleteCurrent removes the caller's bot, whatever its id
func (h *BotHandler) DeleteCurrent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := h.controller.Terminate(r.Context(), service.TerminateTarget{OwnerUserID: userID}); err != nil {
		response.FromError(w, err)
		return
	}

	response.NoContent(w)
}

func fieldErrors(validationErrors validator.ValidationErrors) map[string]string {
	errs := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		tag := e.Tag()
		switch tag {
		case "required", "required_with":
			errs[field] = "field is required"
		case "url":
			errs[field] = "must be a valid URL"
		case "oneof":
			errs[field] = "must be one of: " + e.Param()
		case "max", "lte":
			errs[field] = "must be at most " + e.Param()
		case "gte":
			errs[field] = "must be at least " + e.Param()
		default:
			errs[field] = "validation failed on " + tag
		}
	}
	return errs
}
