package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Rrens/meeting-assistant/internal/api/middleware"
	"github.com/Rrens/meeting-assistant/internal/api/response"
	"github.com/Rrens/meeting-assistant/internal/domain"
)

// MeetingReader reads stored meeting records
type MeetingReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.MeetingRecord, error)
	ListByOwner(ctx context.Context, ownerUserID string, limit, offset int) ([]domain.MeetingRecord, error)
}

type MeetingHandler struct {
	meetings MeetingReader
}

// NewMeetingHandler creates a meeting handler. meetings is nil when no
// store is configured.
func NewMeetingHandler(meetings MeetingReader) *MeetingHandler {
	return &MeetingHandler{meetings: meetings}
}

// List returns the caller's meetings, newest first
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	if h.meetings == nil {
		response.ServiceUnavailable(w, "meeting storage is not configured")
		return
	}

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	meetings, err := h.meetings.ListByOwner(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w, "failed to list meetings")
		return
	}
	if meetings == nil {
		meetings = []domain.MeetingRecord{}
	}

	response.OK(w, meetings)
}

// Get returns one meeting with its transcript
func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	if h.meetings == nil {
		response.ServiceUnavailable(w, "meeting storage is not configured")
		return
	}

	meetingID, err := uuid.Parse(chi.URLParam(r, "meetingID"))
	if err != nil {
		response.BadRequest(w, "invalid meeting ID")
		return
	}

	meeting, err := h.meetings.Get(r.Context(), meetingID)
	if err != nil {
		response.InternalError(w, "failed to load meeting")
		return
	}
	// other users' meetings look absent
	if meeting == nil || meeting.OwnerUserID != userID {
		response.NotFound(w, "meeting not found")
		return
	}

	response.OK(w, meeting)
}
