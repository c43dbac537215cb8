package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MeetingStatus represents the persisted state of a meeting
type MeetingStatus string

const (
	MeetingActive   MeetingStatus = "active"
	MeetingEnded    MeetingStatus = "ended"
	MeetingCanceled MeetingStatus = "canceled"
)

// TranscriptEntry is a persisted final transcript event
type TranscriptEntry struct {
	Seq        int       `json:"seq" bson:"seq"`
	Speaker    string    `json:"speaker" bson:"speaker"`
	Text       string    `json:"text" bson:"text"`
	Confidence float64   `json:"confidence" bson:"confidence"`
	SpokenAt   time.Time `json:"spoken_at" bson:"spoken_at"`
}

// MeetingRecord is the persisted projection of one meeting/session
type MeetingRecord struct {
	ID          uuid.UUID         `json:"id"`
	OwnerUserID string            `json:"owner_user_id"`
	SourceID    *string           `json:"source_id,omitempty"`
	Title       string            `json:"title"`
	Status      MeetingStatus     `json:"status"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	EntryCount  int               `json:"entry_count"`
	Transcript  []TranscriptEntry `json:"transcript,omitempty"`
	Summary     *string           `json:"summary,omitempty"`
}

// NewMeetingRecord builds an active record starting now
func NewMeetingRecord(ownerUserID, sourceID, title string) *MeetingRecord {
	rec := &MeetingRecord{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Title:       title,
		Status:      MeetingActive,
		StartTime:   time.Now().UTC(),
	}
	if sourceID != "" {
		rec.SourceID = &sourceID
	}
	return rec
}

// MeetingRepository defines the interface for meeting record storage.
// Implementations must refuse transcript appends, summaries and status
// changes on records that are no longer active, returning ErrNotFound.
// FindOpen and Get return (nil, nil) when nothing matches; FindOpen leaves
// Transcript empty but fills EntryCount.
type MeetingRepository interface {
	Create(ctx context.Context, rec *MeetingRecord) error
	FindOpen(ctx context.Context, ownerUserID, sourceID string) (*MeetingRecord, error)
	AppendTranscript(ctx context.Context, meetingID uuid.UUID, entry TranscriptEntry) error
	MarkEnded(ctx context.Context, meetingID uuid.UUID, status MeetingStatus, endedAt time.Time) error
	UpdateSummary(ctx context.Context, meetingID uuid.UUID, summary string) error
	Get(ctx context.Context, meetingID uuid.UUID) (*MeetingRecord, error)
	ListByOwner(ctx context.Context, ownerUserID string, limit, offset int) ([]MeetingRecord, error)
	Ping(ctx context.Context) error
	Close() error
}
