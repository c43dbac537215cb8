package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

// MeetingRepository implements domain.MeetingRepository
type MeetingRepository struct {
	db *DB
}

// NewMeetingRepository creates a new meeting repository
func NewMeetingRepository(db *DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

func (r *MeetingRepository) pool() *pgxpool.Pool {
	return r.db.Pool
}

func (r *MeetingRepository) Create(ctx context.Context, rec *domain.MeetingRecord) error {
	query := `
		INSERT INTO meetings (id, owner_user_id, source_id, title, status, start_time, end_time, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool().Exec(ctx, query,
		rec.ID,
		rec.OwnerUserID,
		rec.SourceID,
		rec.Title,
		rec.Status,
		rec.StartTime,
		rec.EndTime,
		rec.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

func (r *MeetingRepository) FindOpen(ctx context.Context, ownerUserID, sourceID string) (*domain.MeetingRecord, error) {
	query := `
		SELECT m.id, m.owner_user_id, m.source_id, m.title, m.status, m.start_time, m.end_time, m.summary,
			(SELECT COUNT(*) FROM transcript_entries t WHERE t.meeting_id = m.id)
		FROM meetings m
		WHERE m.owner_user_id = $1 AND m.source_id = $2 AND m.status = 'active'
		ORDER BY m.start_time DESC
		LIMIT 1
	`
	rec, err := scanMeeting(r.pool().QueryRow(ctx, query, ownerUserID, sourceID), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open meeting: %w", err)
	}
	return rec, nil
}

func (r *MeetingRepository) AppendTranscript(ctx context.Context, meetingID uuid.UUID, entry domain.TranscriptEntry) error {
	query := `
		INSERT INTO transcript_entries (meeting_id, seq, speaker, text, confidence, spoken_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM meetings WHERE id = $1 AND status = 'active')
	`
	tag, err := r.pool().Exec(ctx, query,
		meetingID,
		entry.Seq,
		entry.Speaker,
		entry.Text,
		entry.Confidence,
		entry.SpokenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "active meeting", Key: meetingID.String()}
	}
	return nil
}

func (r *MeetingRepository) MarkEnded(ctx context.Context, meetingID uuid.UUID, status domain.MeetingStatus, endedAt time.Time) error {
	query := `
		UPDATE meetings
		SET status = $1, end_time = $2
		WHERE id = $3 AND status = 'active'
	`
	tag, err := r.pool().Exec(ctx, query, status, endedAt, meetingID)
	if err != nil {
		return fmt.Errorf("failed to end meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "active meeting", Key: meetingID.String()}
	}
	return nil
}

func (r *MeetingRepository) UpdateSummary(ctx context.Context, meetingID uuid.UUID, summary string) error {
	query := `UPDATE meetings SET summary = $1 WHERE id = $2 AND status = 'active'`
	tag, err := r.pool().Exec(ctx, query, summary, meetingID)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "active meeting", Key: meetingID.String()}
	}
	return nil
}

func (r *MeetingRepository) Get(ctx context.Context, meetingID uuid.UUID) (*domain.MeetingRecord, error) {
	query := `
		SELECT id, owner_user_id, source_id, title, status, start_time, end_time, summary
		FROM meetings
		WHERE id = $1
	`
	rec, err := scanMeeting(r.pool().QueryRow(ctx, query, meetingID), false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	rows, err := r.pool().Query(ctx, `
		SELECT seq, speaker, text, confidence, spoken_at
		FROM transcript_entries
		WHERE meeting_id = $1
		ORDER BY seq
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.TranscriptEntry
		if err := rows.Scan(&e.Seq, &e.Speaker, &e.Text, &e.Confidence, &e.SpokenAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		rec.Transcript = append(rec.Transcript, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	rec.EntryCount = len(rec.Transcript)
	return rec, nil
}

func (r *MeetingRepository) ListByOwner(ctx context.Context, ownerUserID string, limit, offset int) ([]domain.MeetingRecord, error) {
	query := `
		SELECT m.id, m.owner_user_id, m.source_id, m.title, m.status, m.start_time, m.end_time, m.summary,
			(SELECT COUNT(*) FROM transcript_entries t WHERE t.meeting_id = m.id)
		FROM meetings m
		WHERE m.owner_user_id = $1
		ORDER BY m.start_time DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool().Query(ctx, query, ownerUserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []domain.MeetingRecord
	for rows.Next() {
		rec, err := scanMeeting(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings = append(meetings, *rec)
	}
	return meetings, rows.Err()
}

func (r *MeetingRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *MeetingRepository) Close() error {
	r.db.Close()
	return nil
}

func scanMeeting(row pgx.Row, withCount bool) (*domain.MeetingRecord, error) {
	var rec domain.MeetingRecord
	dest := []any{
		&rec.ID,
		&rec.OwnerUserID,
		&rec.SourceID,
		&rec.Title,
		&rec.Status,
		&rec.StartTime,
		&rec.EndTime,
		&rec.Summary,
	}
	if withCount {
		dest = append(dest, &rec.EntryCount)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &rec, nil
}
