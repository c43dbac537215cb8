// Package sqlstore keeps meeting records in MySQL or SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
)

type dialect struct {
	driver string
	schema []string
}

var dialects = map[string]dialect{
	config.DriverMySQL: {
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS meetings (
				id            CHAR(36)     NOT NULL PRIMARY KEY,
				owner_user_id VARCHAR(255) NOT NULL,
				source_id     VARCHAR(255) NULL,
				title         VARCHAR(512) NOT NULL DEFAULT '',
				status        VARCHAR(16)  NOT NULL DEFAULT 'active',
				start_time    BIGINT       NOT NULL,
				end_time      BIGINT       NULL,
				summary       MEDIUMTEXT   NULL,
				INDEX idx_meetings_owner_start (owner_user_id, start_time),
				INDEX idx_meetings_open (owner_user_id, source_id, status)
			)`,
			`CREATE TABLE IF NOT EXISTS transcript_entries (
				meeting_id CHAR(36)     NOT NULL,
				seq        INT          NOT NULL,
				speaker    VARCHAR(255) NOT NULL,
				text       TEXT         NOT NULL,
				confidence DOUBLE       NOT NULL DEFAULT 1,
				spoken_at  BIGINT       NOT NULL,
				PRIMARY KEY (meeting_id, seq),
				CONSTRAINT fk_entries_meeting FOREIGN KEY (meeting_id) REFERENCES meetings (id) ON DELETE CASCADE
			)`,
		},
	},
	config.DriverSQLite: {
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS meetings (
				id            TEXT    NOT NULL PRIMARY KEY,
				owner_user_id TEXT    NOT NULL,
				source_id     TEXT,
				title         TEXT    NOT NULL DEFAULT '',
				status        TEXT    NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'ended', 'canceled')),
				start_time    INTEGER NOT NULL,
				end_time      INTEGER,
				summary       TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_meetings_owner_start ON meetings (owner_user_id, start_time)`,
			`CREATE INDEX IF NOT EXISTS idx_meetings_open ON meetings (owner_user_id, source_id) WHERE status = 'active'`,
			`CREATE TABLE IF NOT EXISTS transcript_entries (
				meeting_id TEXT    NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
				seq        INTEGER NOT NULL,
				speaker    TEXT    NOT NULL,
				text       TEXT    NOT NULL,
				confidence REAL    NOT NULL DEFAULT 1,
				spoken_at  INTEGER NOT NULL,
				PRIMARY KEY (meeting_id, seq)
			)`,
		},
	},
}

// Store implements domain.MeetingRepository. Times are stored as unix
// microseconds so both drivers read them back without dialect parsing.
type Store struct {
	db *sql.DB
}

// Open connects with the configured driver and creates the schema
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqlstore does not support driver %q", cfg.Driver)
	}

	db, err := sql.Open(d.driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite only supports one writer
		db.SetMaxIdleConns(1)
	} else if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
		db.SetMaxIdleConns(int(cfg.MinConns))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, rec *domain.MeetingRecord) error {
	query := `
		INSERT INTO meetings (id, owner_user_id, source_id, title, status, start_time, end_time, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.OwnerUserID,
		rec.SourceID,
		rec.Title,
		string(rec.Status),
		toMicros(rec.StartTime),
		optionalMicros(rec.EndTime),
		rec.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

func (s *Store) FindOpen(ctx context.Context, ownerUserID, sourceID string) (*domain.MeetingRecord, error) {
	query := `
		SELECT m.id, m.owner_user_id, m.source_id, m.title, m.status, m.start_time, m.end_time, m.summary,
			(SELECT COUNT(*) FROM transcript_entries t WHERE t.meeting_id = m.id)
		FROM meetings m
		WHERE m.owner_user_id = ? AND m.source_id = ? AND m.status = 'active'
		ORDER BY m.start_time DESC
		LIMIT 1
	`
	rec, err := scanMeeting(s.db.QueryRowContext(ctx, query, ownerUserID, sourceID), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open meeting: %w", err)
	}
	return rec, nil
}

func (s *Store) AppendTranscript(ctx context.Context, meetingID uuid.UUID, entry domain.TranscriptEntry) error {
	query := `
		INSERT INTO transcript_entries (meeting_id, seq, speaker, text, confidence, spoken_at)
		SELECT id, ?, ?, ?, ?, ? FROM meetings WHERE id = ? AND status = 'active'
	`
	res, err := s.db.ExecContext(ctx, query,
		entry.Seq,
		entry.Speaker,
		entry.Text,
		entry.Confidence,
		toMicros(entry.SpokenAt),
		meetingID,
	)
	if err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	return requireRow(res, meetingID)
}

func (s *Store) MarkEnded(ctx context.Context, meetingID uuid.UUID, status domain.MeetingStatus, endedAt time.Time) error {
	query := `UPDATE meetings SET status = ?, end_time = ? WHERE id = ? AND status = 'active'`
	res, err := s.db.ExecContext(ctx, query, string(status), toMicros(endedAt), meetingID)
	if err != nil {
		return fmt.Errorf("failed to end meeting: %w", err)
	}
	return requireRow(res, meetingID)
}

func (s *Store) UpdateSummary(ctx context.Context, meetingID uuid.UUID, summary string) error {
	query := `UPDATE meetings SET summary = ? WHERE id = ? AND status = 'active'`
	res, err := s.db.ExecContext(ctx, query, summary, meetingID)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return requireRow(res, meetingID)
}

func (s *Store) Get(ctx context.Context, meetingID uuid.UUID) (*domain.MeetingRecord, error) {
	query := `
		SELECT id, owner_user_id, source_id, title, status, start_time, end_time, summary
		FROM meetings
		WHERE id = ?
	`
	rec, err := scanMeeting(s.db.QueryRowContext(ctx, query, meetingID), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, speaker, text, confidence, spoken_at
		FROM transcript_entries
		WHERE meeting_id = ?
		ORDER BY seq
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        domain.TranscriptEntry
			spokenAt int64
		)
		if err := rows.Scan(&e.Seq, &e.Speaker, &e.Text, &e.Confidence, &spokenAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		e.SpokenAt = fromMicros(spokenAt)
		rec.Transcript = append(rec.Transcript, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	rec.EntryCount = len(rec.Transcript)
	return rec, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerUserID string, limit, offset int) ([]domain.MeetingRecord, error) {
	query := `
		SELECT m.id, m.owner_user_id, m.source_id, m.title, m.status, m.start_time, m.end_time, m.summary,
			(SELECT COUNT(*) FROM transcript_entries t WHERE t.meeting_id = m.id)
		FROM meetings m
		WHERE m.owner_user_id = ?
		ORDER BY m.start_time DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, ownerUserID, limit, offset)
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

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner, withCount bool) (*domain.MeetingRecord, error) {
	var (
		rec     domain.MeetingRecord
		status  string
		start   int64
		end     sql.NullInt64
		summary sql.NullString
		source  sql.NullString
	)
	dest := []any{&rec.ID, &rec.OwnerUserID, &source, &rec.Title, &status, &start, &end, &summary}
	if withCount {
		dest = append(dest, &rec.EntryCount)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.Status = domain.MeetingStatus(status)
	rec.StartTime = fromMicros(start)
	if end.Valid {
		t := fromMicros(end.Int64)
		rec.EndTime = &t
	}
	if summary.Valid {
		rec.Summary = &summary.String
	}
	if source.Valid {
		rec.SourceID = &source.String
	}
	return &rec, nil
}

func requireRow(res sql.Result, meetingID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Resource: "active meeting", Key: meetingID.String()}
	}
	return nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func optionalMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMicros(*t)
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
