package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "meetings.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(seq int, text string) domain.TranscriptEntry {
	return domain.TranscriptEntry{
		Seq:        seq,
		Speaker:    "Alice",
		Text:       text,
		Confidence: 0.75,
		SpokenAt:   time.Date(2026, 3, 1, 10, 0, seq, 0, time.UTC),
	}
}

func TestStore_MeetingLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	rec := domain.NewMeetingRecord("u1", "bot-1", "Standup")
	require.NoError(t, store.Create(ctx, rec))

	open, err := store.FindOpen(ctx, "u1", "bot-1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, rec.ID, open.ID)
	assert.Equal(t, 0, open.EntryCount)

	require.NoError(t, store.AppendTranscript(ctx, rec.ID, entry(1, "hello")))
	require.NoError(t, store.AppendTranscript(ctx, rec.ID, entry(2, "world")))

	open, err = store.FindOpen(ctx, "u1", "bot-1")
	require.NoError(t, err)
	assert.Equal(t, 2, open.EntryCount)
	assert.Empty(t, open.Transcript)

	require.NoError(t, store.UpdateSummary(ctx, rec.ID, "greetings"))
	ended := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkEnded(ctx, rec.ID, domain.MeetingEnded, ended))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.MeetingEnded, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, ended.Equal(*got.EndTime))
	require.NotNil(t, got.Summary)
	assert.Equal(t, "greetings", *got.Summary)
	require.NotNil(t, got.SourceID)
	assert.Equal(t, "bot-1", *got.SourceID)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, "hello", got.Transcript[0].Text)
	assert.Equal(t, "world", got.Transcript[1].Text)
	assert.Equal(t, 0.75, got.Transcript[1].Confidence)
	assert.True(t, entry(2, "").SpokenAt.Equal(got.Transcript[1].SpokenAt))

	open, err = store.FindOpen(ctx, "u1", "bot-1")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestStore_RefusesWritesAfterEnd(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	rec := domain.NewMeetingRecord("u1", "bot-1", "Standup")
	require.NoError(t, store.Create(ctx, rec))
	require.NoError(t, store.MarkEnded(ctx, rec.ID, domain.MeetingCanceled, time.Now()))

	err := store.AppendTranscript(ctx, rec.ID, entry(1, "late"))
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = store.MarkEnded(ctx, rec.ID, domain.MeetingEnded, time.Now())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = store.UpdateSummary(ctx, rec.ID, "late summary")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingCanceled, got.Status)
	assert.Empty(t, got.Transcript)
}

func TestStore_MissingRecords(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	got, err := store.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)

	err = store.AppendTranscript(ctx, uuid.New(), entry(1, "orphan"))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStore_ListByOwner(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, title := range []string{"first", "second", "third"} {
		rec := domain.NewMeetingRecord("u1", "bot-"+title, title)
		rec.StartTime = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Create(ctx, rec))
	}
	require.NoError(t, store.Create(ctx, domain.NewMeetingRecord("u2", "bot-x", "other")))

	list, err := store.ListByOwner(ctx, "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Title)
	assert.Equal(t, "second", list[1].Title)

	list, err = store.ListByOwner(ctx, "u1", 10, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].Title)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverPostgres})
	assert.Error(t, err)
}
