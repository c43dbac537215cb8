package transcript

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

func liveEvent(source, text string, final bool) domain.TranscriptEvent {
	return domain.TranscriptEvent{SourceID: source, OwnerUserID: "u1", Speaker: "Alice", Text: text, IsFinal: final}
}

func TestLiveLine_InterimSupersession(t *testing.T) {
	l := NewLiveLine()

	l.Apply(liveEvent("bot-1", "hel", false))
	l.Apply(liveEvent("bot-1", "hello wor", false))

	snap := l.Snapshot("bot-1")
	require.NotNil(t, snap.Interim)
	assert.Equal(t, "hello wor", snap.Interim.Text)
	assert.Empty(t, snap.Finals)

	l.Apply(liveEvent("bot-1", "hello world", true))

	snap = l.Snapshot("bot-1")
	assert.Nil(t, snap.Interim)
	require.Len(t, snap.Finals, 1)
	assert.Equal(t, "hello world", snap.Finals[0].Text)
	for _, f := range snap.Finals {
		assert.NotEqual(t, "hel", f.Text)
	}
}

func TestLiveLine_SourcesAreIndependent(t *testing.T) {
	l := NewLiveLine()

	l.Apply(liveEvent("bot-1", "one", true))
	l.Apply(liveEvent("bot-2", "two", false))

	assert.Len(t, l.Snapshot("bot-1").Finals, 1)
	assert.Nil(t, l.Snapshot("bot-1").Interim)
	assert.Empty(t, l.Snapshot("bot-2").Finals)
	require.NotNil(t, l.Snapshot("bot-2").Interim)
}

func TestLiveLine_SnapshotIsACopy(t *testing.T) {
	l := NewLiveLine()
	l.Apply(liveEvent("bot-1", "first", true))

	snap := l.Snapshot("bot-1")
	snap.Finals[0].Text = "changed"

	assert.Equal(t, "first", l.Snapshot("bot-1").Finals[0].Text)
}

func TestLiveLine_BoundsFinalsAndForgets(t *testing.T) {
	l := NewLiveLine()
	for i := 0; i < maxLiveFinals+10; i++ {
		l.Apply(liveEvent("bot-1", fmt.Sprintf("line %d", i), true))
	}

	snap := l.Snapshot("bot-1")
	require.Len(t, snap.Finals, maxLiveFinals)
	assert.Equal(t, "line 10", snap.Finals[0].Text)

	l.Forget("bot-1")
	snap = l.Snapshot("bot-1")
	assert.Empty(t, snap.Finals)
	assert.NotNil(t, snap.Finals)
	assert.Nil(t, snap.Interim)
}
