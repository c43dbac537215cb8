package transcript

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/metrics"
)

type fakeSessions map[string]domain.BotSession

func (f fakeSessions) FindByID(id string) *domain.BotSession {
	s, ok := f[id]
	if !ok {
		return nil
	}
	return &s
}

type captureEmitter struct {
	mu     sync.Mutex
	events []domain.TranscriptEvent
}

func (c *captureEmitter) Emit(_ context.Context, ev domain.TranscriptEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestNormalizer() (*Normalizer, *captureEmitter) {
	emit := &captureEmitter{}
	sessions := fakeSessions{"bot-1": {ID: "bot-1", OwnerUserID: "u1"}}
	n := NewNormalizer(sessions, emit, metrics.NewNop())
	n.now = func() time.Time { return fixedNow }
	return n, emit
}

func mustEnvelope(t *testing.T, body string) Envelope {
	t.Helper()
	env, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	return env
}

func TestFromWebhookPayload_Segment(t *testing.T) {
	n, emit := newTestNormalizer()

	ok := n.FromWebhookPayload(context.Background(), mustEnvelope(t,
		`{"event":"transcript.segment","data":{"bot_id":"bot-1","segment":{"speaker":"Alice","text":"hello","is_final":true}}}`))
	require.True(t, ok)
	require.Len(t, emit.events, 1)

	ev := emit.events[0]
	assert.Equal(t, "bot-1", ev.SourceID)
	assert.Equal(t, "u1", ev.OwnerUserID)
	assert.Equal(t, "Alice", ev.Speaker)
	assert.Equal(t, "hello", ev.Text)
	assert.True(t, ev.IsFinal)
	assert.Equal(t, 1.0, ev.Confidence)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.Equal(t, domain.ChannelWebhook, ev.Channel)
	assert.Empty(t, ev.SegmentKey)
}

func TestFromWebhookPayload_RecallDataShape(t *testing.T) {
	n, emit := newTestNormalizer()

	body := `{"event":"transcript.data","data":{
		"bot":{"id":"bot-1"},
		"transcript":{"id":"tr-9"},
		"data":{
			"participant":{"id":3,"name":"Bob"},
			"words":[
				{"text":"good","start_timestamp":{"relative":12.5,"absolute":"2026-03-01T09:59:58Z"}},
				{"text":"morning","start_timestamp":{"relative":12.9}}
			]
		}}}`
	require.True(t, n.FromWebhookPayload(context.Background(), mustEnvelope(t, body)))

	ev := emit.events[0]
	assert.Equal(t, "Bob", ev.Speaker)
	assert.Equal(t, "good morning", ev.Text)
	assert.True(t, ev.IsFinal)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 59, 58, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "ts:2026-03-01T09:59:58Z", ev.SegmentKey)
}

func TestFromWebhookPayload_PartialDefaultsInterim(t *testing.T) {
	n, emit := newTestNormalizer()

	require.True(t, n.FromWebhookPayload(context.Background(), mustEnvelope(t,
		`{"event":"transcript.partial_data","data":{"recording":{"id":"bot-1"},"data":{"words":[{"text":"goo"}]}}}`)))
	assert.False(t, emit.events[0].IsFinal)
	assert.Equal(t, domain.UnknownSpeaker, emit.events[0].Speaker)
}

func TestFromWebhookPayload_UnknownSessionDropped(t *testing.T) {
	n, emit := newTestNormalizer()

	ok := n.FromWebhookPayload(context.Background(), mustEnvelope(t,
		`{"event":"transcript.segment","data":{"bot_id":"ghost","segment":{"text":"hello"}}}`))
	assert.False(t, ok)
	assert.Empty(t, emit.events)
}

func TestFromWebhookPayload_Ignored(t *testing.T) {
	n, emit := newTestNormalizer()
	ctx := context.Background()

	assert.False(t, n.FromWebhookPayload(ctx, mustEnvelope(t, `{"event":"bot.status_change","data":{"bot_id":"bot-1"}}`)))
	assert.False(t, n.FromWebhookPayload(ctx, mustEnvelope(t, `{"event":"transcript.segment","data":{"bot_id":"bot-1"}}`)))
	assert.False(t, n.FromWebhookPayload(ctx, mustEnvelope(t, `{"event":"transcript.segment","data":{"bot_id":"bot-1","segment":{"text":"  "}}}`)))
	assert.False(t, n.FromWebhookPayload(ctx, mustEnvelope(t, `{"event":"transcript.segment","data":{"bot_id":"bot-1","segment":"oops"}}`)))
	assert.Empty(t, emit.events)
}

func TestFromStreamFrame(t *testing.T) {
	n, emit := newTestNormalizer()
	src := Source{ID: "bot-1", OwnerUserID: "u1", Channel: domain.ChannelSocket}
	ctx := context.Background()

	assert.False(t, n.FromStreamFrame(ctx, src, []byte(`{not json`)))
	assert.False(t, n.FromStreamFrame(ctx, src, []byte(`{"type":"keepalive"}`)))
	assert.False(t, n.FromStreamFrame(ctx, src, []byte(`{"type":"transcript","data":["x"]}`)))

	require.True(t, n.FromStreamFrame(ctx, src, []byte(
		`{"type":"transcript","data":{"speaker":"Carol","words":[{"text":"one"},{"text":"two"}],"is_final":false,"confidence":1.7,"timestamp":1772359200}}`)))
	require.True(t, n.FromStreamFrame(ctx, src, []byte(
		`{"type":"transcript","data":{"id":42,"text":"done","confidence":-0.2}}`)))

	require.Len(t, emit.events, 2)
	interim := emit.events[0]
	assert.Equal(t, "Carol", interim.Speaker)
	assert.Equal(t, "one two", interim.Text)
	assert.False(t, interim.IsFinal)
	assert.Equal(t, 1.0, interim.Confidence)
	assert.Equal(t, time.Unix(1772359200, 0).UTC(), interim.Timestamp)
	assert.Equal(t, domain.ChannelSocket, interim.Channel)

	final := emit.events[1]
	assert.True(t, final.IsFinal)
	assert.Equal(t, 0.0, final.Confidence)
	assert.Equal(t, "id:42", final.SegmentKey)
}

func TestEnvelope_SessionID(t *testing.T) {
	assert.Equal(t, "b1", Envelope{Data: []byte(`{"bot_id":"b1","bot":{"id":"b2"}}`)}.SessionID())
	assert.Equal(t, "b2", Envelope{Data: []byte(`{"bot":{"id":"b2"}}`)}.SessionID())
	assert.Equal(t, "r3", Envelope{Data: []byte(`{"recording":{"id":"r3"}}`)}.SessionID())
	assert.Equal(t, "7", Envelope{Data: []byte(`{"bot_id":7}`)}.SessionID())
	assert.Empty(t, Envelope{Data: []byte(`[]`)}.SessionID())
}

func TestParseTimestamp(t *testing.T) {
	at, key := parseTimestamp([]byte(`"2026-03-01T10:00:00.5Z"`))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 5e8, time.UTC), at.UTC())
	assert.Equal(t, "2026-03-01T10:00:00.5Z", key)

	at, key = parseTimestamp([]byte(`1772359200123`))
	assert.Equal(t, time.UnixMilli(1772359200123), at)
	assert.Equal(t, "1772359200123", key)

	at, key = parseTimestamp([]byte(`3.25`))
	assert.True(t, at.IsZero())
	assert.Equal(t, "3.25", key)

	at, key = parseTimestamp(nil)
	assert.True(t, at.IsZero())
	assert.Empty(t, key)
}
