package transcript

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/metrics"
)

// Webhook event names with transcript content
const (
	EventSegment     = "transcript.segment"
	EventData        = "transcript.data"
	EventPartialData = "transcript.partial_data"
	EventStatus      = "bot.status_change"
)

// Emitter receives every normalized transcript event
type Emitter interface {
	Emit(ctx context.Context, ev domain.TranscriptEvent)
}

// SessionLookup resolves webhook session ids to registered sessions
type SessionLookup interface {
	FindByID(sessionID string) *domain.BotSession
}

// Source identifies the session a stream belongs to
type Source struct {
	ID          string
	OwnerUserID string
	Channel     domain.ChannelKind
}

// Envelope is the outer shape of a provider webhook
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEnvelope decodes a webhook body
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// IsTranscript reports whether the webhook carries transcript content
func (e Envelope) IsTranscript() bool {
	return strings.HasPrefix(e.Event, "transcript.")
}

// IsStatus reports whether the webhook is a bot lifecycle notification
func (e Envelope) IsStatus() bool {
	return strings.HasPrefix(e.Event, "bot.")
}

// SessionID resolves the session id from data.bot_id, data.bot.id or
// data.recording.id
func (e Envelope) SessionID() string {
	var data struct {
		BotID json.RawMessage `json:"bot_id"`
		Bot   struct {
			ID json.RawMessage `json:"id"`
		} `json:"bot"`
		Recording struct {
			ID json.RawMessage `json:"id"`
		} `json:"recording"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}
	for _, raw := range []json.RawMessage{data.BotID, data.Bot.ID, data.Recording.ID} {
		if id := rawString(raw); id != "" {
			return id
		}
	}
	return ""
}

type timestampObject struct {
	Absolute string   `json:"absolute"`
	Relative *float64 `json:"relative"`
}

type word struct {
	Text           string          `json:"text"`
	Confidence     *float64        `json:"confidence"`
	StartTimestamp json.RawMessage `json:"start_timestamp"`
}

type segment struct {
	ID          json.RawMessage `json:"id"`
	Speaker     string          `json:"speaker"`
	Participant *struct {
		Name string `json:"name"`
	} `json:"participant"`
	Text       *string         `json:"text"`
	Words      []word          `json:"words"`
	IsFinal    *bool           `json:"is_final"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Confidence *float64        `json:"confidence"`
}

// Normalizer converts provider payloads into canonical transcript events.
// It has no side effects beyond calling the emitter.
type Normalizer struct {
	sessions SessionLookup
	emit     Emitter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewNormalizer creates a new normalizer
func NewNormalizer(sessions SessionLookup, emit Emitter, m *metrics.Metrics) *Normalizer {
	return &Normalizer{
		sessions: sessions,
		emit:     emit,
		metrics:  m,
		now:      time.Now,
	}
}

// FromWebhookPayload emits the transcript event carried by a webhook.
// Payloads for unknown sessions and malformed segments are dropped.
// Reports whether an event was emitted.
func (n *Normalizer) FromWebhookPayload(ctx context.Context, env Envelope) bool {
	if !env.IsTranscript() {
		return false
	}

	sessionID := env.SessionID()
	session := n.sessions.FindByID(sessionID)
	if session == nil {
		n.drop("unknown_session")
		log.Info().Str("session_id", sessionID).Str("event", env.Event).Msg("dropping transcript for unknown session")
		return false
	}

	var data struct {
		Segment    json.RawMessage `json:"segment"`
		Data       json.RawMessage `json:"data"`
		Transcript json.RawMessage `json:"transcript"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		n.drop("malformed")
		log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping malformed webhook data")
		return false
	}

	raw := firstObject(data.Segment, data.Data, data.Transcript)
	if raw == nil {
		n.drop("no_segment")
		log.Debug().Str("session_id", sessionID).Str("event", env.Event).Msg("webhook carried no transcript segment")
		return false
	}

	src := Source{ID: session.ID, OwnerUserID: session.OwnerUserID, Channel: domain.ChannelWebhook}
	return n.emitSegment(ctx, src, raw, env.Event != EventPartialData)
}

// FromStreamFrame emits the transcript event carried by one stream frame.
// Malformed frames are dropped; non-transcript frames are ignored.
func (n *Normalizer) FromStreamFrame(ctx context.Context, src Source, frame []byte) bool {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.drop("malformed")
		log.Debug().Err(err).Str("session_id", src.ID).Msg("dropping malformed stream frame")
		return false
	}

	switch msg.Type {
	case "transcript", EventSegment, EventData:
		return n.emitSegment(ctx, src, msg.Data, true)
	case EventPartialData, "transcript.partial":
		return n.emitSegment(ctx, src, msg.Data, false)
	default:
		return false
	}
}

func (n *Normalizer) emitSegment(ctx context.Context, src Source, raw json.RawMessage, defaultFinal bool) bool {
	var seg segment
	if err := json.Unmarshal(raw, &seg); err != nil {
		n.drop("malformed")
		log.Debug().Err(err).Str("session_id", src.ID).Msg("dropping malformed transcript segment")
		return false
	}

	ev, ok := n.build(src, seg, defaultFinal)
	if !ok {
		n.drop("empty")
		return false
	}

	n.metrics.TranscriptEventsTotal.WithLabelValues(string(src.Channel), strconv.FormatBool(ev.IsFinal)).Inc()
	n.emit.Emit(ctx, ev)
	return true
}

func (n *Normalizer) build(src Source, seg segment, defaultFinal bool) (domain.TranscriptEvent, bool) {
	ev := domain.TranscriptEvent{
		SourceID:    src.ID,
		OwnerUserID: src.OwnerUserID,
		Speaker:     speakerOf(seg),
		Text:        textOf(seg),
		IsFinal:     defaultFinal,
		Confidence:  1.0,
		Channel:     src.Channel,
	}
	if seg.IsFinal != nil {
		ev.IsFinal = *seg.IsFinal
	}
	if ev.IsFinal && ev.Text == "" {
		return ev, false
	}

	if seg.Confidence != nil {
		ev.Confidence = clampConfidence(*seg.Confidence)
	}

	tsRaw := seg.Timestamp
	if len(tsRaw) == 0 && len(seg.Words) > 0 {
		tsRaw = seg.Words[0].StartTimestamp
	}
	at, tsKey := parseTimestamp(tsRaw)
	if at.IsZero() {
		at = n.now()
	}
	ev.Timestamp = at.UTC()

	if id := rawString(seg.ID); id != "" {
		ev.SegmentKey = "id:" + id
	} else if tsKey != "" {
		ev.SegmentKey = "ts:" + tsKey
	}
	return ev, true
}

func speakerOf(seg segment) string {
	if s := strings.TrimSpace(seg.Speaker); s != "" {
		return s
	}
	if seg.Participant != nil {
		if s := strings.TrimSpace(seg.Participant.Name); s != "" {
			return s
		}
	}
	return domain.UnknownSpeaker
}

func textOf(seg segment) string {
	if seg.Text != nil {
		return strings.TrimSpace(*seg.Text)
	}
	parts := make([]string, 0, len(seg.Words))
	for _, w := range seg.Words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 1.0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// parseTimestamp accepts an RFC 3339 string, unix seconds or milliseconds,
// or an {absolute, relative} object. Relative offsets identify the segment
// but carry no wall-clock time. The second result is a stable key for the
// supplied value, empty when nothing usable was present.
func parseTimestamp(raw json.RawMessage) (time.Time, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, s
		}
		if s != "" {
			return time.Time{}, s
		}
		return time.Time{}, ""
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		key := strconv.FormatFloat(f, 'f', -1, 64)
		switch {
		case f > 1e12:
			return time.UnixMilli(int64(f)), key
		case f > 1e9:
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)), key
		default:
			return time.Time{}, key
		}
	}

	var obj timestampObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Absolute != "" {
			if t, err := time.Parse(time.RFC3339Nano, obj.Absolute); err == nil {
				return t, obj.Absolute
			}
		}
		if obj.Relative != nil {
			return time.Time{}, strconv.FormatFloat(*obj.Relative, 'f', -1, 64)
		}
	}
	return time.Time{}, ""
}

// rawString renders a JSON string or number id as text
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// firstObject returns the first candidate that is a JSON object
func firstObject(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		trimmed := strings.TrimSpace(string(c))
		if strings.HasPrefix(trimmed, "{") {
			return c
		}
	}
	return nil
}

func (n *Normalizer) drop(reason string) {
	n.metrics.DroppedEventsTotal.WithLabelValues(reason).Inc()
}
