package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/channel"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/stt"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

// ErrTranscriptionRunning is returned when a connection already streams audio
var ErrTranscriptionRunning = errors.New("transcription already running on this connection")

// ErrNoTranscription is returned when audio arrives without a running session
var ErrNoTranscription = errors.New("no transcription running on this connection")

// StreamLostNotice tells the client its speech-to-text stream ended
const StreamLostNotice = "speech-to-text stream ended unexpectedly"

// AudioStream is a duplex speech-to-text connection
type AudioStream interface {
	SendAudio(chunk []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// DialFunc opens a new AudioStream
type DialFunc func(ctx context.Context) (AudioStream, error)

// STTDialer adapts the STT client to a DialFunc
func STTDialer(c *stt.Client) DialFunc {
	return func(ctx context.Context) (AudioStream, error) {
		s, err := c.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type liveSession struct {
	id     string
	owner  string
	conn   hub.Connection
	stream AudioStream
}

// LiveSessions runs direct transcription sessions where the browser sends
// audio over its realtime connection instead of a bot joining a meeting.
// Each connection holds at most one session.
type LiveSessions struct {
	dial     DialFunc
	sink     channel.FrameSink
	recorder Recorder
	live     LiveView

	mu       sync.Mutex
	sessions map[string]*liveSession
	wg       sync.WaitGroup
}

// NewLiveSessions creates the session manager. dial may be nil when no STT
// service is configured; Start then fails.
func NewLiveSessions(dial DialFunc, sink channel.FrameSink, recorder Recorder, live LiveView) *LiveSessions {
	return &LiveSessions{
		dial:     dial,
		sink:     sink,
		recorder: recorder,
		live:     live,
		sessions: make(map[string]*liveSession),
	}
}

// Start opens a speech-to-text stream for conn and returns the session id
func (l *LiveSessions) Start(ctx context.Context, conn hub.Connection, ownerUserID, title string) (string, error) {
	if l.dial == nil {
		return "", stt.ErrNotConfigured
	}

	l.mu.Lock()
	if _, ok := l.sessions[conn.ID()]; ok {
		l.mu.Unlock()
		return "", ErrTranscriptionRunning
	}
	// hold the slot while dialling
	l.sessions[conn.ID()] = nil
	l.mu.Unlock()

	stream, err := l.dial(ctx)
	if err != nil {
		l.mu.Lock()
		delete(l.sessions, conn.ID())
		l.mu.Unlock()
		return "", err
	}

	s := &liveSession{
		id:     "live-" + uuid.NewString(),
		owner:  ownerUserID,
		conn:   conn,
		stream: stream,
	}
	l.mu.Lock()
	l.sessions[conn.ID()] = s
	l.mu.Unlock()

	if title == "" {
		title = "Live transcription"
	}
	l.recorder.Open(ownerUserID, s.id, title)
	log.Info().Str("session_id", s.id).Str("user_id", ownerUserID).Msg("live transcription started")

	l.wg.Add(1)
	go l.read(s)
	return s.id, nil
}

// Audio forwards an audio chunk to the connection's stream
func (l *LiveSessions) Audio(connID string, chunk []byte) error {
	l.mu.Lock()
	s := l.sessions[connID]
	l.mu.Unlock()
	if s == nil {
		return ErrNoTranscription
	}
	return s.stream.SendAudio(chunk)
}

// Stop ends the connection's session and returns its id
func (l *LiveSessions) Stop(connID string) (string, bool) {
	s := l.detach(connID, nil)
	if s == nil {
		return "", false
	}
	l.end(s)
	return s.id, true
}

// StopAll ends every session and waits for their readers
func (l *LiveSessions) StopAll() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.Stop(id)
	}
	l.wg.Wait()
}

// Len returns the number of running sessions
func (l *LiveSessions) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// detach removes the connection's session; with want set only that session
func (l *LiveSessions) detach(connID string, want *liveSession) *liveSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[connID]
	if !ok || s == nil || (want != nil && s != want) {
		return nil
	}
	delete(l.sessions, connID)
	return s
}

func (l *LiveSessions) end(s *liveSession) {
	s.stream.Close()
	l.recorder.MarkEnded(s.owner, s.id, domain.MeetingEnded)
	l.live.Forget(s.id)
	log.Info().Str("session_id", s.id).Str("user_id", s.owner).Msg("live transcription stopped")
}

func (l *LiveSessions) read(s *liveSession) {
	defer l.wg.Done()

	src := transcript.Source{ID: s.id, OwnerUserID: s.owner, Channel: domain.ChannelSocket}
	ctx := context.Background()
	for {
		frame, err := s.stream.ReadFrame()
		if err != nil {
			if l.detach(s.conn.ID(), s) == nil {
				// stopped by the client
				return
			}
			log.Warn().Err(err).Str("session_id", s.id).Str("user_id", s.owner).Msg("speech-to-text stream dropped")
			l.end(s)
			s.conn.Send(hub.Error(StreamLostNotice))
			s.conn.Send(hub.TranscriptionStopped(s.id))
			return
		}
		l.sink.FromStreamFrame(ctx, src, frame)
	}
}
