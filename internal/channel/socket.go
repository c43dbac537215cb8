package channel

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/metrics"
	"github.com/Rrens/meeting-assistant/internal/provider"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

// StreamLostMessage is sent to the owner when a stream cannot be restored
const StreamLostMessage = "transcript stream lost; live transcription is paused for this session"

// StreamOpener dials a provider transcript stream
type StreamOpener interface {
	OpenStream(ctx context.Context, sessionID string) (provider.StreamConn, error)
}

type SocketOptions struct {
	Attempts int
	Backoff  time.Duration
}

// Socket reads transcripts from a provider stream per session. A dropped
// stream is re-dialled with exponential backoff; when every attempt fails
// the session keeps running with no channel and the owner is told.
type Socket struct {
	opener   StreamOpener
	sessions Sessions
	sink     FrameSink
	notify   Notifier
	attempts int
	backoff  time.Duration
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

// NewSocket creates a socket strategy
func NewSocket(opener StreamOpener, sessions Sessions, sink FrameSink, notify Notifier, opts SocketOptions, m *metrics.Metrics) *Socket {
	if opts.Attempts < 0 {
		opts.Attempts = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Socket{
		opener:   opener,
		sessions: sessions,
		sink:     sink,
		notify:   notify,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		metrics:  m,
	}
}

func (s *Socket) Kind() domain.ChannelKind {
	return domain.ChannelSocket
}

func (s *Socket) Prepare(*provider.LaunchOptions) {}

// Attach dials the stream and starts reading it in the background
func (s *Socket) Attach(ctx context.Context, session domain.BotSession) error {
	conn, err := s.opener.OpenStream(ctx, session.ID)
	if err != nil {
		return &domain.ChannelError{SessionID: session.ID, Kind: domain.ChannelSocket, Err: err}
	}

	l := newLink(conn)
	if !s.sessions.AttachChannel(session.ID, domain.ChannelSocket, l) {
		l.Close()
		return &domain.ChannelError{SessionID: session.ID, Kind: domain.ChannelSocket, Err: errNotRegistered}
	}

	s.wg.Add(1)
	go s.run(l, session)
	return nil
}

// Wait blocks until every reader has exited
func (s *Socket) Wait() {
	s.wg.Wait()
}

func (s *Socket) run(l *link, session domain.BotSession) {
	defer s.wg.Done()

	src := transcript.Source{ID: session.ID, OwnerUserID: session.OwnerUserID, Channel: domain.ChannelSocket}
	logger := log.With().Str("session_id", session.ID).Str("user_id", session.OwnerUserID).Logger()

	for {
		frame, err := l.stream().ReadFrame()
		if err == nil {
			s.sink.FromStreamFrame(l.ctx, src, frame)
			continue
		}
		if l.isClosed() {
			return
		}

		logger.Warn().Err(err).Msg("transcript stream dropped")
		if s.reconnect(l, session.ID) {
			s.metrics.ChannelDropsTotal.WithLabelValues("recovered").Inc()
			logger.Info().Msg("transcript stream restored")
			continue
		}
		if l.isClosed() {
			return
		}

		s.metrics.ChannelDropsTotal.WithLabelValues("abandoned").Inc()
		if !s.sessions.AttachChannel(session.ID, domain.ChannelNone, nil) {
			l.Close()
			return
		}
		logger.Error().Int("attempts", s.attempts).Msg("transcript stream could not be restored")
		s.notify.PublishControl(session.OwnerUserID, hub.Error(StreamLostMessage))
		return
	}
}

func (s *Socket) reconnect(l *link, sessionID string) bool {
	delay := s.backoff
	for attempt := 1; attempt <= s.attempts; attempt++ {
		select {
		case <-l.ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2

		current := s.sessions.FindByID(sessionID)
		if current == nil || current.Status.IsTerminal() {
			return false
		}

		conn, err := s.opener.OpenStream(l.ctx, sessionID)
		if err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Int("attempt", attempt).Msg("stream redial failed")
			continue
		}
		if !l.swap(conn) {
			conn.Close()
			return false
		}
		return true
	}
	return false
}

// link is the closer registered for a socket channel. It survives redials.
type link struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   provider.StreamConn
	closed bool
}

func newLink(conn provider.StreamConn) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{ctx: ctx, cancel: cancel, conn: conn}
}

func (l *link) stream() provider.StreamConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *link) swap(conn provider.StreamConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conn.Close()
	l.conn = conn
	return true
}

// Close stops the reader and closes the current stream
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.mu.Unlock()

	l.cancel()
	return conn.Close()
}
