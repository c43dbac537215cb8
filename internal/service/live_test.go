package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/stt"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

// fakeStream is an in-memory AudioStream
type fakeStream struct {
	frames chan []byte
	failed chan error
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	audio [][]byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan []byte, 8),
		failed: make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) SendAudio(chunk []byte) error {
	select {
	case <-f.closed:
		return stt.ErrStreamClosed
	default:
	}
	f.mu.Lock()
	f.audio = append(f.audio, chunk)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) ReadFrame() ([]byte, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case err := <-f.failed:
		return nil, err
	case <-f.closed:
		return nil, stt.ErrStreamClosed
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) chunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

// frameSpy records frames handed to the normalizer
type frameSpy struct {
	mu     sync.Mutex
	frames []string
	source transcript.Source
}

func (s *frameSpy) FromStreamFrame(_ context.Context, src transcript.Source, frame []byte) bool {
	s.mu.Lock()
	s.frames = append(s.frames, string(frame))
	s.source = src
	s.mu.Unlock()
	return true
}

func (s *frameSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newLiveFixture(stream *fakeStream) (*LiveSessions, *frameSpy, *MockRecorder, *liveSpy) {
	sink := &frameSpy{}
	recorder := new(MockRecorder)
	recorder.On("Open", mock.Anything, mock.Anything, mock.Anything).Maybe()
	recorder.On("MarkEnded", mock.Anything, mock.Anything, mock.Anything).Maybe()
	live := &liveSpy{}
	dial := func(context.Context) (AudioStream, error) { return stream, nil }
	return NewLiveSessions(dial, sink, recorder, live), sink, recorder, live
}

func TestLiveSessions_StartAudioStop(t *testing.T) {
	stream := newFakeStream()
	sessions, sink, recorder, live := newLiveFixture(stream)
	conn := &connSpy{id: "conn-1"}

	id, err := sessions.Start(context.Background(), conn, "u1", "")
	require.NoError(t, err)
	assert.Contains(t, id, "live-")
	assert.Equal(t, 1, sessions.Len())
	recorder.AssertCalled(t, "Open", "u1", id, "Live transcription")

	require.NoError(t, sessions.Audio("conn-1", []byte{1, 2, 3}))
	assert.Equal(t, 1, stream.chunks())

	stream.frames <- []byte(`{"type":"transcript","data":{"text":"hi"}}`)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, transcript.Source{ID: id, OwnerUserID: "u1", Channel: domain.ChannelSocket}, sink.source)
	sink.mu.Unlock()

	stopped, ok := sessions.Stop("conn-1")
	assert.True(t, ok)
	assert.Equal(t, id, stopped)
	assert.Equal(t, 0, sessions.Len())
	recorder.AssertCalled(t, "MarkEnded", "u1", id, domain.MeetingEnded)
	assert.Equal(t, []string{id}, live.forgot)

	// a stopped session sends no notices
	sessions.StopAll()
	assert.Empty(t, conn.messages())

	assert.ErrorIs(t, sessions.Audio("conn-1", []byte{4}), ErrNoTranscription)
	_, ok = sessions.Stop("conn-1")
	assert.False(t, ok)
}

func TestLiveSessions_OnePerConnection(t *testing.T) {
	sessions, _, _, _ := newLiveFixture(newFakeStream())
	conn := &connSpy{id: "conn-1"}

	_, err := sessions.Start(context.Background(), conn, "u1", "Standup")
	require.NoError(t, err)
	_, err = sessions.Start(context.Background(), conn, "u1", "Standup")
	assert.ErrorIs(t, err, ErrTranscriptionRunning)

	sessions.StopAll()
	assert.Equal(t, 0, sessions.Len())
}

func TestLiveSessions_StreamDropNotifiesClient(t *testing.T) {
	stream := newFakeStream()
	sessions, _, recorder, _ := newLiveFixture(stream)
	conn := &connSpy{id: "conn-1"}

	id, err := sessions.Start(context.Background(), conn, "u1", "Standup")
	require.NoError(t, err)

	stream.failed <- errors.New("connection reset by peer")
	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)

	msgs := conn.messages()
	assert.Equal(t, hub.TypeError, msgs[0].Type)
	assert.Equal(t, StreamLostNotice, msgs[0].Message)
	assert.Equal(t, hub.TypeTranscriptionStopped, msgs[1].Type)
	assert.Equal(t, id, msgs[1].SessionID)
	assert.Equal(t, 0, sessions.Len())
	recorder.AssertCalled(t, "MarkEnded", "u1", id, domain.MeetingEnded)

	// the connection may start again
	_, err = sessions.Start(context.Background(), conn, "u1", "")
	assert.NoError(t, err)
	sessions.StopAll()
}

func TestLiveSessions_DialFailures(t *testing.T) {
	unconfigured := NewLiveSessions(nil, &frameSpy{}, new(MockRecorder), &liveSpy{})
	_, err := unconfigured.Start(context.Background(), &connSpy{id: "c"}, "u1", "")
	assert.ErrorIs(t, err, stt.ErrNotConfigured)

	refused := errors.New("dial refused")
	failing := NewLiveSessions(func(context.Context) (AudioStream, error) { return nil, refused }, &frameSpy{}, new(MockRecorder), &liveSpy{})
	_, err = failing.Start(context.Background(), &connSpy{id: "c"}, "u1", "")
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 0, failing.Len())
}
