package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/metrics"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	got    []Message
	fail   bool
	closed bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.got...)
}

func transcript(owner, text string) domain.TranscriptEvent {
	return domain.TranscriptEvent{SourceID: "bot-" + owner, OwnerUserID: owner, Speaker: "Alice", Text: text, IsFinal: true}
}

func TestPublish_IsolatedPerUser(t *testing.T) {
	h := New(metrics.NewNop())
	u1a := &fakeConn{id: "a"}
	u1b := &fakeConn{id: "b"}
	u2 := &fakeConn{id: "c"}
	h.Subscribe("u1", u1a)
	h.Subscribe("u1", u1b)
	h.Subscribe("u2", u2)

	h.Publish(transcript("u1", "hello"))

	for _, c := range []*fakeConn{u1a, u1b} {
		msgs := c.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeTranscription, msgs[0].Type)
		assert.Equal(t, "hello", msgs[0].Data.(domain.TranscriptEvent).Text)
	}
	assert.Empty(t, u2.messages())
}

func TestPublish_PrunesFailedConnection(t *testing.T) {
	h := New(metrics.NewNop())
	bad := &fakeConn{id: "bad", fail: true}
	good := &fakeConn{id: "good"}
	h.Subscribe("u1", bad)
	h.Subscribe("u1", good)

	h.Publish(transcript("u1", "one"))
	h.Publish(transcript("u1", "two"))

	assert.Len(t, good.messages(), 2)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, h.SubscriberCount("u1"))
}

func TestPublish_PreservesOrder(t *testing.T) {
	h := New(metrics.NewNop())
	c := &fakeConn{id: "a"}
	h.Subscribe("u1", c)

	for _, text := range []string{"1", "2", "3", "4"} {
		h.Publish(transcript("u1", text))
	}

	msgs := c.messages()
	require.Len(t, msgs, 4)
	for i, want := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, want, msgs[i].Data.(domain.TranscriptEvent).Text)
	}
}

func TestUnsubscribe_RemovesFromAllBuckets(t *testing.T) {
	h := New(metrics.NewNop())
	c := &fakeConn{id: "a"}
	h.Subscribe("u1", c)
	h.Subscribe("u2", c)

	h.Unsubscribe(c)
	h.Unsubscribe(c)

	h.Publish(transcript("u1", "x"))
	h.PublishControl("u2", Pong())
	assert.Empty(t, c.messages())
	assert.Zero(t, h.SubscriberCount("u1"))
	assert.Zero(t, h.SubscriberCount("u2"))
}

func TestShutdown_ClosesConnections(t *testing.T) {
	h := New(metrics.NewNop())
	c := &fakeConn{id: "a"}
	h.Subscribe("u1", c)

	h.Shutdown()
	assert.True(t, c.closed)
	assert.Zero(t, h.SubscriberCount("u1"))
}

type pongHandler struct {
	closed chan struct{}
	audio  chan []byte
}

func (p *pongHandler) HandleMessage(_ context.Context, c *Client, msg Inbound) {
	if msg.Type == TypePing {
		c.Send(Pong())
	}
}

func (p *pongHandler) HandleAudio(_ context.Context, _ *Client, data []byte) {
	p.audio <- data
}

func (p *pongHandler) HandleClose(*Client) {
	close(p.closed)
}

func TestClient_RoundTrip(t *testing.T) {
	handler := &pongHandler{closed: make(chan struct{}), audio: make(chan []byte, 1)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, "u1", config.RealtimeConfig{SendBuffer: 4})
		client.Run(context.Background(), handler)
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	var got Message
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, TypePong, got.Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, TypeError, got.Type)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	select {
	case data := <-handler.audio:
		assert.Equal(t, []byte{1, 2, 3}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("audio frame not delivered")
	}

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-handler.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close not observed")
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	c := &Client{send: make(chan Message, 1), done: make(chan struct{})}
	require.NoError(t, c.Send(Pong()))
	assert.ErrorIs(t, c.Send(Pong()), ErrSlowConsumer)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send(Pong()), ErrClosed)
}
