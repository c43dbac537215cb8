// Package stt streams browser audio to a speech-to-text service over a websocket.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rrens/meeting-assistant/internal/config"
)

// ErrNotConfigured is returned by Open when no STT url is set
var ErrNotConfigured = errors.New("speech-to-text service is not configured")

// ErrStreamClosed is returned when sending on a closed stream
var ErrStreamClosed = errors.New("stt stream closed")

const writeWait = 10 * time.Second

// Client dials STT streams
type Client struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
}

// New creates a client for the configured STT endpoint
func New(cfg config.STTConfig) *Client {
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *Client) IsConfigured() bool {
	return c.url != ""
}

// Open dials a new stream. Frames read from it are JSON transcript
// messages of the form {"type":"transcript"|"transcript.partial","data":{...}}.
func (c *Client) Open(ctx context.Context) (*Stream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	header := http.Header{}
	if c.apiKey != "" {
		key := c.apiKey
		if !strings.HasPrefix(key, "Token ") && !strings.HasPrefix(key, "Bearer ") {
			key = "Token " + key
		}
		header.Set("Authorization", key)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial stt stream (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial stt stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Stream is one STT connection. SendAudio may be called from one goroutine
// while another reads frames.
type Stream struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// SendAudio forwards a binary audio chunk
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// ReadFrame blocks for the next text frame from the service
func (s *Stream) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and releases the connection
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.conn.Close()
}
