package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/config"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Handler processes what a realtime client sends
type Handler interface {
	HandleMessage(ctx context.Context, c *Client, msg Inbound)
	HandleAudio(ctx context.Context, c *Client, data []byte)
	HandleClose(c *Client)
}

// Client is a browser websocket connection
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once

	writeWait      time.Duration
	pongWait       time.Duration
	maxMessageSize int64

	mu     sync.RWMutex
	userID string
}

// NewClient wraps an upgraded connection. userID is the authenticated
// identity and may be empty when the client registers itself later.
func NewClient(conn *websocket.Conn, userID string, cfg config.RealtimeConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	c := &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan Message, buffer),
		done:           make(chan struct{}),
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		maxMessageSize: cfg.MaxMessageSize,
		userID:         userID,
	}
	if c.writeWait <= 0 {
		c.writeWait = 10 * time.Second
	}
	if c.pongWait <= 0 {
		c.pongWait = 60 * time.Second
	}
	if c.maxMessageSize <= 0 {
		c.maxMessageSize = 1 << 20
	}
	return c
}

func (c *Client) ID() string {
	return c.id
}

// UserID returns the identity the client is acting as
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetUserID binds the client to a user id
func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Send queues msg without blocking
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write loop, which closes the socket
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done is closed once the client has been closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Run serves the connection until it closes
func (c *Client) Run(ctx context.Context, h Handler) {
	go c.writePump()
	c.readPump(ctx, h)
}

func (c *Client) readPump(ctx context.Context, h Handler) {
	defer func() {
		c.Close()
		h.HandleClose(c)
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("realtime connection closed unexpectedly")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		if kind == websocket.BinaryMessage {
			h.HandleAudio(ctx, c, data)
			continue
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.Send(Error("invalid message"))
			continue
		}
		h.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.drain()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeWait))
			return
		}
	}
}

// drain flushes messages queued before Close
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
