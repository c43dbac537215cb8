package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/metrics"
)

// Connection is a live subscriber. Send must not block: it either queues the
// message or fails.
type Connection interface {
	ID() string
	Send(msg Message) error
	Close() error
}

// Hub fans events out to the connections subscribed under each user id.
// Publishing holds the hub lock, so messages reach every connection in the
// order Publish was called.
type Hub struct {
	mu      sync.Mutex
	users   map[string]map[Connection]struct{}
	conns   map[Connection]map[string]struct{}
	metrics *metrics.Metrics
}

// New creates an empty hub
func New(m *metrics.Metrics) *Hub {
	return &Hub{
		users:   make(map[string]map[Connection]struct{}),
		conns:   make(map[Connection]map[string]struct{}),
		metrics: m,
	}
}

// Subscribe registers conn under userID. One connection may be subscribed
// under several users and one user may have many connections.
func (h *Hub) Subscribe(userID string, conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.users[userID]
	if !ok {
		bucket = make(map[Connection]struct{})
		h.users[userID] = bucket
	}
	bucket[conn] = struct{}{}

	owned, ok := h.conns[conn]
	if !ok {
		owned = make(map[string]struct{})
		h.conns[conn] = owned
		h.metrics.Subscribers.Inc()
	}
	owned[userID] = struct{}{}
}

// Unsubscribe removes conn from every user bucket
func (h *Hub) Unsubscribe(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn)
}

func (h *Hub) removeLocked(conn Connection) bool {
	owned, ok := h.conns[conn]
	if !ok {
		return false
	}
	for userID := range owned {
		bucket := h.users[userID]
		delete(bucket, conn)
		if len(bucket) == 0 {
			delete(h.users, userID)
		}
	}
	delete(h.conns, conn)
	h.metrics.Subscribers.Dec()
	return true
}

// Publish delivers a transcript event to the owner's connections
func (h *Hub) Publish(ev domain.TranscriptEvent) {
	h.PublishControl(ev.OwnerUserID, Transcription(ev))
}

// PublishControl delivers a message to every connection of userID. Failed
// connections are pruned and closed; delivery to the rest continues.
func (h *Hub) PublishControl(userID string, msg Message) {
	var failed []Connection

	h.mu.Lock()
	for conn := range h.users[userID] {
		if err := conn.Send(msg); err != nil {
			log.Debug().Err(err).Str("conn_id", conn.ID()).Str("user_id", userID).Msg("pruning realtime connection")
			failed = append(failed, conn)
			continue
		}
		h.metrics.DeliveriesTotal.Inc()
	}
	for _, conn := range failed {
		if h.removeLocked(conn) {
			h.metrics.PrunedConnsTotal.Inc()
		}
	}
	h.mu.Unlock()

	for _, conn := range failed {
		conn.Close()
	}
}

// SubscriberCount returns the number of connections subscribed under userID
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users[userID])
}

// Shutdown closes and forgets every connection
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]Connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.users = make(map[string]map[Connection]struct{})
	h.conns = make(map[Connection]map[string]struct{})
	h.metrics.Subscribers.Set(0)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
