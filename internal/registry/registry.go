package registry

import (
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

type entry struct {
	session domain.BotSession
	channel io.Closer
}

// Registry is the in-process table of active bot sessions. It is the only
// holder of BotSession state; callers receive copies.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	byOwner  map[string]string
	pending  map[string]struct{}
	closed   bool
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		byOwner:  make(map[string]string),
		pending:  make(map[string]struct{}),
	}
}

// activeLocked returns the owner's non-terminal session id
func (r *Registry) activeLocked(ownerUserID string) (string, bool) {
	id, ok := r.byOwner[ownerUserID]
	if !ok {
		return "", false
	}
	e, ok := r.sessions[id]
	if !ok || e.session.Status.IsTerminal() {
		return "", false
	}
	return id, true
}

// Reserve claims the owner's launch slot ahead of the provider call.
// Fails with ConflictError when a session or another launch already holds it.
func (r *Registry) Reserve(ownerUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.ErrShuttingDown
	}
	if id, ok := r.activeLocked(ownerUserID); ok {
		return &domain.ConflictError{OwnerUserID: ownerUserID, SessionID: id}
	}
	if _, ok := r.pending[ownerUserID]; ok {
		return &domain.ConflictError{OwnerUserID: ownerUserID}
	}
	r.pending[ownerUserID] = struct{}{}
	return nil
}

// Release drops a reservation. Safe to call after Register.
func (r *Registry) Release(ownerUserID string) {
	r.mu.Lock()
	delete(r.pending, ownerUserID)
	r.mu.Unlock()
}

// Register stores a session. The owner check and insert happen in one
// critical section; an owner reservation is consumed.
func (r *Registry) Register(session domain.BotSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.ErrShuttingDown
	}
	if id, ok := r.activeLocked(session.OwnerUserID); ok {
		return &domain.ConflictError{OwnerUserID: session.OwnerUserID, SessionID: id}
	}
	if _, exists := r.sessions[session.ID]; exists {
		return &domain.ConflictError{OwnerUserID: session.OwnerUserID, SessionID: session.ID}
	}

	if session.TranscriptChannel == "" {
		session.TranscriptChannel = domain.ChannelNone
	}
	r.sessions[session.ID] = &entry{session: session}
	r.byOwner[session.OwnerUserID] = session.ID
	delete(r.pending, session.OwnerUserID)
	return nil
}

// Close stops the registry from accepting new sessions. Sessions already
// registered stay until removed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// FindByUser returns the owner's current session, or nil
func (r *Registry) FindByUser(ownerUserID string) *domain.BotSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byOwner[ownerUserID]
	if !ok {
		return nil
	}
	e, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s := e.session
	return &s
}

// FindByID returns the session with the given id, or nil
func (r *Registry) FindByID(sessionID string) *domain.BotSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	s := e.session
	return &s
}

// UpdateStatus applies a status change. Unknown sessions, repeated statuses
// and transitions out of a terminal state are ignored. Reports whether the
// stored status changed.
func (r *Registry) UpdateStatus(sessionID string, status domain.BotStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if !e.session.Status.CanTransition(status) {
		return false
	}
	e.session.Status = status
	return true
}

// AttachChannel records the active transcript channel for a session and the
// resource to close on removal. A previously attached resource is closed.
// Returns false when the session is unknown; the caller owns closer then.
func (r *Registry) AttachChannel(sessionID string, kind domain.ChannelKind, closer io.Closer) bool {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	previous := e.channel
	e.session.TranscriptChannel = kind
	e.channel = closer
	r.mu.Unlock()

	if previous != nil && previous != closer {
		closeChannel(sessionID, previous)
	}
	return true
}

// Remove deletes a session and closes its transcript channel before
// returning. Returns the removed session, or nil if it was not present.
func (r *Registry) Remove(sessionID string) *domain.BotSession {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, sessionID)
	if r.byOwner[e.session.OwnerUserID] == sessionID {
		delete(r.byOwner, e.session.OwnerUserID)
	}
	r.mu.Unlock()

	if e.channel != nil {
		closeChannel(sessionID, e.channel)
	}
	s := e.session
	return &s
}

// ListAll returns every session, oldest first
func (r *Registry) ListAll() []domain.BotSession {
	r.mu.Lock()
	out := make([]domain.BotSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func closeChannel(sessionID string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("closing transcript channel")
	}
}
