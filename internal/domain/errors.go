package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError via errors.Is
var ErrNotFound = errors.New("not found")

// ErrShuttingDown is returned for launches that arrive once the process has
// started its shutdown sweep
var ErrShuttingDown = errors.New("service is shutting down")

// ConflictError is returned when a user already holds an active session
type ConflictError struct {
	OwnerUserID string
	SessionID   string
}

func (e *ConflictError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("user %s already has a session being launched", e.OwnerUserID)
	}
	return fmt.Sprintf("user %s already has an active session (%s)", e.OwnerUserID, e.SessionID)
}

// ProviderError is returned when an upstream provider call fails
type ProviderError struct {
	Op      string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider %s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("provider %s failed (status %d): %s", e.Op, e.Status, e.Message)
}

// NotFoundError is returned when a referenced session or record does not exist
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ChannelError is returned when a transcript delivery channel fails
type ChannelError struct {
	SessionID string
	Kind      ChannelKind
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s transcript channel for session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a storage failure. It never leaves the persistence
// adapter; it exists so the adapter can log a uniform shape.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
