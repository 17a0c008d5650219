package core

import "github.com/google/uuid"

// Frame is one encoded text frame as it goes over the wire.
type Frame []byte

type SessionID string

// NewSessionID returns a fresh connection id. Ids are never reused.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. A closed or saturated
	// connection returns an error and the frame is lost.
	TrySend(Frame) error
	Close()
}
