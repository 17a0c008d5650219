package core

import (
	"sync"

	"github.com/dkeye/SupportChat/internal/domain"
)

type SessionState int

const (
	StateUnidentified SessionState = iota
	StateShopperInRoom
	StateOperatorIdle
	StateOperatorInRoom
	// StateClosed is a shopper whose connection is gone.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateShopperInRoom:
		return "shopper-in-room"
	case StateOperatorIdle:
		return "operator-idle"
	case StateOperatorInRoom:
		return "operator-in-room"
	case StateClosed:
		return "closed"
	default:
		return "unidentified"
	}
}

// Session is the server-side state of one live connection.
// Identity is write-once; room attachment changes on identify and join_room.
type Session struct {
	ID SessionID
	// BrowserToken is the cookie token of the browser that opened the
	// connection. It outlives the connection.
	BrowserToken string

	mu       sync.RWMutex
	identity *domain.Identity
	roomID   domain.RoomID
}

func NewSession(id SessionID, browserToken string) *Session {
	return &Session{ID: id, BrowserToken: browserToken}
}

// Identify records the identity. Only the first call wins.
func (s *Session) Identify(identity domain.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return false
	}
	s.identity = &identity
	return true
}

func (s *Session) Identity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

func (s *Session) IsOperator() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil && s.identity.SessionRole() == domain.RoleOperator
}

func (s *Session) RoomID() (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID, s.roomID != ""
}

func (s *Session) Attach(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
}

func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = ""
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.identity == nil:
		return StateUnidentified
	case s.identity.SessionRole() == domain.RoleOperator && s.roomID == "":
		return StateOperatorIdle
	case s.identity.SessionRole() == domain.RoleOperator:
		return StateOperatorInRoom
	case s.roomID == "":
		return StateClosed
	default:
		return StateShopperInRoom
	}
}
