package app

import (
	"context"
	"sync"

	"github.com/dkeye/SupportChat/internal/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var ErrUnknownSession = errors.New("unknown session")

type sessionEntry struct {
	Session *core.Session
	Conn    core.SignalConnection
	Cancel  context.CancelFunc
}

// Registry is the set of live connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sess *core.Session, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = &sessionEntry{Session: sess, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID)).Msg("bound session")
}

func (r *Registry) GetSession(sid core.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

// Send hands f to the session's transport. Unknown sessions and transport
// refusals are reported, never retried.
func (r *Registry) Send(sid core.SessionID, f core.Frame) error {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	if err := e.Conn.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "app.registry").Str("sid", string(sid)).Msg("send skipped")
		return err
	}
	return nil
}

// Operators returns the ids of every identified operator session.
func (r *Registry) Operators() []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := lo.PickBy(r.sessions, func(_ core.SessionID, e *sessionEntry) bool {
		return e.Session.IsOperator()
	})
	return lo.Keys(ops)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// CancelAll cancels every live session; their pumps unwind and unbind themselves.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	ids := lo.Keys(r.sessions)
	r.mu.RUnlock()
	for _, sid := range ids {
		r.Cancel(sid)
	}
	return len(ids)
}
