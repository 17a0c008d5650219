package orch

import (
	"context"
	"sync"

	"github.com/dkeye/SupportChat/internal/app"
	"github.com/dkeye/SupportChat/internal/core"
	"github.com/dkeye/SupportChat/internal/domain"
	"github.com/rs/zerolog/log"
)

type Options struct {
	StableRooms bool
	Limiter     *app.MessageRateLimiter
}

// Relay wires connection lifecycle and inbound frames to the store.
// Every mutating operation runs under mu, so fan-out order, room_joined
// history and roster snapshots all observe one serial history.
type Relay struct {
	mu sync.Mutex

	Registry *app.Registry
	Store    *app.RoomStore
	Roster   *app.RosterBroadcaster
	Router   *Router
}

func NewRelay(opts Options) *Relay {
	reg := app.NewRegistry()
	store := app.NewRoomStore()
	roster := &app.RosterBroadcaster{Store: store, Registry: reg}
	router := NewRouter(reg, store, roster)
	router.StableRooms = opts.StableRooms
	router.Limiter = opts.Limiter
	return &Relay{
		Registry: reg,
		Store:    store,
		Roster:   roster,
		Router:   router,
	}
}

// OnConnect registers a new connection under a fresh session id and
// acknowledges it.
func (r *Relay) OnConnect(browserToken string, conn core.SignalConnection, cancel context.CancelFunc) *core.Session {
	sess := core.NewSession(core.NewSessionID(), browserToken)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Registry.Bind(sess, conn, cancel)
	frame, err := core.Encode(core.ConnectedFrame{
		Type:     core.FrameConnected,
		Message:  core.ConnectedGreeting,
		ClientID: sess.ID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "orch.relay").Msg("encode connected")
		return sess
	}
	_ = r.Registry.Send(sess.ID, frame)
	return sess
}

func (r *Relay) OnFrame(sid core.SessionID, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Router.Route(sid, data)
}

// OnDisconnect handles both clean closes and transport errors.
func (r *Relay) OnDisconnect(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.Registry.GetSession(sid); ok {
		sess.Detach()
	}
	if roomID, ok := r.Store.Leave(sid); ok {
		log.Info().Str("module", "orch.relay").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room on disconnect")
	}
	if !r.Registry.Unbind(sid) {
		return
	}
	r.Router.Limiter.Forget(sid)
	r.Roster.Refresh()
}

func (r *Relay) Rooms() []domain.RoomSummary {
	return r.Store.Snapshot()
}

type Stats struct {
	Sessions int `json:"sessions"`
	Rooms    int `json:"rooms"`
}

func (r *Relay) Stats() Stats {
	return Stats{Sessions: r.Registry.Count(), Rooms: r.Store.RoomCount()}
}

// Shutdown cancels every live connection.
func (r *Relay) Shutdown() {
	n := r.Registry.CancelAll()
	log.Info().Str("module", "orch.relay").Int("sessions", n).Msg("relay shutdown")
}
