package app

import (
	"github.com/dkeye/SupportChat/internal/core"
	"github.com/rs/zerolog/log"
)

// RosterBroadcaster pushes the full room roster to operators. There is no
// diffing: every refresh resends everything.
type RosterBroadcaster struct {
	Store    *RoomStore
	Registry *Registry
}

func (b *RosterBroadcaster) frame() (core.Frame, bool) {
	f, err := core.Encode(core.RoomListFrame{Type: core.FrameRoomList, Rooms: b.Store.Snapshot()})
	if err != nil {
		log.Error().Err(err).Str("module", "app.roster").Msg("encode room list")
		return nil, false
	}
	return f, true
}

// Refresh sends one identical room_list to every connected operator and
// returns how many accepted it.
func (b *RosterBroadcaster) Refresh() int {
	ops := b.Registry.Operators()
	if len(ops) == 0 {
		return 0
	}
	f, ok := b.frame()
	if !ok {
		return 0
	}
	sent := 0
	for _, sid := range ops {
		if b.Registry.Send(sid, f) == nil {
			sent++
		}
	}
	log.Debug().Str("module", "app.roster").Int("operators", len(ops)).Int("sent", sent).Msg("roster refreshed")
	return sent
}

func (b *RosterBroadcaster) SendTo(sid core.SessionID) {
	if f, ok := b.frame(); ok {
		_ = b.Registry.Send(sid, f)
	}
}
