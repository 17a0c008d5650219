package app

import (
	"sync"
	"time"

	"github.com/dkeye/SupportChat/internal/core"
	"github.com/dkeye/SupportChat/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Member is what a room knows about one attached session.
type Member struct {
	Role     domain.Role
	Identity domain.Identity
}

type shopperRef struct {
	SID      core.SessionID
	Identity domain.Identity
}

type roomState struct {
	members    map[core.SessionID]Member
	shopper    *shopperRef
	transcript []domain.Message
}

// promoteShopper hands the roster identity to another shopper still in the
// room (a second tab sharing a stable room). With none left the departed
// shopper stays on record and the room shows offline.
func (r *roomState) promoteShopper() {
	for sid, m := range r.members {
		if m.Role == domain.RoleShopper {
			r.shopper = &shopperRef{SID: sid, Identity: m.Identity}
			return
		}
	}
}

// RoomStore owns room membership and transcripts. Rooms are never
// deleted; an empty room keeps its transcript for later review.
type RoomStore struct {
	mu         sync.RWMutex
	rooms      map[domain.RoomID]*roomState
	order      []domain.RoomID
	membership map[core.SessionID]domain.RoomID
	nextSeq    uint64
	now        func() time.Time
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:      make(map[domain.RoomID]*roomState),
		membership: make(map[core.SessionID]domain.RoomID),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureRoom creates the room if absent and reports whether it did.
func (s *RoomStore) EnsureRoom(id domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, created := s.ensureLocked(id)
	return created
}

func (s *RoomStore) ensureLocked(id domain.RoomID) (*roomState, bool) {
	if room, ok := s.rooms[id]; ok {
		return room, false
	}
	room := &roomState{members: make(map[core.SessionID]Member)}
	s.rooms[id] = room
	s.order = append(s.order, id)
	log.Info().Str("module", "app.store").Str("room", string(id)).Msg("room created")
	return room, true
}

func (s *RoomStore) Exists(id domain.RoomID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[id]
	return ok
}

// Join attaches sid to an existing room, detaching it from any other room
// first. A shopper member becomes the room's roster identity.
func (s *RoomStore) Join(id domain.RoomID, sid core.SessionID, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if prev, ok := s.membership[sid]; ok && prev != id {
		s.leaveLocked(sid)
	}
	room.members[sid] = m
	s.membership[sid] = id
	if m.Role == domain.RoleShopper {
		room.shopper = &shopperRef{SID: sid, Identity: m.Identity}
	}
	log.Info().Str("module", "app.store").Str("sid", string(sid)).Str("room", string(id)).Msg("member joined")
	return nil
}

// Leave detaches sid from its room, if any. The room stays.
func (s *RoomStore) Leave(sid core.SessionID) (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(sid)
}

func (s *RoomStore) leaveLocked(sid core.SessionID) (domain.RoomID, bool) {
	id, ok := s.membership[sid]
	if !ok {
		return "", false
	}
	delete(s.membership, sid)
	if room, ok := s.rooms[id]; ok {
		delete(room.members, sid)
		if room.shopper != nil && room.shopper.SID == sid {
			room.promoteShopper()
		}
	}
	log.Info().Str("module", "app.store").Str("sid", string(sid)).Str("room", string(id)).Msg("member left")
	return id, true
}

// Append stamps msg with the next global sequence id and the current time
// and stores it at the end of the room's transcript.
func (s *RoomStore) Append(id domain.RoomID, msg domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, _ := s.ensureLocked(id)
	msg.SequenceID = s.nextSeq
	s.nextSeq++
	msg.RoomID = id
	msg.CreatedAt = s.now()
	room.transcript = append(room.transcript, msg)
	return msg
}

func (s *RoomStore) History(id domain.RoomID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.Message, len(room.transcript))
	copy(out, room.transcript)
	return out, nil
}

func (s *RoomStore) Members(id domain.RoomID) []core.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	return lo.Keys(room.members)
}

func (s *RoomStore) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.membership[sid]
	return id, ok
}

func (s *RoomStore) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Snapshot lists, in creation order, every room that has had a shopper.
func (s *RoomStore) Snapshot() []domain.RoomSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.FilterMap(s.order, func(id domain.RoomID, _ int) (domain.RoomSummary, bool) {
		room := s.rooms[id]
		if room.shopper == nil {
			return domain.RoomSummary{}, false
		}
		_, online := room.members[room.shopper.SID]
		return domain.RoomSummary{
			RoomID:   id,
			Email:    room.shopper.Identity.EmailOrDefault(),
			Name:     room.shopper.Identity.NameOrDefault(),
			IsOnline: online,
			ClientID: string(room.shopper.SID),
		}, true
	})
}
