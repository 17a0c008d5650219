package orch

import (
	"encoding/json"

	"github.com/dkeye/SupportChat/internal/app"
	"github.com/dkeye/SupportChat/internal/core"
	"github.com/dkeye/SupportChat/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Router applies the chat protocol to one inbound frame of one session.
// Bad input of any kind is logged and dropped; nothing is sent back.
type Router struct {
	Registry *app.Registry
	Store    *app.RoomStore
	Roster   *app.RosterBroadcaster
	Limiter  *app.MessageRateLimiter
	// StableRooms keys shopper rooms by browser token instead of connection id.
	StableRooms bool

	validate *validator.Validate
}

func NewRouter(reg *app.Registry, store *app.RoomStore, roster *app.RosterBroadcaster) *Router {
	return &Router{
		Registry: reg,
		Store:    store,
		Roster:   roster,
		validate: validator.New(),
	}
}

func (r *Router) Route(sid core.SessionID, data []byte) {
	sess, ok := r.Registry.GetSession(sid)
	if !ok {
		log.Warn().Str("module", "orch.router").Str("sid", string(sid)).Msg("frame from unknown session")
		return
	}

	var env core.Envelope
	if !r.decode(sid, data, &env) {
		return
	}

	switch env.Type {
	case core.FrameIdentify:
		var f core.IdentifyFrame
		if r.decode(sid, data, &f) {
			r.identify(sess, f)
		}
	case core.FrameJoinRoom:
		var f core.JoinRoomFrame
		if r.decode(sid, data, &f) {
			r.joinRoom(sess, f)
		}
	case core.FrameMessage:
		var f core.MessageFrame
		if r.decode(sid, data, &f) {
			r.message(sess, f)
		}
	default:
		log.Warn().Str("module", "orch.router").Str("sid", string(sid)).Str("type", env.Type).Msg("unknown frame type")
	}
}

func (r *Router) decode(sid core.SessionID, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "orch.router").Str("sid", string(sid)).Msg("bad json")
		return false
	}
	if err := r.validate.Struct(v); err != nil {
		log.Warn().Err(err).Str("module", "orch.router").Str("sid", string(sid)).Msg("invalid frame")
		return false
	}
	return true
}

func (r *Router) shopperRoom(sess *core.Session) domain.RoomID {
	if r.StableRooms && sess.BrowserToken != "" {
		return domain.ShopperRoomID(sess.BrowserToken)
	}
	return domain.ShopperRoomID(string(sess.ID))
}

func (r *Router) identify(sess *core.Session, f core.IdentifyFrame) {
	var identity domain.Identity
	if f.UserInfo != nil {
		identity = *f.UserInfo
	}
	if !sess.Identify(identity) {
		log.Warn().Str("module", "orch.router").Str("sid", string(sess.ID)).Msg("already identified, frame ignored")
		return
	}

	if identity.SessionRole() == domain.RoleOperator {
		log.Info().Str("module", "orch.router").Str("sid", string(sess.ID)).Str("name", identity.DisplayName).Msg("operator identified")
		r.Roster.SendTo(sess.ID)
		return
	}

	roomID := r.shopperRoom(sess)
	r.Store.EnsureRoom(roomID)
	if err := r.Store.Join(roomID, sess.ID, app.Member{Role: domain.RoleShopper, Identity: identity}); err != nil {
		log.Error().Err(err).Str("module", "orch.router").Str("sid", string(sess.ID)).Str("room", string(roomID)).Msg("shopper join")
		return
	}
	sess.Attach(roomID)
	log.Info().Str("module", "orch.router").Str("sid", string(sess.ID)).Str("room", string(roomID)).Str("email", identity.Email).Msg("shopper identified")
	r.Roster.Refresh()
}

func (r *Router) joinRoom(sess *core.Session, f core.JoinRoomFrame) {
	if !sess.IsOperator() {
		log.Warn().Str("module", "orch.router").Str("sid", string(sess.ID)).Str("state", sess.State().String()).Msg("join_room from non-operator dropped")
		return
	}
	identity, _ := sess.Identity()
	if err := r.Store.Join(f.RoomID, sess.ID, app.Member{Role: domain.RoleOperator, Identity: identity}); err != nil {
		log.Warn().Err(err).Str("module", "orch.router").Str("sid", string(sess.ID)).Str("room", string(f.RoomID)).Msg("join_room rejected")
		return
	}
	sess.Attach(f.RoomID)

	history, err := r.Store.History(f.RoomID)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.router").Str("room", string(f.RoomID)).Msg("history")
		return
	}
	frame, err := core.Encode(core.NewRoomJoined(f.RoomID, history))
	if err != nil {
		log.Error().Err(err).Str("module", "orch.router").Msg("encode room_joined")
		return
	}
	_ = r.Registry.Send(sess.ID, frame)
	log.Info().Str("module", "orch.router").Str("sid", string(sess.ID)).Str("room", string(f.RoomID)).Int("history", len(history)).Msg("operator joined room")
}

func (r *Router) message(sess *core.Session, f core.MessageFrame) {
	roomID, ok := sess.RoomID()
	if !ok {
		log.Debug().Str("module", "orch.router").Str("sid", string(sess.ID)).Str("state", sess.State().String()).Msg("message without room dropped")
		return
	}
	if !r.Limiter.Allow(sess.ID) {
		log.Warn().Str("module", "orch.router").Str("sid", string(sess.ID)).Msg("message rate limited")
		return
	}

	sender := f.Sender
	if sender == "" {
		sender = domain.DefaultSender
	}
	stored := r.Store.Append(roomID, domain.Message{
		Sender:          sender,
		Content:         f.Content,
		OriginSessionID: string(sess.ID),
	})

	frame, err := core.Encode(core.NewMessageEvent(stored))
	if err != nil {
		log.Error().Err(err).Str("module", "orch.router").Msg("encode message")
		return
	}
	sent := 0
	members := r.Store.Members(roomID)
	for _, sid := range members {
		if r.Registry.Send(sid, frame) == nil {
			sent++
		}
	}
	log.Debug().Str("module", "orch.router").Str("room", string(roomID)).Uint64("seq", stored.SequenceID).Int("members", len(members)).Int("sent", sent).Msg("message fanned out")

	r.Roster.Refresh()
}
