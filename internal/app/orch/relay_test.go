package orch

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/SupportChat/internal/app"
	"github.com/dkeye/SupportChat/internal/core"
	"github.com/dkeye/SupportChat/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) Frames() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeConn) Types() []string {
	var types []string
	for _, fr := range f.Frames() {
		var env core.Envelope
		_ = json.Unmarshal(fr, &env)
		types = append(types, env.Type)
	}
	return types
}

// Last decodes the most recent frame of the given type into v.
func (f *fakeConn) Last(t *testing.T, typ string, v any) {
	t.Helper()
	frames := f.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(frames[i], &env))
		if env.Type == typ {
			require.NoError(t, json.Unmarshal(frames[i], v))
			return
		}
	}
	t.Fatalf("no %q frame received", typ)
}

type client struct {
	sess *core.Session
	conn *fakeConn
}

func connect(relay *Relay, token string) client {
	conn := &fakeConn{}
	return client{sess: relay.OnConnect(token, conn, nil), conn: conn}
}

func (c client) send(relay *Relay, frame string) {
	relay.OnFrame(c.sess.ID, []byte(frame))
}

const (
	identifyShopper = `{"type":"identify","userInfo":{"email":"a@x.com"}}`
	identifyAdmin   = `{"type":"identify","userInfo":{"role":"admin","name":"Support Admin"}}`
)

func joinFrame(room domain.RoomID) string {
	return `{"type":"join_room","roomId":"` + string(room) + `"}`
}

func TestRelay_OnConnect_Acknowledges(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	c := connect(relay, "tok")

	var ack core.ConnectedFrame
	c.conn.Last(t, core.FrameConnected, &ack)
	req.Equal(c.sess.ID, ack.ClientID)
	req.Equal(core.ConnectedGreeting, ack.Message)
	req.Equal(1, relay.Stats().Sessions)
	req.Equal(core.StateUnidentified, c.sess.State())
}

func TestRelay_Support_Conversation(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	// Given a shopper that identifies
	s := connect(relay, "tok-s")
	s.send(relay, identifyShopper)
	r1 := domain.ShopperRoomID(string(s.sess.ID))
	req.True(relay.Store.Exists(r1))
	req.Equal([]core.SessionID{s.sess.ID}, relay.Store.Members(r1))

	// When an operator identifies it receives the roster
	o := connect(relay, "tok-o")
	o.send(relay, identifyAdmin)
	var roster core.RoomListFrame
	o.conn.Last(t, core.FrameRoomList, &roster)
	req.Equal([]domain.RoomSummary{{
		RoomID: r1, Email: "a@x.com", Name: domain.DefaultDisplayName, IsOnline: true, ClientID: string(s.sess.ID),
	}}, roster.Rooms)

	// And joining the room replays an empty history
	o.send(relay, joinFrame(r1))
	var joined core.RoomJoinedFrame
	o.conn.Last(t, core.FrameRoomJoined, &joined)
	req.Equal(r1, joined.RoomID)
	req.Empty(joined.History)
	req.Equal(core.StateOperatorInRoom, o.sess.State())

	// When the shopper says hello both sides get it, then the operator a roster
	s.send(relay, `{"type":"message","content":"hello","sender":"Ann"}`)
	for _, c := range []client{s, o} {
		var msg core.MessageEvent
		c.conn.Last(t, core.FrameMessage, &msg)
		req.Equal(uint64(0), msg.SequenceID)
		req.Equal(uint64(0), msg.ID)
		req.Equal("hello", msg.Content)
		req.Equal("Ann", msg.Sender)
		req.Equal(r1, msg.RoomID)
		req.Equal(string(s.sess.ID), msg.OriginSessionID)
	}
	types := o.conn.Types()
	req.Equal([]string{core.FrameMessage, core.FrameRoomList}, types[len(types)-2:])

	// When the shopper disconnects the operator sees it offline
	relay.OnDisconnect(s.sess.ID)
	o.conn.Last(t, core.FrameRoomList, &roster)
	req.Len(roster.Rooms, 1)
	req.False(roster.Rooms[0].IsOnline)
	req.Equal(1, relay.Stats().Sessions)

	// And rejoining replays the transcript exactly once
	o.send(relay, joinFrame(r1))
	o.conn.Last(t, core.FrameRoomJoined, &joined)
	req.Len(joined.History, 1)
	req.Equal("hello", joined.History[0].Content)
	req.Equal(uint64(0), joined.History[0].SequenceID)
}

func TestRelay_Message_Without_Room_Is_Dropped(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	s := connect(relay, "")
	s.send(relay, identifyShopper)
	before := len(s.conn.Frames())

	t.Run("unidentified", func(t *testing.T) {
		u := connect(relay, "")
		u.send(relay, `{"type":"message","content":"hi"}`)
		require.Equal(t, []string{core.FrameConnected}, u.conn.Types())
	})

	t.Run("idle operator", func(t *testing.T) {
		o := connect(relay, "")
		o.send(relay, identifyAdmin)
		n := len(o.conn.Frames())
		o.send(relay, `{"type":"message","content":"hi"}`)
		require.Len(t, o.conn.Frames(), n)
	})

	req.Len(s.conn.Frames(), before)
	history, err := relay.Store.History(domain.ShopperRoomID(string(s.sess.ID)))
	req.NoError(err)
	req.Empty(history)
}

func TestRelay_Protocol_Violations_Are_Ignored(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	s := connect(relay, "")
	s.send(relay, identifyShopper)
	room := domain.ShopperRoomID(string(s.sess.ID))
	o := connect(relay, "")
	o.send(relay, identifyAdmin)
	opFrames := len(o.conn.Frames())
	shopFrames := len(s.conn.Frames())

	// Malformed and unknown frames
	o.send(relay, `not json`)
	o.send(relay, `{"type":"dance"}`)
	o.send(relay, `{"roomId":"x"}`)
	// join_room to an unknown room, or without a room id
	o.send(relay, joinFrame("user_nobody"))
	o.send(relay, `{"type":"join_room"}`)
	// Shopper trying to hop rooms
	s.send(relay, joinFrame("user_other"))
	// Second identify cannot promote a shopper
	s.send(relay, identifyAdmin)

	req.Len(o.conn.Frames(), opFrames)
	req.Len(s.conn.Frames(), shopFrames)
	req.Equal(core.StateOperatorIdle, o.sess.State())
	req.Equal(core.StateShopperInRoom, s.sess.State())
	req.False(s.sess.IsOperator())
	req.Equal([]core.SessionID{s.sess.ID}, relay.Store.Members(room))
}

func TestRelay_Operator_Switches_Rooms(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	a := connect(relay, "")
	a.send(relay, identifyShopper)
	b := connect(relay, "")
	b.send(relay, `{"type":"identify","userInfo":{"email":"b@x.com"}}`)
	ra := domain.ShopperRoomID(string(a.sess.ID))
	rb := domain.ShopperRoomID(string(b.sess.ID))

	o := connect(relay, "")
	o.send(relay, identifyAdmin)
	o.send(relay, joinFrame(ra))
	o.send(relay, joinFrame(rb))

	req.Equal([]core.SessionID{a.sess.ID}, relay.Store.Members(ra))
	req.ElementsMatch([]core.SessionID{b.sess.ID, o.sess.ID}, relay.Store.Members(rb))

	// Messages in the old room no longer reach the operator
	before := len(o.conn.Frames())
	a.send(relay, `{"type":"message","content":"anyone?"}`)
	var msg core.MessageEvent
	a.conn.Last(t, core.FrameMessage, &msg)
	req.Equal(domain.DefaultSender, msg.Sender)
	req.Equal([]string{core.FrameRoomList}, o.conn.Types()[before:])

	// Operator replies land in the shopper's room
	o.send(relay, `{"type":"message","content":"hi b","sender":"Support Admin"}`)
	b.conn.Last(t, core.FrameMessage, &msg)
	req.Equal("hi b", msg.Content)
	req.Equal(rb, msg.RoomID)
	req.Equal(uint64(1), msg.SequenceID)
}

func TestRelay_Disconnect_Skips_Closed_Connections(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	s := connect(relay, "")
	s.send(relay, identifyShopper)
	room := domain.ShopperRoomID(string(s.sess.ID))
	o := connect(relay, "")
	o.send(relay, identifyAdmin)
	o.send(relay, joinFrame(room))

	// Given the operator transport is broken but not yet reaped
	o.conn.Close()

	// When the shopper writes, the message is still stored and echoed
	s.send(relay, `{"type":"message","content":"still there?"}`)
	var msg core.MessageEvent
	s.conn.Last(t, core.FrameMessage, &msg)
	history, err := relay.Store.History(room)
	req.NoError(err)
	req.Len(history, 1)

	// And reaping the operator leaves the room intact
	relay.OnDisconnect(o.sess.ID)
	req.Equal([]core.SessionID{s.sess.ID}, relay.Store.Members(room))
	relay.OnDisconnect(o.sess.ID)
	req.Equal(1, relay.Stats().Sessions)
}

func TestRelay_Stable_Rooms_Survive_Reconnect(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{StableRooms: true})

	first := connect(relay, "browser-1")
	first.send(relay, identifyShopper)
	first.send(relay, `{"type":"message","content":"one"}`)
	relay.OnDisconnect(first.sess.ID)

	second := connect(relay, "browser-1")
	second.send(relay, identifyShopper)
	room, ok := second.sess.RoomID()
	req.True(ok)
	req.Equal(domain.ShopperRoomID("browser-1"), room)

	snap := relay.Rooms()
	req.Len(snap, 1)
	req.True(snap[0].IsOnline)
	req.Equal(string(second.sess.ID), snap[0].ClientID)
}

func TestRelay_Stable_Rooms_Two_Tabs(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{StableRooms: true})

	// Given two tabs of the same browser in one room
	tabA := connect(relay, "browser-1")
	tabA.send(relay, identifyShopper)
	tabB := connect(relay, "browser-1")
	tabB.send(relay, identifyShopper)
	room := domain.ShopperRoomID("browser-1")
	req.ElementsMatch([]core.SessionID{tabA.sess.ID, tabB.sess.ID}, relay.Store.Members(room))

	// When the newer tab closes
	relay.OnDisconnect(tabB.sess.ID)

	// Then the roster still shows the shopper online via the remaining tab
	snap := relay.Rooms()
	req.Len(snap, 1)
	req.True(snap[0].IsOnline)
	req.Equal(string(tabA.sess.ID), snap[0].ClientID)
	req.Equal(core.StateClosed, tabB.sess.State())

	relay.OnDisconnect(tabA.sess.ID)
	req.False(relay.Rooms()[0].IsOnline)
}

func TestRelay_Default_Rooms_Follow_Connection(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})

	first := connect(relay, "browser-1")
	first.send(relay, identifyShopper)
	relay.OnDisconnect(first.sess.ID)
	second := connect(relay, "browser-1")
	second.send(relay, identifyShopper)

	snap := relay.Rooms()
	req.Len(snap, 2)
	req.False(snap[0].IsOnline)
	req.True(snap[1].IsOnline)
}

func TestRelay_Rate_Limited_Messages_Are_Dropped(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{Limiter: app.NewMessageRateLimiter(2, time.Minute)})

	s := connect(relay, "")
	s.send(relay, identifyShopper)
	for i := 0; i < 5; i++ {
		s.send(relay, `{"type":"message","content":"spam"}`)
	}

	history, err := relay.Store.History(domain.ShopperRoomID(string(s.sess.ID)))
	req.NoError(err)
	req.Len(history, 2)
}

func TestRelay_Concurrent_Sessions(t *testing.T) {
	req := require.New(t)
	relay := NewRelay(Options{})
	o := connect(relay, "")
	o.send(relay, identifyAdmin)

	const shoppers, messages = 10, 20
	var wg sync.WaitGroup
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := connect(relay, "")
			c.send(relay, identifyShopper)
			for j := 0; j < messages; j++ {
				c.send(relay, `{"type":"message","content":"x"}`)
			}
			relay.OnDisconnect(c.sess.ID)
		}()
	}
	wg.Wait()

	var roster core.RoomListFrame
	o.conn.Last(t, core.FrameRoomList, &roster)
	req.Len(roster.Rooms, shoppers)
	for _, r := range roster.Rooms {
		req.False(r.IsOnline)
		history, err := relay.Store.History(r.RoomID)
		req.NoError(err)
		req.Len(history, messages)
	}
	req.Equal(1, relay.Stats().Sessions)
}
