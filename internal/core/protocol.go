package core

import (
	"encoding/json"

	"github.com/dkeye/SupportChat/internal/domain"
)

// Frame type discriminators.
const (
	FrameIdentify = "identify"
	FrameJoinRoom = "join_room"
	FrameMessage  = "message"

	FrameConnected  = "connected"
	FrameRoomJoined = "room_joined"
	FrameRoomList   = "room_list"
)

const ConnectedGreeting = "Connected to chat server"

type Envelope struct {
	Type string `json:"type" validate:"required"`
}

type IdentifyFrame struct {
	Type     string           `json:"type"`
	UserInfo *domain.Identity `json:"userInfo"`
}

type JoinRoomFrame struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId" validate:"required,max=128"`
}

type MessageFrame struct {
	Type    string `json:"type"`
	Content string `json:"content" validate:"max=4096"`
	Sender  string `json:"sender" validate:"max=64"`
}

type ConnectedFrame struct {
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	ClientID SessionID `json:"clientId"`
}

type RoomJoinedFrame struct {
	Type    string         `json:"type"`
	RoomID  domain.RoomID  `json:"roomId"`
	History []MessageEvent `json:"history"`
}

type RoomListFrame struct {
	Type  string               `json:"type"`
	Rooms []domain.RoomSummary `json:"rooms"`
}

// MessageEvent is a transcript entry on the wire. ID mirrors SequenceID
// for clients that dedupe on "id".
type MessageEvent struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
	domain.Message
}

func NewMessageEvent(m domain.Message) MessageEvent {
	return MessageEvent{Type: FrameMessage, ID: m.SequenceID, Message: m}
}

func NewRoomJoined(roomID domain.RoomID, history []domain.Message) RoomJoinedFrame {
	events := make([]MessageEvent, 0, len(history))
	for _, m := range history {
		events = append(events, NewMessageEvent(m))
	}
	return RoomJoinedFrame{Type: FrameRoomJoined, RoomID: roomID, History: events}
}

func Encode(v any) (Frame, error) {
	return json.Marshal(v)
}
