package domain

import "time"

const DefaultSender = "Anonymous"

// Message is one transcript entry. SequenceID is global across rooms.
type Message struct {
	SequenceID      uint64    `json:"sequenceId"`
	RoomID          RoomID    `json:"roomId"`
	Sender          string    `json:"sender"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"timestamp"`
	OriginSessionID string    `json:"clientId"`
}
