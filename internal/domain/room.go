package domain

type RoomID string

const shopperRoomPrefix = "user_"

// ShopperRoomID maps a shopper key (connection id, or browser token when
// stable rooms are enabled) onto its support room.
func ShopperRoomID(key string) RoomID {
	return RoomID(shopperRoomPrefix + key)
}

// RoomSummary is one roster line as an operator sees it.
type RoomSummary struct {
	RoomID   RoomID `json:"roomId"`
	Email    string `json:"userEmail"`
	Name     string `json:"userName"`
	IsOnline bool   `json:"isOnline"`
	ClientID string `json:"clientId"`
}
