package wire

import (
	"encoding/json"
	"time"
)

// Envelope is the standard HTTP response wrapper used by the chat backend.
type Envelope struct {
	// Message is a human-readable status message.
	Message string `json:"message"`
	// Status is the backend's application-level status code.
	Status int `json:"status"`
	// Result is the endpoint-specific payload.
	Result json.RawMessage `json:"result"`
}

// LoginRequest is the HTTP POST /api/auth/login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is the payload inside a login response envelope.
type LoginResult struct {
	// Token is the bearer credential used for HTTP calls and the live channel
	// handshake.
	Token string `json:"token"`
}

// Conversation is a chat room entry as returned by GET /api/chatrooms.
type Conversation struct {
	ChatRoomID     string   `json:"chatRoomId"`
	ChatRoomName   string   `json:"chatRoomName"`
	ChatRoomAvatar string   `json:"chatRoomAvatar"`
	RoomType       string   `json:"roomType"`
	MemberCount    int      `json:"memberCount"`
	ReadCount      int      `json:"readCount"`
	LastMessage    *Message `json:"lastMessage,omitempty"`
	// Member is the other participant, present only for PRIVATE rooms.
	Member *ConversationMember `json:"member,omitempty"`
}

// ConversationMember is the counterpart of a PRIVATE chat room.
type ConversationMember struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	OnlineField   *bool      `json:"online,omitempty"`
	IsOnlineField *bool      `json:"isOnline,omitempty"`
	LastSeen      *time.Time `json:"lastSeen,omitempty"`
}

// Online reports the normalized online flag (see PresenceEvent).
func (m ConversationMember) Online() bool {
	if m.OnlineField != nil {
		return *m.OnlineField
	}
	if m.IsOnlineField != nil {
		return *m.IsOnlineField
	}
	return false
}

// MessagePage is the paginated result of
// GET /api/chatrooms/{id}/messages?page=&size=.
//
// Data is ordered newest-first; consumers must reverse before merging into an
// oldest-first log.
type MessagePage struct {
	Data          []Message `json:"data"`
	Page          int       `json:"page"`
	TotalPages    int       `json:"totalPages"`
	TotalElements int       `json:"totalElements"`
	HasNext       bool      `json:"hasNext"`
	HasPrevious   bool      `json:"hasPrevious"`
}
