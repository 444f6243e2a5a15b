package types

import "time"

// ConversationKind distinguishes one-on-one rooms from group rooms.
type ConversationKind string

const (
	ConversationPrivate ConversationKind = "PRIVATE"
	ConversationGroup   ConversationKind = "GROUP"
)

// MessageType identifies the content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
)

// Counterpart is the other participant of a PRIVATE conversation.
type Counterpart struct {
	// UserID is the server-assigned user id of the other participant.
	UserID string `json:"userId"`
	// Username is the other participant's login name.
	Username string `json:"username"`
	// Online reports the last known presence state.
	Online bool `json:"online"`
	// LastSeenAt is the last time the participant was seen online.
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Conversation is the locally cached view of one chat room.
type Conversation struct {
	ID          string           `json:"id"`
	Kind        ConversationKind `json:"kind"`
	Title       string           `json:"title"`
	AvatarRef   string           `json:"avatarRef,omitempty"`
	MemberCount int              `json:"memberCount"`

	// Counterpart is present only for PRIVATE conversations.
	Counterpart *Counterpart `json:"counterpart,omitempty"`

	// LastMessageSummary is the content of the newest known message.
	LastMessageSummary string    `json:"lastMessageSummary"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	UnreadCount        int       `json:"unreadCount"`
}

// Message is a single immutable chat message as cached locally.
//
// IsOwn is derived once, when the message is materialized, by the session
// identity comparison. It is never recomputed per transport.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderUsername string      `json:"senderUsername"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	SentAt         time.Time   `json:"sentAt"`
	IsOwn          bool        `json:"isOwn"`
}

// Cursor tracks pagination progress for one conversation.
//
// Page advances only on explicit "load older" requests and resets to zero when
// the conversation is freshly opened.
type Cursor struct {
	ConversationID string `json:"conversationId"`
	Page           int    `json:"page"`
	HasNext        bool   `json:"hasNext"`
	HasPrevious    bool   `json:"hasPrevious"`
}
