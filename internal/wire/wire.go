// Package wire defines the payload shapes exchanged with the chat backend,
// both over the live Socket.IO channel and over the HTTP API.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Live channel event names.
const (
	// EventPublish is emitted by the server for every frame pushed to a
	// subscribed topic.
	EventPublish = "publish"
	// EventSubscribe registers interest in a topic.
	EventSubscribe = "subscribe"
	// EventUnsubscribe drops interest in a topic.
	EventUnsubscribe = "unsubscribe"
	// EventPresenceOnline announces the session's own "online" transition.
	EventPresenceOnline = "presence:online"
	// EventPresenceOffline announces the session's own "offline" transition.
	EventPresenceOffline = "presence:offline"
)

// Message content kinds as the backend spells them.
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
)

// ConversationTopic returns the topic key carrying a conversation's live
// message stream.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// PresenceTopic returns the topic key carrying presence events for the given
// session's user.
func PresenceTopic(username string) string {
	return "presence:" + username
}

// SendDestination returns the destination used to publish a text message into
// a conversation.
func SendDestination(conversationID string) string {
	return "conversation:" + conversationID + ":send"
}

// Frame is the envelope for every server push on the live channel.
type Frame struct {
	// Topic is the logical channel the frame belongs to.
	Topic string `json:"topic"`
	// Payload is the topic-specific body, decoded further by the consumer.
	Payload json.RawMessage `json:"payload"`
}

// ParseFrame decodes a raw Socket.IO event argument into a Frame.
func ParseFrame(v any) (Frame, error) {
	var f Frame
	if err := reencode(v, &f); err != nil {
		return Frame{}, err
	}
	if f.Topic == "" {
		return Frame{}, fmt.Errorf("frame missing topic")
	}
	return f, nil
}

// Message is a chat message as the backend serializes it.
type Message struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"chatRoomId"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	// SentAt is an RFC 3339 timestamp.
	SentAt time.Time `json:"sentAt"`
}

// ParseMessage decodes a frame payload into a Message.
func ParseMessage(payload json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	if m.MessageID == "" {
		return Message{}, fmt.Errorf("message missing messageId")
	}
	return m, nil
}

// PresenceEvent is a user status change as the backend serializes it.
//
// Older backend revisions emitted the flag as `isOnline` while newer ones use
// `online`; Online() reconciles the two.
type PresenceEvent struct {
	UserID        string     `json:"id"`
	Username      string     `json:"username"`
	OnlineField   *bool      `json:"online,omitempty"`
	IsOnlineField *bool      `json:"isOnline,omitempty"`
	LastSeen      *time.Time `json:"lastSeen,omitempty"`
}

// Online reports the normalized online flag.
func (p PresenceEvent) Online() bool {
	if p.OnlineField != nil {
		return *p.OnlineField
	}
	if p.IsOnlineField != nil {
		return *p.IsOnlineField
	}
	return false
}

// ParsePresenceEvent decodes a frame payload into a PresenceEvent.
func ParsePresenceEvent(payload json.RawMessage) (PresenceEvent, error) {
	var p PresenceEvent
	if err := json.Unmarshal(payload, &p); err != nil {
		return PresenceEvent{}, fmt.Errorf("parse presence event: %w", err)
	}
	if p.UserID == "" && p.Username == "" {
		return PresenceEvent{}, fmt.Errorf("presence event missing user identity")
	}
	return p, nil
}

// SendMessageRequest is the payload published to a conversation's send
// destination.
type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

// reencode converts an arbitrary decoded value into a typed struct by passing
// it back through JSON.
func reencode(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
