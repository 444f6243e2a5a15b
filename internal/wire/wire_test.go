package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	t.Parallel()

	frame, err := ParseFrame(map[string]any{
		"topic":   "conversation:c1",
		"payload": map[string]any{"messageId": "m1"},
	})
	require.NoError(t, err)
	require.Equal(t, "conversation:c1", frame.Topic)
	require.JSONEq(t, `{"messageId":"m1"}`, string(frame.Payload))
}

func TestParseFrame_Rejects(t *testing.T) {
	t.Parallel()

	_, err := ParseFrame("not an object")
	require.Error(t, err)

	_, err = ParseFrame(map[string]any{"payload": map[string]any{}})
	require.Error(t, err, "frame without topic must be rejected")
}

func TestParseMessage_RequiresMessageID(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{
		"messageId": "m1",
		"chatRoomId": "c1",
		"senderId": "u2",
		"senderUsername": "bob",
		"content": "hi",
		"messageType": "TEXT",
		"sentAt": "2025-08-01T12:00:00Z"
	}`)
	msg, err := ParseMessage(payload)
	require.NoError(t, err)
	require.Equal(t, "m1", msg.MessageID)
	require.Equal(t, "c1", msg.ConversationID)
	require.Equal(t, time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC), msg.SentAt)

	_, err = ParseMessage(json.RawMessage(`{"content": "no id"}`))
	require.Error(t, err)

	_, err = ParseMessage(json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
}

func TestPresenceEvent_OnlineNormalization(t *testing.T) {
	t.Parallel()

	boolPtr := func(v bool) *bool { return &v }

	tests := []struct {
		name string
		ev   PresenceEvent
		want bool
	}{
		{name: "onlineField", ev: PresenceEvent{OnlineField: boolPtr(true)}, want: true},
		{name: "legacyIsOnlineField", ev: PresenceEvent{IsOnlineField: boolPtr(true)}, want: true},
		{name: "onlineFieldWins", ev: PresenceEvent{OnlineField: boolPtr(false), IsOnlineField: boolPtr(true)}, want: false},
		{name: "neitherMeansOffline", ev: PresenceEvent{}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.ev.Online())
		})
	}
}

func TestParsePresenceEvent_RequiresIdentity(t *testing.T) {
	t.Parallel()

	ev, err := ParsePresenceEvent(json.RawMessage(`{"id":"u2","username":"bob","online":true}`))
	require.NoError(t, err)
	require.Equal(t, "u2", ev.UserID)
	require.True(t, ev.Online())

	// Username alone is enough; some backend revisions omit the id.
	_, err = ParsePresenceEvent(json.RawMessage(`{"username":"bob"}`))
	require.NoError(t, err)

	_, err = ParsePresenceEvent(json.RawMessage(`{"online":true}`))
	require.Error(t, err)
}

func TestTopicHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "conversation:c1", ConversationTopic("c1"))
	require.Equal(t, "presence:vu1", PresenceTopic("vu1"))
	require.Equal(t, "conversation:c1:send", SendDestination("c1"))
}
