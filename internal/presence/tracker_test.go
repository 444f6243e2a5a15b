package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vule/chatsync/internal/wire"
)

type recordedUpdate struct {
	userID   string
	username string
	online   bool
	lastSeen time.Time
}

type fakeStore struct {
	updates []recordedUpdate
}

func (s *fakeStore) UpdateCounterpart(userID, username string, online bool, lastSeen time.Time) int {
	s.updates = append(s.updates, recordedUpdate{userID, username, online, lastSeen})
	return 1
}

func TestHandleFrame_AppliesPresence(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tr := NewTracker(store)

	seen := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	tr.HandleFrame(wire.Frame{
		Topic:   "presence:vu1",
		Payload: json.RawMessage(`{"id":"u2","username":"bob","online":true,"lastSeen":"2025-08-01T12:00:00Z"}`),
	})

	require.Equal(t, []recordedUpdate{{userID: "u2", username: "bob", online: true, lastSeen: seen}}, store.updates)
}

func TestHandleFrame_LegacyOfflineFlag(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tr := NewTracker(store)

	tr.HandleFrame(wire.Frame{
		Topic:   "presence:vu1",
		Payload: json.RawMessage(`{"username":"bob","isOnline":false}`),
	})

	require.Len(t, store.updates, 1)
	require.False(t, store.updates[0].online)
	require.True(t, store.updates[0].lastSeen.IsZero())
}

func TestHandleFrame_DropsMalformedPayload(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tr := NewTracker(store)

	tr.HandleFrame(wire.Frame{Topic: "presence:vu1", Payload: json.RawMessage(`"nope"`)})
	tr.HandleFrame(wire.Frame{Topic: "presence:vu1", Payload: json.RawMessage(`{"online":true}`)})

	require.Empty(t, store.updates)
}
