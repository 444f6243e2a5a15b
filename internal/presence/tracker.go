// Package presence propagates user online/offline events into the cached
// conversation list.
package presence

import (
	"time"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
)

// conversationUpdater is the store surface the tracker mutates.
type conversationUpdater interface {
	UpdateCounterpart(userID, username string, online bool, lastSeen time.Time) int
}

// Tracker consumes presence frames routed by the multiplexer.
//
// A session's own "online" transition is announced by the engine right after
// connect; the server does not echo it back, so the tracker only ever sees
// other users' transitions.
type Tracker struct {
	store conversationUpdater
}

// NewTracker creates a Tracker over the conversation store.
func NewTracker(store conversationUpdater) *Tracker {
	return &Tracker{store: store}
}

// HandleFrame parses a presence frame and applies it. Malformed payloads are
// logged and dropped.
func (t *Tracker) HandleFrame(frame wire.Frame) {
	ev, err := wire.ParsePresenceEvent(frame.Payload)
	if err != nil {
		logger.Warnf("presence: dropping malformed event on %s: %v", frame.Topic, err)
		return
	}
	t.OnPresenceEvent(ev)
}

// OnPresenceEvent updates the counterpart status of every conversation whose
// counterpart is the event's user. No other conversation state is touched.
func (t *Tracker) OnPresenceEvent(ev wire.PresenceEvent) {
	lastSeen := time.Time{}
	if ev.LastSeen != nil {
		lastSeen = *ev.LastSeen
	}
	updated := t.store.UpdateCounterpart(ev.UserID, ev.Username, ev.Online(), lastSeen)
	logger.Debugf("presence: %s online=%t applied to %d conversations", ev.Username, ev.Online(), updated)
}
