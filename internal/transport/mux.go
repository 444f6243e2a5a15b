package transport

import (
	"sort"
	"sync"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
)

// Handler consumes frames routed for one topic.
type Handler func(frame wire.Frame)

// SubscriptionHandle identifies one registered handler.
type SubscriptionHandle struct {
	topic string
	id    int
}

// Topic returns the topic key this handle is registered on.
func (h SubscriptionHandle) Topic() string { return h.topic }

// channel is the subset of the Manager the Mux needs.
type channel interface {
	Send(destination string, payload any) error
	IsConnected() bool
}

// Mux maps logical topics to local handlers over the single live channel.
//
// At most one transport-level subscription exists per topic; multiple local
// handlers share it. After a reconnect, Resubscribe restores the exact
// pre-disconnect topic set before any other traffic is processed.
type Mux struct {
	mu   sync.Mutex
	ch   channel
	subs map[string]map[int]Handler
	next int
}

// NewMux creates a Mux over the given channel.
func NewMux(ch channel) *Mux {
	return &Mux{
		ch:   ch,
		subs: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for a topic. The transport-level subscription
// is issued when the first handler arrives; subscribing an already-active
// topic only adds the handler.
func (m *Mux) Subscribe(topic string, h Handler) SubscriptionHandle {
	m.mu.Lock()
	handlers, active := m.subs[topic]
	if !active {
		handlers = make(map[int]Handler)
		m.subs[topic] = handlers
	}
	m.next++
	id := m.next
	handlers[id] = h
	m.mu.Unlock()

	if !active {
		m.sendSubscribe(topic)
	}
	return SubscriptionHandle{topic: topic, id: id}
}

// Unsubscribe removes a handler. When the last handler for a topic is gone,
// the topic is torn down on the transport.
func (m *Mux) Unsubscribe(h SubscriptionHandle) {
	m.mu.Lock()
	teardown := false
	if handlers, ok := m.subs[h.topic]; ok {
		delete(handlers, h.id)
		if len(handlers) == 0 {
			delete(m.subs, h.topic)
			teardown = true
		}
	}
	m.mu.Unlock()

	if teardown && m.ch.IsConnected() {
		if err := m.ch.Send(wire.EventUnsubscribe, map[string]any{"topic": h.topic}); err != nil {
			logger.Debugf("mux: unsubscribe %s failed: %v", h.topic, err)
		}
	}
}

// Topics returns the sorted set of currently active topics.
func (m *Mux) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resubscribe re-issues every active topic against the current connection
// handle. Subscriptions are re-created, not resumed: the server treats a
// repeated subscribe as a no-op.
func (m *Mux) Resubscribe() {
	for _, topic := range m.Topics() {
		m.sendSubscribe(topic)
	}
}

func (m *Mux) sendSubscribe(topic string) {
	if !m.ch.IsConnected() {
		// Issued before the first connect; Resubscribe picks it up.
		return
	}
	if err := m.ch.Send(wire.EventSubscribe, map[string]any{"topic": topic}); err != nil {
		logger.Warnf("mux: subscribe %s failed: %v", topic, err)
	}
}

// HandleRaw parses an inbound publish event and routes it to the topic's
// handlers. Malformed frames are logged and dropped; they never tear down the
// connection.
func (m *Mux) HandleRaw(v any) {
	frame, err := wire.ParseFrame(v)
	if err != nil {
		logger.Warnf("mux: dropping malformed frame: %v", err)
		return
	}

	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[frame.Topic]))
	for _, h := range m.subs[frame.Topic] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	if len(handlers) == 0 {
		logger.Tracef("mux: no handler for topic %s", frame.Topic)
		return
	}
	for _, h := range handlers {
		h(frame)
	}
}
