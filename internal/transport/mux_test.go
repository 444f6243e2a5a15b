package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vule/chatsync/internal/wire"
)

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	sends     []sentFrame
	sendErr   error
}

type sentFrame struct {
	destination string
	payload     any
}

func (c *fakeChannel) Send(destination string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sends = append(c.sends, sentFrame{destination: destination, payload: payload})
	return nil
}

func (c *fakeChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *fakeChannel) sentTopics(event string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var topics []string
	for _, s := range c.sends {
		if s.destination != event {
			continue
		}
		if body, ok := s.payload.(map[string]any); ok {
			if topic, ok := body["topic"].(string); ok {
				topics = append(topics, topic)
			}
		}
	}
	return topics
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = nil
}

func TestMux_SubscribeIssuesTransportSubscriptionOnce(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{connected: true}
	m := NewMux(ch)

	m.Subscribe("conversation:c1", func(wire.Frame) {})
	m.Subscribe("conversation:c1", func(wire.Frame) {})

	require.Equal(t, []string{"conversation:c1"}, ch.sentTopics(wire.EventSubscribe))
}

func TestMux_ResubscribeRestoresExactTopicSet(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{connected: true}
	m := NewMux(ch)

	m.Subscribe("conversation:a", func(wire.Frame) {})
	m.Subscribe("conversation:b", func(wire.Frame) {})
	handle := m.Subscribe("conversation:gone", func(wire.Frame) {})
	m.Unsubscribe(handle)

	// Simulated reconnect: a fresh handle, the full topic set re-issued.
	ch.reset()
	m.Resubscribe()

	require.ElementsMatch(t,
		[]string{"conversation:a", "conversation:b"},
		ch.sentTopics(wire.EventSubscribe))
	require.Equal(t, []string{"conversation:a", "conversation:b"}, m.Topics())
}

func TestMux_SubscribeBeforeConnectDeferredToResubscribe(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	m := NewMux(ch)

	m.Subscribe("presence:vu1", func(wire.Frame) {})
	require.Empty(t, ch.sentTopics(wire.EventSubscribe))

	ch.setConnected(true)
	m.Resubscribe()
	require.Equal(t, []string{"presence:vu1"}, ch.sentTopics(wire.EventSubscribe))
}

func TestMux_UnsubscribeTearsDownOnLastHandler(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{connected: true}
	m := NewMux(ch)

	first := m.Subscribe("conversation:c1", func(wire.Frame) {})
	second := m.Subscribe("conversation:c1", func(wire.Frame) {})

	m.Unsubscribe(first)
	require.Empty(t, ch.sentTopics(wire.EventUnsubscribe))

	m.Unsubscribe(second)
	require.Equal(t, []string{"conversation:c1"}, ch.sentTopics(wire.EventUnsubscribe))
	require.Empty(t, m.Topics())
}

func TestMux_RoutesFramesByTopic(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{connected: true}
	m := NewMux(ch)

	var gotC1, gotC2 []wire.Frame
	m.Subscribe("conversation:c1", func(f wire.Frame) { gotC1 = append(gotC1, f) })
	m.Subscribe("conversation:c2", func(f wire.Frame) { gotC2 = append(gotC2, f) })

	m.HandleRaw(map[string]any{
		"topic":   "conversation:c1",
		"payload": map[string]any{"messageId": "m1"},
	})

	require.Len(t, gotC1, 1)
	require.Equal(t, "conversation:c1", gotC1[0].Topic)
	require.Empty(t, gotC2)
}

func TestMux_DropsMalformedFrames(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{connected: true}
	m := NewMux(ch)

	called := false
	m.Subscribe("conversation:c1", func(wire.Frame) { called = true })

	m.HandleRaw("not an object")
	m.HandleRaw(map[string]any{"payload": map[string]any{}})

	require.False(t, called)
}
