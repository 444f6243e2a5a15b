// Package engine is the real-time synchronization engine: it drives the live
// channel, the subscription set, and the message store, and exposes the read
// and send surface consumed by UI layers.
package engine

import (
	"context"
	"time"

	"github.com/vule/chatsync/internal/identity"
	"github.com/vule/chatsync/internal/presence"
	"github.com/vule/chatsync/internal/store"
	"github.com/vule/chatsync/internal/transport"
	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
	"github.com/vule/chatsync/pkg/types"
)

// selfPresenceRetryDelay is how long after connect the engine re-announces its
// own "online" transition. The server does not echo a user's own status back,
// so the engine assumes online immediately and re-announces once in case the
// first frame raced the server-side session setup.
const selfPresenceRetryDelay = 2 * time.Second

// Fetcher is the paginated-history and conversation-list collaborator.
type Fetcher interface {
	FetchConversations(ctx context.Context) ([]wire.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string, page, size int) (wire.MessagePage, error)
}

// Uploader is the media upload collaborator.
type Uploader interface {
	Upload(ctx context.Context, conversationID, filename string, data []byte) (wire.Message, error)
}

// Channel is the live transport surface the engine drives. Implemented by
// transport.Manager.
type Channel interface {
	Connect() error
	Disconnect()
	Send(destination string, payload any) error
	IsConnected() bool
	OnFrame(fn func(v any))
	OnConnected(fn func())
	OnDegraded(fn func())
}

// Options wires an Engine's collaborators. Every dependency is injected; the
// engine owns nothing shared with another session.
type Options struct {
	Session  *identity.Session
	Channel  Channel
	Fetcher  Fetcher
	Uploader Uploader
	// PageSize is the history page size; defaults to 20.
	PageSize int
}

// Engine keeps the locally cached conversation and message state consistent
// with the server for one authenticated session.
type Engine struct {
	session  *identity.Session
	channel  Channel
	fetcher  Fetcher
	uploader Uploader
	pageSize int

	mux     *transport.Mux
	store   *store.Store
	tracker *presence.Tracker

	loop *runLoop

	// Fields below are owned by the run loop goroutine.
	started  bool
	degraded bool
	openConv string
	// openGen invalidates in-flight page loads whenever the open conversation
	// changes.
	openGen     int
	convSubs    map[string]transport.SubscriptionHandle
	presenceSub transport.SubscriptionHandle
}

// New creates an Engine for one session. Construct a fresh Engine (and a
// fresh Channel) per Start/Stop lifecycle; instances are not reusable across
// identities.
func New(opts Options) *Engine {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	st := store.New(opts.Session.IsOwn)
	e := &Engine{
		session:  opts.Session,
		channel:  opts.Channel,
		fetcher:  opts.Fetcher,
		uploader: opts.Uploader,
		pageSize: pageSize,
		store:    st,
		tracker:  presence.NewTracker(st),
		loop:     newRunLoop(256),
		convSubs: make(map[string]transport.SubscriptionHandle),
	}
	e.mux = transport.NewMux(opts.Channel)
	return e
}

// Start connects the live channel, announces presence, and populates the
// conversation list. A rejected handshake is surfaced as-is and nothing is
// retried.
func (e *Engine) Start(ctx context.Context) error {
	_, err := e.loop.call(ctx, func() (any, error) {
		if e.started {
			return nil, ErrAlreadyStarted
		}

		e.channel.OnFrame(e.mux.HandleRaw)
		e.channel.OnConnected(e.onConnected)
		e.channel.OnDegraded(e.onDegraded)

		if err := e.channel.Connect(); err != nil {
			return nil, err
		}

		e.presenceSub = e.mux.Subscribe(
			wire.PresenceTopic(e.session.Username),
			e.tracker.HandleFrame,
		)

		conversations, err := e.fetcher.FetchConversations(ctx)
		if err != nil {
			e.channel.Disconnect()
			return nil, err
		}
		list := make([]types.Conversation, 0, len(conversations))
		for _, c := range conversations {
			list = append(list, transformConversation(c))
		}
		e.store.SetConversations(list)

		e.started = true
		logger.Infof("engine: started for %s (%d conversations)", e.session.Username, len(list))
		return nil, nil
	})
	return err
}

// Stop announces offline, tears the transport down, clears the cache, and
// shuts the run loop down. The engine is not reusable afterwards; operations
// fail with ErrNotStarted.
func (e *Engine) Stop() {
	_, _ = e.loop.call(context.Background(), func() (any, error) {
		if !e.started {
			return nil, nil
		}
		e.started = false
		e.openConv = ""
		e.openGen++
		e.convSubs = make(map[string]transport.SubscriptionHandle)
		e.channel.Disconnect()
		e.store.Clear()
		logger.Infof("engine: stopped")
		return nil, nil
	})
	e.loop.close()
}

// onConnected runs after every successful connect or reconnect, before any
// inbound traffic: restore the exact pre-disconnect topic set, then announce
// our own presence.
func (e *Engine) onConnected() {
	e.mux.Resubscribe()
	e.announceOnline()
	_ = e.loop.submit(func() { e.degraded = false })
}

func (e *Engine) onDegraded() {
	_ = e.loop.submit(func() { e.degraded = true })
	logger.Warnf("engine: live channel degraded; realtime send and pushes unavailable")
}

// announceOnline broadcasts the session's own "online" transition. The server
// never echoes it back, so the engine does not wait for confirmation, and
// re-announces once shortly after in case the first frame raced session setup.
func (e *Engine) announceOnline() {
	if err := e.channel.Send(wire.EventPresenceOnline, map[string]any{}); err != nil {
		logger.Warnf("engine: online announce failed: %v", err)
		return
	}
	time.AfterFunc(selfPresenceRetryDelay, func() {
		if e.channel.IsConnected() {
			_ = e.channel.Send(wire.EventPresenceOnline, map[string]any{})
		}
	})
}

// Degraded reports whether reconnection retries were exhausted and the engine
// is operating without the live channel.
func (e *Engine) Degraded() bool {
	v, _ := e.loop.call(context.Background(), func() (any, error) {
		return e.degraded, nil
	})
	degraded, _ := v.(bool)
	return degraded
}

// GetConversations returns a snapshot of the conversation list.
func (e *Engine) GetConversations() []types.Conversation {
	return e.store.Conversations()
}

// GetMessages returns a snapshot of a conversation's ordered message log.
func (e *Engine) GetMessages(conversationID string) []types.Message {
	return e.store.Ordered(conversationID)
}

// OpenConversation marks a conversation as the one of interest, subscribes to
// its live stream, and loads the authoritative recent history window
// (page zero).
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	v, err := e.loop.call(ctx, func() (any, error) {
		if !e.started {
			return 0, ErrNotStarted
		}
		e.openGen++
		e.openConv = conversationID
		e.store.ResetCursor(conversationID)
		if _, ok := e.convSubs[conversationID]; !ok {
			e.convSubs[conversationID] = e.mux.Subscribe(
				wire.ConversationTopic(conversationID),
				e.handleMessageFrame,
			)
		}
		return e.openGen, nil
	})
	if err != nil {
		return err
	}
	return e.loadPage(ctx, conversationID, 0, v.(int))
}

// CloseConversation drops interest in a conversation: its live subscription
// is torn down and any in-flight history load for it will be discarded.
func (e *Engine) CloseConversation(conversationID string) {
	_, _ = e.loop.call(context.Background(), func() (any, error) {
		if handle, ok := e.convSubs[conversationID]; ok {
			e.mux.Unsubscribe(handle)
			delete(e.convSubs, conversationID)
		}
		if e.openConv == conversationID {
			e.openConv = ""
			e.openGen++
		}
		return nil, nil
	})
}

// LoadOlder fetches the next older history page for a conversation and
// prepends it to the log. Returns the advanced cursor.
func (e *Engine) LoadOlder(ctx context.Context, conversationID string) (types.Cursor, error) {
	v, err := e.loop.call(ctx, func() (any, error) {
		if !e.started {
			return nil, ErrNotStarted
		}
		cursor := e.store.Cursor(conversationID)
		if !cursor.HasNext {
			// Nothing older on the server; the cursor does not advance.
			return nil, nil
		}
		return []int{cursor.Page + 1, e.openGen}, nil
	})
	if err != nil {
		return types.Cursor{}, err
	}
	if v == nil {
		return e.store.Cursor(conversationID), nil
	}
	params := v.([]int)
	if err := e.loadPage(ctx, conversationID, params[0], params[1]); err != nil {
		return types.Cursor{}, err
	}
	return e.store.Cursor(conversationID), nil
}

// loadPage fetches one history page and merges it, unless the conversation
// stopped being the one of interest while the fetch was in flight; a stale
// result is discarded rather than corrupting another conversation's log.
func (e *Engine) loadPage(ctx context.Context, conversationID string, page, gen int) error {
	result, err := e.fetcher.FetchMessages(ctx, conversationID, page, e.pageSize)
	if err != nil {
		return err
	}
	_, mergeErr := e.loop.call(ctx, func() (any, error) {
		if e.openConv != conversationID || e.openGen != gen {
			logger.Debugf("engine: discarding stale page %d for conversation %s", page, conversationID)
			return nil, nil
		}
		e.store.MergePage(conversationID, result)
		return nil, nil
	})
	return mergeErr
}

// handleMessageFrame consumes one live-pushed message frame. This is the only
// path that makes a sent text message visible locally (the echo).
func (e *Engine) handleMessageFrame(frame wire.Frame) {
	msg, err := wire.ParseMessage(frame.Payload)
	if err != nil {
		logger.Warnf("engine: dropping malformed message on %s: %v", frame.Topic, err)
		return
	}
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = conversationFromTopic(frame.Topic)
	}
	e.store.AppendLive(conversationID, msg)
}

func conversationFromTopic(topic string) string {
	const prefix = "conversation:"
	if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
		return topic[len(prefix):]
	}
	return topic
}

// transformConversation maps a wire chat room into the cached representation.
func transformConversation(c wire.Conversation) types.Conversation {
	kind := types.ConversationPrivate
	if c.RoomType == "GROUP" || c.RoomType == "PUBLIC" {
		kind = types.ConversationGroup
	}

	title := c.ChatRoomName
	if title == "" && c.Member != nil {
		title = c.Member.Username
	}
	if title == "" {
		title = "Chat " + shortID(c.ChatRoomID)
	}

	conv := types.Conversation{
		ID:          c.ChatRoomID,
		Kind:        kind,
		Title:       title,
		AvatarRef:   c.ChatRoomAvatar,
		MemberCount: c.MemberCount,
		UnreadCount: c.ReadCount,
	}
	if c.LastMessage != nil {
		conv.LastMessageSummary = c.LastMessage.Content
		conv.LastMessageAt = c.LastMessage.SentAt
	}
	if kind == types.ConversationPrivate && c.Member != nil {
		counterpart := &types.Counterpart{
			UserID:   c.Member.ID,
			Username: c.Member.Username,
			Online:   c.Member.Online(),
		}
		if c.Member.LastSeen != nil {
			counterpart.LastSeenAt = *c.Member.LastSeen
		}
		conv.Counterpart = counterpart
	}
	return conv
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
