// Package store keeps the per-conversation message logs and the conversation
// list consistent with the server.
//
// All mutations go through the Store's single mutex, so a history merge and a
// live append that race resolve as if applied in some serial order; readers
// always get snapshot copies.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
	"github.com/vule/chatsync/pkg/types"
)

// OwnFunc is the sender-identity comparison applied to every materialized
// message, regardless of which transport delivered it.
type OwnFunc func(senderID, senderUsername string) bool

// Store is the in-memory cache of conversations and their ordered message
// logs.
type Store struct {
	mu            sync.Mutex
	own           OwnFunc
	conversations []types.Conversation
	logs          map[string]*conversationLog
}

type conversationLog struct {
	// messages is sorted by SentAt ascending, message id as tiebreak.
	messages []types.Message
	ids      map[string]struct{}
	cursor   types.Cursor
}

// New creates an empty Store using the given identity comparison.
func New(own OwnFunc) *Store {
	return &Store{
		own:  own,
		logs: make(map[string]*conversationLog),
	}
}

// SetConversations replaces the conversation list (initial population at
// session start).
func (s *Store) SetConversations(list []types.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]types.Conversation(nil), list...)
}

// Conversations returns a snapshot of the conversation list.
func (s *Store) Conversations() []types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Conversation(nil), s.conversations...)
}

// UpdateCounterpart applies a presence change to every PRIVATE conversation
// whose counterpart matches the given user, by id first and username as
// fallback. Conversations with no matching counterpart are left untouched.
func (s *Store) UpdateCounterpart(userID, username string, online bool, lastSeen time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for i := range s.conversations {
		conv := &s.conversations[i]
		if conv.Kind != types.ConversationPrivate || conv.Counterpart == nil {
			continue
		}
		if !counterpartMatches(conv.Counterpart, userID, username) {
			continue
		}
		counterpart := *conv.Counterpart
		counterpart.Online = online
		if !lastSeen.IsZero() {
			counterpart.LastSeenAt = lastSeen
		}
		conv.Counterpart = &counterpart
		updated++
	}
	return updated
}

// counterpartMatches applies the same comparison rules as the sender-identity
// check: id equality when both sides carry one, case-insensitive username
// fallback otherwise.
func counterpartMatches(c *types.Counterpart, userID, username string) bool {
	if userID != "" && c.UserID != "" {
		return c.UserID == userID
	}
	return username != "" && strings.EqualFold(c.Username, username)
}

// MergePage merges one fetched history page into a conversation's log.
//
// The raw page is ordered newest-first and is reversed before merging. Page 0
// replaces the current log as the authoritative recent window; later pages
// prepend older messages ahead of it. The merged log stays ordered and
// duplicate-free.
func (s *Store) MergePage(conversationID string, page wire.MessagePage) types.Cursor {
	fetched := make([]types.Message, 0, len(page.Data))
	for i := len(page.Data) - 1; i >= 0; i-- {
		fetched = append(fetched, s.materialize(conversationID, page.Data[i]))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log(conversationID)
	if page.Page == 0 {
		log.messages = log.messages[:0]
		log.ids = make(map[string]struct{})
	}

	kept := make([]types.Message, 0, len(fetched))
	for _, m := range fetched {
		if _, dup := log.ids[m.ID]; dup {
			continue
		}
		log.ids[m.ID] = struct{}{}
		kept = append(kept, m)
	}
	log.messages = append(kept, log.messages...)
	sort.SliceStable(log.messages, func(i, j int) bool {
		return messageLess(log.messages[i], log.messages[j])
	})

	log.cursor = types.Cursor{
		ConversationID: conversationID,
		Page:           page.Page,
		HasNext:        page.HasNext,
		HasPrevious:    page.HasPrevious,
	}
	return log.cursor
}

// AppendLive merges one live-pushed message into a conversation's log and
// refreshes the conversation's last-message summary.
//
// Empty content is dropped, and a message id already present in the log is a
// no-op, so redelivered echoes never duplicate entries. Returns whether the
// message was stored.
func (s *Store) AppendLive(conversationID string, raw wire.Message) bool {
	if raw.Content == "" {
		logger.Warnf("store: dropping empty message %s in conversation %s", raw.MessageID, conversationID)
		return false
	}
	m := s.materialize(conversationID, raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log(conversationID)
	if _, dup := log.ids[m.ID]; dup {
		logger.Debugf("store: duplicate message %s in conversation %s", m.ID, conversationID)
		return false
	}
	log.ids[m.ID] = struct{}{}
	log.insert(m)

	for i := range s.conversations {
		if s.conversations[i].ID != conversationID {
			continue
		}
		s.conversations[i].LastMessageSummary = m.Content
		s.conversations[i].LastMessageAt = m.SentAt
		break
	}
	return true
}

// Ordered returns a snapshot of a conversation's messages, oldest first.
func (s *Store) Ordered(conversationID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[conversationID]
	if !ok {
		return nil
	}
	return append([]types.Message(nil), log.messages...)
}

// Cursor returns the conversation's pagination cursor.
func (s *Store) Cursor(conversationID string) types.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[conversationID]; ok {
		return log.cursor
	}
	return types.Cursor{ConversationID: conversationID}
}

// ResetCursor rewinds a conversation's cursor to page zero; called when the
// conversation is freshly opened.
func (s *Store) ResetCursor(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[conversationID]; ok {
		log.cursor = types.Cursor{ConversationID: conversationID}
	}
}

// Clear drops all cached state (logout).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.logs = make(map[string]*conversationLog)
}

func (s *Store) log(conversationID string) *conversationLog {
	log, ok := s.logs[conversationID]
	if !ok {
		log = &conversationLog{ids: make(map[string]struct{})}
		s.logs[conversationID] = log
	}
	return log
}

// materialize converts a wire message into the cached representation,
// deriving IsOwn through the one session identity comparison.
func (s *Store) materialize(conversationID string, raw wire.Message) types.Message {
	msgType := types.MessageType(raw.MessageType)
	if msgType == "" {
		msgType = types.MessageText
	}
	convID := raw.ConversationID
	if convID == "" {
		convID = conversationID
	}
	return types.Message{
		ID:             raw.MessageID,
		ConversationID: convID,
		SenderID:       raw.SenderID,
		SenderUsername: raw.SenderUsername,
		Content:        raw.Content,
		Type:           msgType,
		SentAt:         raw.SentAt,
		IsOwn:          s.own(raw.SenderID, raw.SenderUsername),
	}
}

// insert places a message at its ordered position. Live messages are almost
// always the newest, so the append fast path dominates.
func (l *conversationLog) insert(m types.Message) {
	n := len(l.messages)
	if n == 0 || messageLess(l.messages[n-1], m) {
		l.messages = append(l.messages, m)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return messageLess(m, l.messages[i])
	})
	l.messages = append(l.messages, types.Message{})
	copy(l.messages[i+1:], l.messages[i:])
	l.messages[i] = m
}

func messageLess(a, b types.Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}
