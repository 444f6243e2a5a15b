package store

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/types"
)

var base = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func ownByID(senderID, senderUsername string) bool {
	if senderID != "" {
		return senderID == "u1"
	}
	return strings.EqualFold(senderUsername, "vu1")
}

func wireMsg(id, sender string, offset int) wire.Message {
	return wire.Message{
		MessageID:      id,
		SenderID:       sender,
		SenderUsername: "user-" + sender,
		Content:        "content of " + id,
		MessageType:    wire.MessageTypeText,
		SentAt:         base.Add(time.Duration(offset) * time.Minute),
	}
}

// newestFirst builds a fetched page the way the backend serves it: newest
// message first.
func newestFirst(msgs ...wire.Message) []wire.Message {
	out := make([]wire.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

func TestMergePage_ReversesAndAppendExtends(t *testing.T) {
	t.Parallel()

	s := New(ownByID)

	// Server returns 15 items newest-first: t15 > t14 > ... > t1.
	var msgs []wire.Message
	for i := 1; i <= 15; i++ {
		msgs = append(msgs, wireMsg(fmt.Sprintf("m%02d", i), "u2", i))
	}
	cursor := s.MergePage("c1", wire.MessagePage{
		Data:    newestFirst(msgs...),
		Page:    0,
		HasNext: false,
	})

	got := s.Ordered("c1")
	require.Len(t, got, 15)
	for i := 1; i < len(got); i++ {
		require.False(t, got[i].SentAt.Before(got[i-1].SentAt), "messages must be oldest-first")
	}
	require.Equal(t, "m01", got[0].ID)
	require.Equal(t, "m15", got[14].ID)
	require.False(t, cursor.HasNext)

	require.True(t, s.AppendLive("c1", wireMsg("m16", "u2", 16)))
	got = s.Ordered("c1")
	require.Len(t, got, 16)
	require.Equal(t, "m16", got[15].ID)
}

func TestMergePage_PageZeroReplaces(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	s.MergePage("c1", wire.MessagePage{Data: newestFirst(wireMsg("old1", "u2", 1), wireMsg("old2", "u2", 2))})
	s.MergePage("c1", wire.MessagePage{Data: newestFirst(wireMsg("new1", "u2", 5), wireMsg("new2", "u2", 6))})

	got := s.Ordered("c1")
	require.Len(t, got, 2)
	require.Equal(t, "new1", got[0].ID)
	require.Equal(t, "new2", got[1].ID)
}

func TestMergePage_OlderPagePrependsAndDedups(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	s.MergePage("c1", wire.MessagePage{
		Data:    newestFirst(wireMsg("m10", "u2", 10), wireMsg("m11", "u2", 11)),
		Page:    0,
		HasNext: true,
	})

	// The older page overlaps m10, which must not duplicate.
	cursor := s.MergePage("c1", wire.MessagePage{
		Data:    newestFirst(wireMsg("m08", "u2", 8), wireMsg("m09", "u2", 9), wireMsg("m10", "u2", 10)),
		Page:    1,
		HasNext: false,
	})

	got := s.Ordered("c1")
	require.Equal(t, []string{"m08", "m09", "m10", "m11"}, ids(got))
	require.Equal(t, 1, cursor.Page)
	require.False(t, cursor.HasNext)
}

func TestAppendLive_IdempotentOnMessageID(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	require.True(t, s.AppendLive("c1", wireMsg("m1", "u2", 1)))
	require.False(t, s.AppendLive("c1", wireMsg("m1", "u2", 1)))

	// Same id with different content is still the same message.
	dup := wireMsg("m1", "u2", 1)
	dup.Content = "rewritten"
	require.False(t, s.AppendLive("c1", dup))

	require.Len(t, s.Ordered("c1"), 1)
}

func TestAppendLive_RejectsEmptyContent(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	empty := wireMsg("m1", "u2", 1)
	empty.Content = ""
	require.False(t, s.AppendLive("c1", empty))
	require.Empty(t, s.Ordered("c1"))
}

func TestAppendLive_OutOfOrderStaysSorted(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	require.True(t, s.AppendLive("c1", wireMsg("m3", "u2", 3)))
	require.True(t, s.AppendLive("c1", wireMsg("m1", "u2", 1)))
	require.True(t, s.AppendLive("c1", wireMsg("m2", "u2", 2)))

	require.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Ordered("c1")))
}

func TestAppendLive_TimestampTieBrokenByID(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	require.True(t, s.AppendLive("c1", wireMsg("mB", "u2", 1)))
	require.True(t, s.AppendLive("c1", wireMsg("mA", "u2", 1)))

	require.Equal(t, []string{"mA", "mB"}, ids(s.Ordered("c1")))
}

func TestAppendLive_UpdatesConversationSummary(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	s.SetConversations([]types.Conversation{
		{ID: "c1", Kind: types.ConversationPrivate, Title: "bob"},
		{ID: "c2", Kind: types.ConversationPrivate, Title: "eve"},
	})

	msg := wireMsg("m1", "u2", 1)
	require.True(t, s.AppendLive("c1", msg))

	convs := s.Conversations()
	require.Equal(t, msg.Content, convs[0].LastMessageSummary)
	require.Equal(t, msg.SentAt, convs[0].LastMessageAt)
	require.Empty(t, convs[1].LastMessageSummary)
}

func TestIsOwn_SameAnswerForFetchAndPush(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	fetched := wireMsg("m1", "u1", 1)
	pushed := wireMsg("m2", "u1", 2)

	s.MergePage("c1", wire.MessagePage{Data: newestFirst(fetched)})
	require.True(t, s.AppendLive("c1", pushed))

	got := s.Ordered("c1")
	require.Len(t, got, 2)
	require.True(t, got[0].IsOwn)
	require.True(t, got[1].IsOwn)
}

func TestUpdateCounterpart_ScopedToMatchingConversations(t *testing.T) {
	t.Parallel()

	seen := base.Add(-time.Hour)
	list := []types.Conversation{
		{
			ID: "c1", Kind: types.ConversationPrivate, Title: "bob",
			Counterpart: &types.Counterpart{UserID: "u2", Username: "bob"},
		},
		{
			ID: "c2", Kind: types.ConversationPrivate, Title: "eve",
			Counterpart: &types.Counterpart{UserID: "u3", Username: "eve", LastSeenAt: seen},
		},
		{ID: "c3", Kind: types.ConversationGroup, Title: "team"},
	}

	s := New(ownByID)
	s.SetConversations(list)

	now := base
	require.Equal(t, 1, s.UpdateCounterpart("u2", "bob", true, now))

	convs := s.Conversations()
	require.True(t, convs[0].Counterpart.Online)
	require.Equal(t, now, convs[0].Counterpart.LastSeenAt)

	// Everything else is untouched.
	require.Equal(t, list[1], convs[1])
	require.Equal(t, list[2], convs[2])
}

func TestUpdateCounterpart_UsernameFallback(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	s.SetConversations([]types.Conversation{
		{
			ID: "c1", Kind: types.ConversationPrivate,
			Counterpart: &types.Counterpart{Username: "bob"},
		},
	})

	require.Equal(t, 1, s.UpdateCounterpart("", "bob", true, time.Time{}))
	require.True(t, s.Conversations()[0].Counterpart.Online)

	// Casing differences must not defeat the fallback, same as the
	// sender-identity comparison.
	require.Equal(t, 1, s.UpdateCounterpart("", "BOB", false, time.Time{}))
	require.False(t, s.Conversations()[0].Counterpart.Online)
}

func TestResetCursor(t *testing.T) {
	t.Parallel()

	s := New(ownByID)
	s.MergePage("c1", wire.MessagePage{
		Data:    newestFirst(wireMsg("m1", "u2", 1)),
		Page:    2,
		HasNext: true,
	})
	require.Equal(t, 2, s.Cursor("c1").Page)

	s.ResetCursor("c1")
	cursor := s.Cursor("c1")
	require.Equal(t, 0, cursor.Page)
	require.False(t, cursor.HasNext)
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
