package client

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

func frame(t *testing.T, event string, payload interface{}) wire.Frame {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return wire.Frame{Event: event, Data: data}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMirror_PostsMergeByID(t *testing.T) {
	m := NewMirror()
	m.ReplacePosts([]domain.HelpPost{{ID: 1, Title: "old"}})

	require.NoError(t, m.Apply(frame(t, wire.EventNewHelpPost, domain.HelpPost{ID: 2, Title: "fresh"})))
	require.NoError(t, m.Apply(frame(t, wire.EventUpdatedHelpPost, domain.HelpPost{ID: 1, Title: "edited"})))

	posts := m.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, int64(2), posts[0].ID, "new posts are prepended")
	assert.Equal(t, "edited", posts[1].Title)

	require.NoError(t, m.Apply(frame(t, wire.EventDeletedHelpPost, wire.DeletedHelpPost{ID: 2})))
	require.NoError(t, m.Apply(frame(t, wire.EventDeletedHelpPost, wire.DeletedHelpPost{ID: 99})))
	assert.Len(t, m.Posts(), 1)

	// An update for a post the mirror never saw behaves like a create.
	require.NoError(t, m.Apply(frame(t, wire.EventUpdatedHelpPost, domain.HelpPost{ID: 3})))
	assert.Len(t, m.Posts(), 2)
}

func TestMirror_MessagesOrderedAndDeduplicated(t *testing.T) {
	m := NewMirror()
	m.ReplaceConversations([]domain.Conversation{{ID: 7, LastActivity: t0}})

	msgs := []domain.Message{
		{ID: 3, ConversationID: 7, CreatedAt: t0.Add(2 * time.Second)},
		{ID: 1, ConversationID: 7, CreatedAt: t0},
		{ID: 2, ConversationID: 7, CreatedAt: t0},
		{ID: 3, ConversationID: 7, CreatedAt: t0.Add(2 * time.Second)},
	}
	for _, msg := range msgs {
		require.NoError(t, m.Apply(frame(t, wire.EventNewMessage, msg)))
	}

	got := m.Messages(7)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})

	conv := m.Conversations()[0]
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, int64(3), conv.LastMessage.ID)
}

func TestMirror_ReplaceMessagesKeepsLaterPushes(t *testing.T) {
	m := NewMirror()
	m.AddMessage(domain.Message{ID: 1, ConversationID: 7, CreatedAt: t0})
	m.AddMessage(domain.Message{ID: 3, ConversationID: 7, CreatedAt: t0.Add(2 * time.Second)})

	m.ReplaceMessages(7, []domain.Message{
		{ID: 1, ConversationID: 7, CreatedAt: t0, Read: true},
		{ID: 2, ConversationID: 7, CreatedAt: t0.Add(time.Second)},
	})

	got := m.Messages(7)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, got[0].Read, "the fetched copy replaces the local one")
	assert.Equal(t, []int64{7}, m.Threads())
}

func TestMirror_ReadReceipt(t *testing.T) {
	m := NewMirror()
	m.ReplaceMessages(7, []domain.Message{
		{ID: 1, ConversationID: 7, SenderID: 1, CreatedAt: t0},
		{ID: 2, ConversationID: 7, SenderID: 2, CreatedAt: t0.Add(time.Second)},
	})

	require.NoError(t, m.Apply(frame(t, wire.EventMessagesRead, wire.MessagesRead{UserID: 2, ConversationID: 7})))

	got := m.Messages(7)
	assert.True(t, got[0].Read)
	assert.False(t, got[1].Read, "the reader's own messages are untouched")
}

func TestMirror_SynthesizedNoticeIDs(t *testing.T) {
	m := NewMirror()
	m.now = func() time.Time { return t0 }

	require.NoError(t, m.Apply(frame(t, wire.EventSystemNotification, wire.SystemNotification{Message: "welcome"})))
	require.NoError(t, m.Apply(frame(t, wire.EventHelpPostNotification, wire.HelpPostNotification{
		Type: domain.NotificationHelpOffered, Message: "bob offered", HelpPost: wire.PostSummary{ID: 4},
	})))
	require.NoError(t, m.Apply(frame(t, wire.EventNewMessageNotification, wire.MessageNotification{
		Message:      domain.Message{ID: 9, ConversationID: 7, SenderUsername: "bob", CreatedAt: t0},
		Conversation: wire.ConversationSummary{ID: 7},
	})))

	notes := m.Notifications()
	require.Len(t, notes, 3)
	assert.True(t, strings.HasPrefix(notes[0].ID, "msg-"))
	assert.Equal(t, "New message from bob", notes[0].Message)
	assert.True(t, strings.HasPrefix(notes[1].ID, "help-"))
	assert.Equal(t, "Help Offered", notes[1].Title)
	assert.True(t, strings.HasPrefix(notes[2].ID, "sys-"))
	assert.Equal(t, 3, m.UnreadCount())
	assert.Len(t, m.Messages(7), 1, "the pushed message lands in the thread too")
}

func TestMirror_ServerIDsAreKeptAndDeduplicated(t *testing.T) {
	m := NewMirror()
	push := frame(t, wire.EventSystemNotification, wire.SystemNotification{NotificationID: 42, Message: "hi"})

	require.NoError(t, m.Apply(push))
	require.NoError(t, m.Apply(push))

	notes := m.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "42", notes[0].ID)
	assert.Equal(t, 1, m.UnreadCount())
}

func TestMirror_FullFetchReplacesNotices(t *testing.T) {
	m := NewMirror()
	require.NoError(t, m.Apply(frame(t, wire.EventSystemNotification, wire.SystemNotification{Message: "pushed"})))
	require.NoError(t, m.Apply(frame(t, wire.EventSystemNotification, wire.SystemNotification{Message: "pushed again"})))

	m.ReplaceNotifications([]domain.Notification{{ID: 5, Type: domain.NotificationSystem, Message: "stored"}}, 1)

	notes := m.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "5", notes[0].ID)
	assert.Equal(t, 1, m.UnreadCount())
}

func TestMirror_DedupWindow(t *testing.T) {
	now := t0
	m := NewMirror(WithDedupWindow(time.Second))
	m.now = func() time.Time { return now }
	offer := frame(t, wire.EventHelpPostNotification, wire.HelpPostNotification{
		Type: domain.NotificationHelpOffered, HelpPost: wire.PostSummary{ID: 4},
	})

	require.NoError(t, m.Apply(offer))
	require.NoError(t, m.Apply(offer))
	assert.Len(t, m.Notifications(), 1, "same bucket collapses")

	other := frame(t, wire.EventHelpPostNotification, wire.HelpPostNotification{
		Type: domain.NotificationHelpOffered, HelpPost: wire.PostSummary{ID: 5},
	})
	require.NoError(t, m.Apply(other))
	assert.Len(t, m.Notifications(), 2, "different entity is kept")

	now = now.Add(time.Second)
	require.NoError(t, m.Apply(offer))
	assert.Len(t, m.Notifications(), 3, "next bucket is kept")
	assert.Equal(t, 3, m.UnreadCount())
}

func TestMirror_MarkNoticeRead(t *testing.T) {
	m := NewMirror()
	m.ReplaceNotifications([]domain.Notification{{ID: 1}, {ID: 2}}, 2)

	assert.True(t, m.MarkNoticeRead("1"))
	assert.False(t, m.MarkNoticeRead("1"))
	assert.False(t, m.MarkNoticeRead("nope"))
	assert.Equal(t, 1, m.UnreadCount())

	m.MarkAllNoticesRead()
	assert.Zero(t, m.UnreadCount())
}

func TestMirror_BadPayload(t *testing.T) {
	m := NewMirror()
	err := m.Apply(wire.Frame{Event: wire.EventNewMessage, Data: json.RawMessage(`"x"`)})
	assert.Error(t, err)
	assert.NoError(t, m.Apply(wire.Frame{Event: "something_else"}))
}
