// Package client keeps a local copy of a user's help board state in sync with
// the server, from websocket pushes while connected and HTTP polling otherwise.
package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

// Notice is a notification as the client sees it. Pushed notices that arrive
// before the stored record is known carry a synthesized id until the next full
// fetch replaces them.
type Notice struct {
	ID        string                  `json:"id"`
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Related   *domain.RelatedEntity   `json:"related_entity,omitempty"`
	Read      bool                    `json:"read"`
	CreatedAt time.Time               `json:"created_at"`
}

// Synthesized ids start with one of these prefixes.
const (
	prefixMessage = "msg-"
	prefixHelp    = "help-"
	prefixSystem  = "sys-"
)

type Mirror struct {
	mu            sync.Mutex
	posts         []domain.HelpPost
	conversations []domain.Conversation
	messages      map[int64][]domain.Message
	notices       []Notice
	unread        int

	// dedupWindow collapses pushes with the same type and related entity that
	// land in the same time bucket. Zero disables it.
	dedupWindow time.Duration
	seen        map[string]int64
	now         func() time.Time
}

type Option func(*Mirror)

func WithDedupWindow(d time.Duration) Option {
	return func(m *Mirror) { m.dedupWindow = d }
}

func NewMirror(opts ...Option) *Mirror {
	m := &Mirror{
		messages: map[int64][]domain.Message{},
		seen:     map[string]int64{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply merges one server push into the mirror. Unknown events are ignored.
func (m *Mirror) Apply(f wire.Frame) error {
	switch f.Event {
	case wire.EventNewHelpPost, wire.EventUpdatedHelpPost:
		var p domain.HelpPost
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.UpsertPost(p)
	case wire.EventDeletedHelpPost:
		var d wire.DeletedHelpPost
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.RemovePost(d.ID)
	case wire.EventNewMessage:
		var msg domain.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.AddMessage(msg)
	case wire.EventMessagesRead:
		var r wire.MessagesRead
		if err := json.Unmarshal(f.Data, &r); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.MarkMessagesRead(r.ConversationID, r.UserID)
	case wire.EventNewMessageNotification:
		var n wire.MessageNotification
		if err := json.Unmarshal(f.Data, &n); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.addNotice(n.NotificationID, prefixMessage, Notice{
			Type:    domain.NotificationNewMessage,
			Title:   "New Message",
			Message: "New message from " + lo.CoalesceOrEmpty(n.Message.SenderUsername, "Someone"),
			Related: &domain.RelatedEntity{Kind: domain.EntityConversation, ID: n.Conversation.ID},
		})
		m.AddMessage(n.Message)
	case wire.EventHelpPostNotification:
		var n wire.HelpPostNotification
		if err := json.Unmarshal(f.Data, &n); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.addNotice(n.NotificationID, prefixHelp, Notice{
			Type:      n.Type,
			Title:     helpTitle(n.Type),
			Message:   n.Message,
			Related:   &domain.RelatedEntity{Kind: domain.EntityHelpPost, ID: n.HelpPost.ID},
			CreatedAt: n.Timestamp,
		})
	case wire.EventSystemNotification:
		var n wire.SystemNotification
		if err := json.Unmarshal(f.Data, &n); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.addNotice(n.NotificationID, prefixSystem, Notice{
			Type:      domain.NotificationSystem,
			Title:     "System Notification",
			Message:   n.Message,
			CreatedAt: n.Timestamp,
		})
	}
	return nil
}

func helpTitle(t domain.NotificationType) string {
	switch t {
	case domain.NotificationHelpOffered:
		return "Help Offered"
	case domain.NotificationHelpAccepted:
		return "Help Accepted"
	case domain.NotificationHelpRejected:
		return "Help Rejected"
	case domain.NotificationStatusChanged:
		return "Status Updated"
	default:
		return "Help Post Update"
	}
}

// addNotice prepends a pushed notice and bumps the unread count, unless the
// dedup window says it is a repeat.
func (m *Mirror) addNotice(serverID int64, prefix string, n Notice) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if serverID > 0 {
		n.ID = strconv.FormatInt(serverID, 10)
	} else {
		n.ID = prefix + strconv.FormatInt(now.UnixNano(), 10)
	}

	if serverID > 0 && slices.ContainsFunc(m.notices, func(cur Notice) bool { return cur.ID == n.ID }) {
		return false
	}
	if m.duplicate(n, now) {
		return false
	}
	m.notices = append([]Notice{n}, m.notices...)
	m.unread++
	return true
}

func (m *Mirror) duplicate(n Notice, now time.Time) bool {
	if m.dedupWindow <= 0 {
		return false
	}
	bucket := now.UnixNano() / int64(m.dedupWindow)
	var relatedID int64
	if n.Related != nil {
		relatedID = n.Related.ID
	}
	key := fmt.Sprintf("%s/%d", n.Type, relatedID)
	if b, ok := m.seen[key]; ok && b == bucket {
		return true
	}
	m.seen[key] = bucket
	for k, b := range m.seen {
		if b < bucket {
			delete(m.seen, k)
		}
	}
	return false
}

// ReplaceNotifications swaps in server truth from a full fetch, dropping every
// synthesized notice.
func (m *Mirror) ReplaceNotifications(items []domain.Notification, unread int) {
	notices := lo.Map(items, func(n domain.Notification, _ int) Notice {
		return Notice{
			ID:        strconv.FormatInt(n.ID, 10),
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Related:   n.Related,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		}
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = notices
	m.unread = unread
}

// MarkNoticeRead flags one notice read locally. It reports whether anything
// changed.
func (m *Mirror) MarkNoticeRead(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.notices, func(n Notice) bool { return n.ID == id })
	if i < 0 || m.notices[i].Read {
		return false
	}
	m.notices[i].Read = true
	m.unread = max(0, m.unread-1)
	return true
}

func (m *Mirror) MarkAllNoticesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notices {
		m.notices[i].Read = true
	}
	m.unread = 0
}

// UpsertPost replaces a post by id, or prepends it when it is new.
func (m *Mirror) UpsertPost(p domain.HelpPost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.IndexFunc(m.posts, func(cur domain.HelpPost) bool { return cur.ID == p.ID }); i >= 0 {
		m.posts[i] = p
		return
	}
	m.posts = append([]domain.HelpPost{p}, m.posts...)
}

func (m *Mirror) RemovePost(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = slices.DeleteFunc(m.posts, func(p domain.HelpPost) bool { return p.ID == id })
}

func (m *Mirror) ReplacePosts(posts []domain.HelpPost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = slices.Clone(posts)
}

func (m *Mirror) ReplaceConversations(convs []domain.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = slices.Clone(convs)
}

// ReplaceMessages sets one conversation's history from a fetch. Fetched
// copies win over local ones with the same id.
func (m *Mirror) ReplaceMessages(conversationID int64, msgs []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Messages are never deleted server side, so a local one missing from the
	// snapshot was pushed after it was taken and is kept.
	local := m.messages[conversationID]
	m.messages[conversationID] = nil
	for _, msg := range msgs {
		m.insertMessage(msg)
	}
	for _, msg := range local {
		m.insertMessage(msg)
	}
}

// AddMessage inserts a message in (created_at, id) order. A message already
// present is ignored.
func (m *Mirror) AddMessage(msg domain.Message) {
	if msg.ID == 0 || msg.ConversationID == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.insertMessage(msg) {
		return
	}
	if i := slices.IndexFunc(m.conversations, func(c domain.Conversation) bool { return c.ID == msg.ConversationID }); i >= 0 {
		conv := &m.conversations[i]
		if !msg.CreatedAt.Before(conv.LastActivity) {
			cp := msg
			conv.LastMessage = &cp
			conv.LastMessageID = &cp.ID
			conv.LastActivity = msg.CreatedAt
		}
	}
}

func (m *Mirror) insertMessage(msg domain.Message) bool {
	list := m.messages[msg.ConversationID]
	if slices.ContainsFunc(list, func(cur domain.Message) bool { return cur.ID == msg.ID }) {
		return false
	}
	i, _ := slices.BinarySearchFunc(list, msg, compareMessages)
	m.messages[msg.ConversationID] = slices.Insert(list, i, msg)
	return true
}

func compareMessages(a, b domain.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// MarkMessagesRead applies a read receipt: every message in the conversation
// not sent by reader is now read.
func (m *Mirror) MarkMessagesRead(conversationID, readerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.messages[conversationID]
	for i := range list {
		if list[i].SenderID != readerID {
			list[i].Read = true
		}
	}
}

func (m *Mirror) Posts() []domain.HelpPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.posts)
}

func (m *Mirror) Conversations() []domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.conversations)
}

func (m *Mirror) Messages(conversationID int64) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages[conversationID])
}

// Threads returns the ids of conversations whose messages the mirror holds.
func (m *Mirror) Threads() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := lo.Keys(m.messages)
	slices.Sort(ids)
	return ids
}

func (m *Mirror) Notifications() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notices)
}

func (m *Mirror) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread
}
