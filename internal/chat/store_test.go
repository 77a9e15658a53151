package chat

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

// memStore is an in-memory Store that enforces the same uniqueness rule as
// the conversations table.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]string
	convs     map[int64]*domain.Conversation
	byKey     map[string]int64
	messages  []domain.Message
	nextConv  int64
	nextMsg   int64
	clock     time.Time
	creates   int
	appendErr error

	// staleFinds makes the next n lookups miss, as if another writer had not
	// committed yet.
	staleFinds int
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]string{1: "alice", 2: "bob", 3: "carol"},
		convs: map[int64]*domain.Conversation{},
		byKey: map[string]int64{},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) key(postID int64, ids []int64) string {
	return fmt.Sprintf("%d/%s", postID, participantKey(ids))
}

func (m *memStore) FindByPostAndParticipants(_ context.Context, postID int64, ids []int64) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleFinds > 0 {
		m.staleFinds--
		return nil, apperr.FromStore("find conversation", apperr.ErrNotFound)
	}
	id, ok := m.byKey[m.key(postID, ids)]
	if !ok {
		return nil, apperr.FromStore("find conversation", apperr.ErrNotFound)
	}
	return m.copyConv(id), nil
}

func (m *memStore) CreateConversation(_ context.Context, postID int64, ids []int64) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(postID, ids)
	if _, ok := m.byKey[k]; ok {
		return nil, apperr.FromStore("create conversation", apperr.ErrConflict)
	}
	m.creates++
	m.nextConv++
	m.clock = m.clock.Add(time.Second)
	conv := &domain.Conversation{ID: m.nextConv, HelpPostID: postID, LastActivity: m.clock, CreatedAt: m.clock}
	for _, id := range canonical(ids) {
		conv.Participants = append(conv.Participants, domain.UserRef{ID: id, Username: m.users[id]})
	}
	m.convs[conv.ID] = conv
	m.byKey[k] = conv.ID
	return m.copyConv(conv.ID), nil
}

func (m *memStore) copyConv(id int64) *domain.Conversation {
	cp := *m.convs[id]
	cp.Participants = slices.Clone(cp.Participants)
	return &cp
}

func (m *memStore) GetConversation(_ context.Context, id int64) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return nil, apperr.FromStore("get conversation", apperr.ErrNotFound)
	}
	return m.copyConv(id), nil
}

func (m *memStore) IsParticipant(_ context.Context, convID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[convID]
	return ok && conv.HasParticipant(userID), nil
}

func (m *memStore) AppendMessage(_ context.Context, convID, senderID int64, content string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	m.nextMsg++
	m.clock = m.clock.Add(time.Millisecond)
	msg := domain.Message{
		ID: m.nextMsg, ConversationID: convID, SenderID: senderID,
		SenderUsername: m.users[senderID], Content: content, CreatedAt: m.clock,
	}
	m.messages = append(m.messages, msg)
	conv := m.convs[convID]
	conv.LastMessageID = &msg.ID
	conv.LastActivity = msg.CreatedAt
	return &msg, nil
}

func (m *memStore) ListMessages(_ context.Context, convID int64) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Message{}
	for _, msg := range m.messages {
		if msg.ConversationID == convID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, convID, readerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.ConversationID == convID && msg.SenderID != readerID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetUserConversations(_ context.Context, userID int64) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Conversation{}
	for id, conv := range m.convs {
		if !conv.HasParticipant(userID) {
			continue
		}
		cp := m.copyConv(id)
		for _, msg := range m.messages {
			if msg.ConversationID == id && msg.SenderID != userID && !msg.Read {
				cp.UnreadCount++
			}
		}
		out = append(out, *cp)
	}
	slices.SortFunc(out, func(a, b domain.Conversation) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (m *memStore) unread(convID, readerID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.ConversationID == convID && msg.SenderID != readerID && !msg.Read {
			n++
		}
	}
	return n
}
