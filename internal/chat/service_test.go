package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/event"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

// --- mocks ---

type mockRooms struct{ mock.Mock }

func (m *mockRooms) EmitToRoom(ctx context.Context, room, ev string, payload interface{}) error {
	return m.Called(ctx, room, ev, payload).Error(0)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type memNotes struct {
	mu    sync.Mutex
	saved []domain.Notification
}

func (m *memNotes) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, *n)
	return nil
}

type nopPusher struct{}

func (nopPusher) EmitToUser(context.Context, int64, string, interface{}) error { return nil }

// --- helpers ---

func newTestService(store Store, pub event.Publisher, rooms RoomEmitter) *Service {
	return NewService(store, pub, rooms, zap.NewNop())
}

func openConversation(t *testing.T, svc *Service) *domain.Conversation {
	t.Helper()
	conv, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{1, 2})
	require.NoError(t, err)
	return conv
}

// --- FindOrCreateConversation ---

func TestFindOrCreate_ReturnsSameConversation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &capturePublisher{}, &mockRooms{})

	a, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{2, 1})
	require.NoError(t, err)
	b, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{1, 2, 2})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, []int64{1, 2}, a.ParticipantIDs())
}

func TestFindOrCreate_Concurrent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &capturePublisher{}, &mockRooms{})

	const callers = 32
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{1, 2})
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.convs, 1)
}

func TestFindOrCreate_ConflictReadsBackWinner(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &capturePublisher{}, &mockRooms{})
	winner := openConversation(t, svc)

	// The lookup misses, the insert collides, the re-read finds the winner.
	store.staleFinds = 1
	conv, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{1, 2})

	require.NoError(t, err)
	assert.Equal(t, winner.ID, conv.ID)
	assert.Equal(t, 1, store.creates)
}

func TestFindOrCreate_NeedsTwoParticipants(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePublisher{}, &mockRooms{})
	_, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{1, 1})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

// --- SendMessage ---

func TestSendMessage_EmptyContentWritesNothing(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	rooms := &mockRooms{}
	svc := newTestService(store, pub, rooms)
	conv := openConversation(t, svc)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.SendMessage(context.Background(), conv.ID, 1, content)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	}

	assert.Empty(t, store.messages)
	assert.Empty(t, pub.events)
	rooms.AssertNotCalled(t, "EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_PublishesThenBroadcasts(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	rooms := &mockRooms{}
	svc := newTestService(store, pub, rooms)
	conv := openConversation(t, svc)
	rooms.On("EmitToRoom", mock.Anything, ConversationRoom(conv.ID), wire.EventNewMessage, mock.Anything).Return(nil).Once()

	msg, err := svc.SendMessage(context.Background(), conv.ID, 1, "  hello  ")

	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.SenderUsername)
	require.Len(t, pub.events, 1)
	ev := pub.events[0].(event.NewMessage)
	assert.Equal(t, msg.ID, ev.Message.ID)
	assert.Equal(t, msg.ID, *ev.Conversation.LastMessageID)
	rooms.AssertExpectations(t)
}

func TestSendMessage_NonParticipantForbidden(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &capturePublisher{}, &mockRooms{})
	conv := openConversation(t, svc)

	_, err := svc.SendMessage(context.Background(), conv.ID, 3, "let me in")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Empty(t, store.messages)
}

func TestSendMessage_StoreFailureSkipsBroadcast(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	rooms := &mockRooms{}
	svc := newTestService(store, pub, rooms)
	conv := openConversation(t, svc)
	store.appendErr = apperr.FromStore("append message", errors.New("connection reset"))

	_, err := svc.SendMessage(context.Background(), conv.ID, 1, "hello")

	assert.Equal(t, 500, apperr.Status(err))
	assert.Empty(t, pub.events)
	rooms.AssertNotCalled(t, "EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_BroadcastFailureStillSucceeds(t *testing.T) {
	store := newMemStore()
	rooms := &mockRooms{}
	svc := newTestService(store, &capturePublisher{}, rooms)
	conv := openConversation(t, svc)
	rooms.On("EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ErrHubStopped)

	_, err := svc.SendMessage(context.Background(), conv.ID, 1, "hello")
	assert.NoError(t, err)
	assert.Len(t, store.messages, 1)
}

func TestListMessages_Ordered(t *testing.T) {
	store := newMemStore()
	rooms := &mockRooms{}
	rooms.On("EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(store, &capturePublisher{}, rooms)
	conv := openConversation(t, svc)

	for i, sender := range []int64{1, 2, 1, 1, 2} {
		_, err := svc.SendMessage(context.Background(), conv.ID, sender, "msg "+string(rune('a'+i)))
		require.NoError(t, err)
	}

	detail, err := svc.GetConversation(context.Background(), conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 5)
	for i := 1; i < len(detail.Messages); i++ {
		prev, cur := detail.Messages[i-1], detail.Messages[i]
		assert.False(t, cur.CreatedAt.Before(prev.CreatedAt))
		assert.Greater(t, cur.ID, prev.ID)
	}
}

func TestGetConversation_OutsiderGetsNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePublisher{}, &mockRooms{})
	conv := openConversation(t, svc)

	_, err := svc.GetConversation(context.Background(), conv.ID, 3)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

// --- MarkRead ---

func TestMarkRead_Idempotent(t *testing.T) {
	store := newMemStore()
	rooms := &mockRooms{}
	rooms.On("EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(store, &capturePublisher{}, rooms)
	conv := openConversation(t, svc)
	for i := 0; i < 3; i++ {
		_, err := svc.SendMessage(context.Background(), conv.ID, 1, "ping")
		require.NoError(t, err)
	}
	_, err := svc.SendMessage(context.Background(), conv.ID, 2, "pong")
	require.NoError(t, err)

	n, err := svc.MarkRead(context.Background(), conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = svc.MarkRead(context.Background(), conv.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Zero(t, store.unread(conv.ID, 2))
	assert.Equal(t, 1, store.unread(conv.ID, 1))
	rooms.AssertCalled(t, "EmitToRoom", mock.Anything, ConversationRoom(conv.ID), wire.EventMessagesRead,
		wire.MessagesRead{UserID: 2, ConversationID: conv.ID})
}

// --- scenario ---

func TestHelloScenario(t *testing.T) {
	store := newMemStore()
	notes := &memNotes{}
	d := event.NewDispatcher(zap.NewNop())
	d.Register(event.NewMessageObserver(notes, nopPusher{}, zap.NewNop()))
	rooms := &mockRooms{}
	rooms.On("EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(store, d, rooms)
	conv := openConversation(t, svc)

	_, err := svc.SendMessage(context.Background(), conv.ID, 1, "hello")
	require.NoError(t, err)

	require.Len(t, notes.saved, 1)
	assert.Equal(t, int64(2), notes.saved[0].RecipientID)
	assert.Equal(t, domain.NotificationNewMessage, notes.saved[0].Type)

	list, err := svc.GetUserConversations(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)

	_, err = svc.MarkRead(context.Background(), conv.ID, 2)
	require.NoError(t, err)

	detail, err := svc.GetConversation(context.Background(), conv.ID, 1)
	require.NoError(t, err)
	for _, m := range detail.Messages {
		if m.SenderID == 1 {
			assert.True(t, m.Read)
		}
	}
}

func TestGetUserConversations_MostRecentFirst(t *testing.T) {
	store := newMemStore()
	rooms := &mockRooms{}
	rooms.On("EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(store, &capturePublisher{}, rooms)

	first, err := svc.FindOrCreateConversation(context.Background(), 10, []int64{1, 2})
	require.NoError(t, err)
	second, err := svc.FindOrCreateConversation(context.Background(), 11, []int64{1, 3})
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), first.ID, 2, "bump")
	require.NoError(t, err)

	list, err := svc.GetUserConversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}
