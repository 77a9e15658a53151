package notification

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

// memStore mirrors Repository semantics in memory.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Notification
	clock  time.Time
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]*domain.Notification{}, clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memStore) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.clock = m.clock.Add(time.Second)
	n.ID = m.nextID
	n.CreatedAt = m.clock
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, apperr.FromStore("get notification", apperr.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) ListForRecipient(_ context.Context, userID int64, page, pageSize int, typ domain.NotificationType) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Notification
	for _, n := range m.rows {
		if n.RecipientID == userID && (typ == "" || n.Type == typ) {
			all = append(all, *n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	return newPage(all[start:end], len(all), page, pageSize), nil
}

func (m *memStore) UnreadCount(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.rows {
		if n.RecipientID == userID && !n.Read {
			c++
		}
	}
	return c, nil
}

func (m *memStore) MarkOneRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return apperr.FromStore("mark read", apperr.ErrNotFound)
	}
	if !n.Read {
		now := m.clock
		n.Read, n.ReadAt = true, &now
	}
	return nil
}

func (m *memStore) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for _, n := range m.rows {
		if n.RecipientID == userID && !n.Read {
			now := m.clock
			n.Read, n.ReadAt = true, &now
			c++
		}
	}
	return c, nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return apperr.FromStore("delete notification", apperr.ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) DeleteAllForRecipient(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for id, n := range m.rows {
		if n.RecipientID == userID {
			delete(m.rows, id)
			c++
		}
	}
	return c, nil
}

func (m *memStore) Stats(_ context.Context, userID int64) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Stats{ByType: map[domain.NotificationType]int{}}
	for _, n := range m.rows {
		if n.RecipientID != userID {
			continue
		}
		s.Total++
		s.ByType[n.Type]++
		if !n.Read {
			s.Unread++
		}
	}
	return s, nil
}

func (m *memStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for id, n := range m.rows {
		if n.CreatedAt.Before(cutoff) {
			delete(m.rows, id)
			c++
		}
	}
	return c, nil
}

func senderPtr(id int64) *int64 { return &id }

func newNote(recipient int64, typ domain.NotificationType) *domain.Notification {
	n := &domain.Notification{
		RecipientID: recipient,
		Type:        typ,
		Title:       "Title",
		Message:     "Body",
	}
	if typ != domain.NotificationSystem {
		n.SenderID = senderPtr(99)
	}
	return n
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	tests := []struct {
		name string
		mut  func(n *domain.Notification)
	}{
		{"missing recipient", func(n *domain.Notification) { n.RecipientID = 0 }},
		{"blank title", func(n *domain.Notification) { n.Title = "   " }},
		{"long title", func(n *domain.Notification) { n.Title = string(make([]byte, 101)) }},
		{"unknown type", func(n *domain.Notification) { n.Type = "poke" }},
		{"missing sender", func(n *domain.Notification) { n.SenderID = nil }},
		{"bad related entity", func(n *domain.Notification) {
			n.Related = &domain.RelatedEntity{Kind: "Task", ID: 1}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newNote(1, domain.NotificationHelpOffered)
			tt.mut(n)
			err := svc.Create(ctx, n)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestCreate_TrimsAndStores(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	n := newNote(1, domain.NotificationSystem)
	n.Title = "  Hello  "

	require.NoError(t, svc.Create(context.Background(), n))
	assert.NotZero(t, n.ID)
	assert.Equal(t, "Hello", store.rows[n.ID].Title)
}

func TestUnreadCountTracksReadFlags(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		n := newNote(1, domain.NotificationNewMessage)
		require.NoError(t, svc.Create(ctx, n))
		ids = append(ids, n.ID)
	}
	require.NoError(t, svc.Create(ctx, newNote(2, domain.NotificationSystem)))

	check := func() {
		t.Helper()
		count, err := svc.UnreadCount(ctx, 1)
		require.NoError(t, err)
		want := 0
		for _, n := range store.rows {
			if n.RecipientID == 1 && !n.Read {
				want++
			}
		}
		assert.Equal(t, want, count)
	}

	check()
	require.NoError(t, svc.MarkRead(ctx, ids[0], 1))
	check()
	require.NoError(t, svc.MarkRead(ctx, ids[0], 1))
	check()
	n, err := svc.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	check()

	other, err := svc.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func TestMarkRead_OtherUsersNotificationIsForbidden(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()
	n := newNote(1, domain.NotificationHelpAccepted)
	require.NoError(t, svc.Create(ctx, n))

	err := svc.MarkRead(ctx, n.ID, 2)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.False(t, store.rows[n.ID].Read)

	err = svc.Delete(ctx, n.ID, 2)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Contains(t, store.rows, n.ID)
}

func TestMarkRead_Missing(t *testing.T) {
	svc := NewService(newMemStore())
	err := svc.MarkRead(context.Background(), 404, 1)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestList_PaginationAndFilter(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		typ := domain.NotificationNewMessage
		if i%5 == 0 {
			typ = domain.NotificationSystem
		}
		require.NoError(t, svc.Create(ctx, newNote(1, typ)))
	}

	page, err := svc.List(ctx, 1, 2, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)
	require.Len(t, page.Items, 10)
	assert.Greater(t, page.Items[0].ID, page.Items[9].ID)

	sys, err := svc.List(ctx, 1, 1, 0, domain.NotificationSystem)
	require.NoError(t, err)
	assert.Equal(t, 5, sys.Total)
	assert.Equal(t, DefaultPageSize, sys.PageSize)
	assert.False(t, sys.HasNext)

	_, err = svc.List(ctx, 1, 1, 10, "bogus")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	big, err := svc.List(ctx, 1, 1, 1000, "")
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, big.PageSize)

	_, err = svc.List(ctx, 1, math.MaxInt, 20, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
}

func TestRecentAndStats(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, svc.Create(ctx, newNote(1, domain.NotificationHelpOffered)))
	}
	require.NoError(t, svc.Create(ctx, newNote(1, domain.NotificationSystem)))

	recent, err := svc.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, RecentLimit)
	assert.Equal(t, domain.NotificationSystem, recent[0].Type)

	stats, err := svc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 13, stats.Total)
	assert.Equal(t, 13, stats.Unread)
	assert.Equal(t, 12, stats.ByType[domain.NotificationHelpOffered])
}

func TestDeleteAll(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, newNote(1, domain.NotificationSystem)))
	require.NoError(t, svc.Create(ctx, newNote(1, domain.NotificationSystem)))
	require.NoError(t, svc.Create(ctx, newNote(2, domain.NotificationSystem)))

	n, err := svc.DeleteAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, store.rows, 1)
}
