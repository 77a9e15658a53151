package helppost

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

// memStore keeps posts in memory and enforces one offer per user per post,
// like the helpers table.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]string
	posts    map[int64]*domain.HelpPost
	nextPost int64
	nextHelp int64
	clock    time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]string{1: "alice", 2: "bob", 3: "carol"},
		posts: map[int64]*domain.HelpPost{},
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) copyPost(p *domain.HelpPost) domain.HelpPost {
	cp := *p
	cp.Helpers = slices.Clone(p.Helpers)
	if cp.Helpers == nil {
		cp.Helpers = []domain.Helper{}
	}
	return cp
}

func (m *memStore) Create(_ context.Context, p *domain.HelpPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPost++
	p.ID = m.nextPost
	p.Status = domain.StatusOpen
	p.CreatedAt = m.tick()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	stored.Author.Username = m.users[p.Author.ID]
	m.posts[p.ID] = &stored
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (*domain.HelpPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, apperr.FromStore("get help post", apperr.ErrNotFound)
	}
	cp := m.copyPost(p)
	return &cp, nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]domain.HelpPost, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.HelpPost
	for _, p := range m.posts {
		if (f.Category == "" || p.Category == f.Category) && (f.Status == "" || p.Status == f.Status) {
			all = append(all, m.copyPost(p))
		}
	}
	sortNewest(all)
	start := min((f.Page-1)*f.Limit, len(all))
	end := min(start+f.Limit, len(all))
	return append([]domain.HelpPost{}, all[start:end]...), len(all), nil
}

func (m *memStore) ListByAuthor(_ context.Context, authorID int64) ([]domain.HelpPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.HelpPost{}
	for _, p := range m.posts {
		if p.Author.ID == authorID {
			out = append(out, m.copyPost(p))
		}
	}
	sortNewest(out)
	return out, nil
}

func sortNewest(posts []domain.HelpPost) {
	slices.SortFunc(posts, func(a, b domain.HelpPost) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
}

func (m *memStore) Update(_ context.Context, p *domain.HelpPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[p.ID]
	if !ok {
		return apperr.FromStore("update help post", apperr.ErrNotFound)
	}
	cur.Title, cur.Description, cur.Category = p.Title, p.Description, p.Category
	cur.Location, cur.NeededBy = p.Location, p.NeededBy
	cur.UpdatedAt = m.tick()
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, id int64, status domain.PostStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[id]
	if !ok {
		return apperr.FromStore("update help post status", apperr.ErrNotFound)
	}
	cur.Status = status
	cur.UpdatedAt = m.tick()
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return apperr.FromStore("delete help post", apperr.ErrNotFound)
	}
	delete(m.posts, id)
	return nil
}

func (m *memStore) AddHelper(_ context.Context, postID, userID int64, message string) (*domain.Helper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[postID]
	if !ok {
		return nil, apperr.FromStore("add helper", apperr.ErrNotFound)
	}
	if _, dup := cur.HelperByUser(userID); dup {
		return nil, apperr.FromStore("add helper", apperr.ErrConflict)
	}
	m.nextHelp++
	h := domain.Helper{
		ID: m.nextHelp, PostID: postID,
		User:    domain.UserRef{ID: userID, Username: m.users[userID]},
		Message: message, Status: domain.HelperPending, OfferedAt: m.tick(),
	}
	cur.Helpers = append(cur.Helpers, h)
	return &h, nil
}

func (m *memStore) SetHelperStatus(_ context.Context, postID, helperID int64, status domain.HelperStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[postID]
	if !ok {
		return apperr.FromStore("set helper status", apperr.ErrNotFound)
	}
	i := slices.IndexFunc(cur.Helpers, func(h domain.Helper) bool { return h.ID == helperID })
	if i < 0 {
		return apperr.FromStore("set helper status", apperr.ErrNotFound)
	}
	cur.Helpers[i].Status = status
	if status == domain.HelperAccepted && cur.Status != domain.StatusCompleted {
		cur.Status = domain.StatusInProgress
	}
	return nil
}
