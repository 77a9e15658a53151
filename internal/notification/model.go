package notification

import "github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	RecentLimit     = 10
)

// Page is one page of a recipient's notifications, newest first.
type Page struct {
	Items      []domain.Notification `json:"items"`
	Total      int                   `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
	HasNext    bool                  `json:"has_next"`
	HasPrev    bool                  `json:"has_prev"`
}

func newPage(items []domain.Notification, total, page, pageSize int) *Page {
	if items == nil {
		items = []domain.Notification{}
	}
	pages := (total + pageSize - 1) / pageSize
	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

type Stats struct {
	Total  int                             `json:"total"`
	Unread int                             `json:"unread"`
	ByType map[domain.NotificationType]int `json:"by_type"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}
