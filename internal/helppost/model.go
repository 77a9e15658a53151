package helppost

import (
	"time"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// PostRequest is the body for creating or editing a help post.
type PostRequest struct {
	Title       string    `json:"title" validate:"notblank,max=200"`
	Description string    `json:"description" validate:"notblank,max=5000"`
	Category    string    `json:"category" validate:"required"`
	Location    string    `json:"location" validate:"notblank,max=200"`
	NeededBy    time.Time `json:"neededBy" validate:"required"`
}

type OfferRequest struct {
	Message string `json:"message" validate:"max=500"`
}

type StatusRequest struct {
	Status domain.PostStatus `json:"status" validate:"required,oneof=open in-progress completed"`
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Category string
	Status   domain.PostStatus
	Page     int
	Limit    int
}

type ListResult struct {
	Posts      []domain.HelpPost `json:"posts"`
	Total      int               `json:"total"`
	Page       int               `json:"currentPage"`
	TotalPages int               `json:"totalPages"`
}
