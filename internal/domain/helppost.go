package domain

import (
	"slices"
	"time"
)

type PostStatus string

const (
	StatusOpen       PostStatus = "open"
	StatusInProgress PostStatus = "in-progress"
	StatusCompleted  PostStatus = "completed"
)

type HelperStatus string

const (
	HelperPending  HelperStatus = "pending"
	HelperAccepted HelperStatus = "accepted"
	HelperRejected HelperStatus = "rejected"
)

// Categories accepted for a help post.
var Categories = []string{
	"Shopping", "Transport", "Study Help", "Food Delivery",
	"Ride Share", "Book Exchange", "Project Help", "Other",
}

type HelpPost struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Location    string     `json:"location"`
	NeededBy    time.Time  `json:"needed_by"`
	Author      UserRef    `json:"author"`
	Status      PostStatus `json:"status"`
	Helpers     []Helper   `json:"helpers"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Helper is one offer of help on a post. It is its own row with a foreign key
// to the owning post.
type Helper struct {
	ID        int64        `json:"id"`
	PostID    int64        `json:"post_id"`
	User      UserRef      `json:"user"`
	Message   string       `json:"message"`
	Status    HelperStatus `json:"status"`
	OfferedAt time.Time    `json:"offered_at"`
}

func (p *HelpPost) HasAcceptedHelper() bool {
	return slices.ContainsFunc(p.Helpers, func(h Helper) bool { return h.Status == HelperAccepted })
}

func (p *HelpPost) Helper(helperID int64) (Helper, bool) {
	i := slices.IndexFunc(p.Helpers, func(h Helper) bool { return h.ID == helperID })
	if i < 0 {
		return Helper{}, false
	}
	return p.Helpers[i], true
}

func (p *HelpPost) HelperByUser(userID int64) (Helper, bool) {
	i := slices.IndexFunc(p.Helpers, func(h Helper) bool { return h.User.ID == userID })
	if i < 0 {
		return Helper{}, false
	}
	return p.Helpers[i], true
}

// ActiveHelperIDs returns the user ids of helpers whose offer is accepted or
// still pending.
func (p *HelpPost) ActiveHelperIDs() []int64 {
	var ids []int64
	for _, h := range p.Helpers {
		if h.Status == HelperAccepted || h.Status == HelperPending {
			ids = append(ids, h.User.ID)
		}
	}
	return ids
}
