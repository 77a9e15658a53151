package domain

import (
	"slices"
	"time"
)

// UserRef is the public projection of a user embedded in other entities.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Conversation is a persistent thread between a help-post author and one
// accepted helper.
type Conversation struct {
	ID            int64     `json:"id"`
	HelpPostID    int64     `json:"help_post_id"`
	HelpPostTitle string    `json:"help_post_title,omitempty"`
	Participants  []UserRef `json:"participants"`
	LastMessageID *int64    `json:"last_message_id,omitempty"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	CreatedAt     time.Time `json:"created_at"`
	// UnreadCount is relative to the user the conversation was loaded for.
	UnreadCount int `json:"unread_count"`
}

func (c *Conversation) HasParticipant(userID int64) bool {
	return slices.ContainsFunc(c.Participants, func(p UserRef) bool { return p.ID == userID })
}

func (c *Conversation) ParticipantIDs() []int64 {
	ids := make([]int64, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.ID
	}
	return ids
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderUsername string    `json:"sender_username"` // Denormalized for the UI (fetched via JOIN)
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
