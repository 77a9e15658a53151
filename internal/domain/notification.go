package domain

import "time"

type NotificationType string

const (
	NotificationNewMessage      NotificationType = "new_message"
	NotificationHelpPostCreated NotificationType = "help_post_created"
	NotificationHelpPostUpdated NotificationType = "help_post_updated"
	NotificationHelpOffered     NotificationType = "help_offered"
	NotificationHelpAccepted    NotificationType = "help_accepted"
	NotificationHelpRejected    NotificationType = "help_rejected"
	NotificationStatusChanged   NotificationType = "status_changed"
	NotificationSystem          NotificationType = "system"
)

// NotificationTypes is the closed set of notification types.
var NotificationTypes = []NotificationType{
	NotificationNewMessage,
	NotificationHelpPostCreated,
	NotificationHelpPostUpdated,
	NotificationHelpOffered,
	NotificationHelpAccepted,
	NotificationHelpRejected,
	NotificationStatusChanged,
	NotificationSystem,
}

func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

type EntityKind string

const (
	EntityHelpPost     EntityKind = "HelpPost"
	EntityConversation EntityKind = "Conversation"
	EntityMessage      EntityKind = "Message"
)

type RelatedEntity struct {
	Kind EntityKind `json:"entity_type" validate:"oneof=HelpPost Conversation Message"`
	ID   int64      `json:"entity_id" validate:"gt=0"`
}

const (
	MaxNotificationTitle   = 100
	MaxNotificationMessage = 500
)

type Notification struct {
	ID          int64            `json:"id"`
	RecipientID int64            `json:"recipient_id" validate:"gt=0"`
	SenderID    *int64           `json:"sender_id,omitempty"`
	Type        NotificationType `json:"type" validate:"required"`
	Title       string           `json:"title" validate:"notblank,max=100"`
	Message     string           `json:"message" validate:"notblank,max=500"`
	Related     *RelatedEntity   `json:"related_entity,omitempty" validate:"omitempty"`
	Read        bool             `json:"read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Metadata    map[string]any   `json:"metadata"`
}
