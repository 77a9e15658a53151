// Package wire defines the websocket frame format shared by the server hub and
// the Go client.
package wire

import (
	"encoding/json"
	"time"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

// Client -> server events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventMarkAsRead        = "mark_as_read"
)

// Server -> client events.
const (
	EventNewMessage             = "new_message"
	EventMessagesRead           = "messages_read"
	EventNewMessageNotification = "new_message_notification"
	EventHelpPostNotification   = "help_post_notification"
	EventSystemNotification     = "system_notification"
	EventMessageError           = "message_error"
	EventNewHelpPost            = "new_help_post"
	EventUpdatedHelpPost        = "updated_help_post"
	EventDeletedHelpPost        = "deleted_help_post"
)

// Frame is the envelope of every websocket text message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

type SendMessage struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
	SenderID       int64  `json:"senderId,omitempty"`
}

type MarkAsRead struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId,omitempty"`
}

type MessagesRead struct {
	UserID         int64 `json:"userId"`
	ConversationID int64 `json:"conversationId"`
}

type ConversationSummary struct {
	ID         int64 `json:"id"`
	HelpPostID int64 `json:"helpPostId"`
}

// MessageNotification is pushed to a participant's personal room. The
// notification id is set when the stored record exists.
type MessageNotification struct {
	NotificationID int64               `json:"notificationId,omitempty"`
	Message        domain.Message      `json:"message"`
	Conversation   ConversationSummary `json:"conversation"`
}

type PostSummary struct {
	ID     int64             `json:"id"`
	Title  string            `json:"title"`
	Status domain.PostStatus `json:"status"`
}

type HelpPostNotification struct {
	NotificationID int64                   `json:"notificationId,omitempty"`
	Type           domain.NotificationType `json:"type"`
	Message        string                  `json:"message"`
	HelpPost       PostSummary             `json:"helpPost"`
	Timestamp      time.Time               `json:"timestamp"`
}

type SystemNotification struct {
	NotificationID int64     `json:"notificationId,omitempty"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessageError struct {
	Error string `json:"error"`
}

type DeletedHelpPost struct {
	ID int64 `json:"id"`
}
