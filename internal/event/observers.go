package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

// NotificationWriter persists one notification and fills in its id.
type NotificationWriter interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// Pusher delivers a realtime event to a user's personal room.
type Pusher interface {
	EmitToUser(ctx context.Context, userID int64, event string, payload interface{}) error
}

// ConversationOpener is the slice of the chat store the conversation observer needs.
type ConversationOpener interface {
	FindOrCreateConversation(ctx context.Context, helpPostID int64, participantIDs []int64) (*domain.Conversation, error)
}

// deliver writes the notification and, only if that succeeded, pushes the
// realtime payload built from the stored record. A failed push is logged and
// swallowed: the record is already durable and the client recovers by polling.
func deliver(ctx context.Context, log *zap.Logger, notes NotificationWriter, push Pusher,
	n *domain.Notification, eventName string, payload func(id int64) interface{}) error {
	if err := notes.Create(ctx, n); err != nil {
		return fmt.Errorf("notify user %d: %w", n.RecipientID, err)
	}
	if err := push.EmitToUser(ctx, n.RecipientID, eventName, payload(n.ID)); err != nil {
		log.Warn("push failed",
			zap.Int64("recipient", n.RecipientID),
			zap.String("event", eventName),
			zap.Error(err))
	}
	return nil
}

type MessageObserver struct {
	notes NotificationWriter
	push  Pusher
	log   *zap.Logger
}

func NewMessageObserver(notes NotificationWriter, push Pusher, log *zap.Logger) *MessageObserver {
	return &MessageObserver{notes: notes, push: push, log: log.Named("message-observer")}
}

func (o *MessageObserver) Name() string { return "message" }

func (o *MessageObserver) Notify(ctx context.Context, ev Event) error {
	e, ok := ev.(NewMessage)
	if !ok {
		return nil
	}
	msg, conv := e.Message, e.Conversation
	sender := msg.SenderID

	var errs []error
	for _, recipient := range lo.Without(lo.Uniq(conv.ParticipantIDs()), sender) {
		n := &domain.Notification{
			RecipientID: recipient,
			SenderID:    &sender,
			Type:        domain.NotificationNewMessage,
			Title:       "New Message",
			Message:     fmt.Sprintf("New message from %s: %s", msg.SenderUsername, preview(msg.Content, 50)),
			Related:     &domain.RelatedEntity{Kind: domain.EntityConversation, ID: conv.ID},
			Metadata:    map[string]any{"message_id": msg.ID},
		}
		err := deliver(ctx, o.log, o.notes, o.push, n, wire.EventNewMessageNotification, func(id int64) interface{} {
			return wire.MessageNotification{
				NotificationID: id,
				Message:        msg,
				Conversation:   wire.ConversationSummary{ID: conv.ID, HelpPostID: conv.HelpPostID},
			}
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type HelpPostObserver struct {
	notes NotificationWriter
	push  Pusher
	log   *zap.Logger
}

func NewHelpPostObserver(notes NotificationWriter, push Pusher, log *zap.Logger) *HelpPostObserver {
	return &HelpPostObserver{notes: notes, push: push, log: log.Named("helppost-observer")}
}

func (o *HelpPostObserver) Name() string { return "help-post" }

// helpNotice is the per-event part of a help-post notification.
type helpNotice struct {
	post       domain.HelpPost
	kind       domain.NotificationType
	sender     int64
	recipients []int64
	title      string
	message    string
}

// Recipients returns who should hear about ev. Post creation and edits reach
// nobody individually; they only go out on the public feed.
func Recipients(ev Event) []int64 {
	n, ok := noticeFor(ev)
	if !ok {
		return nil
	}
	return n.recipients
}

func noticeFor(ev Event) (helpNotice, bool) {
	switch e := ev.(type) {
	case HelpPostCreated:
		return helpNotice{post: e.Post, kind: domain.NotificationHelpPostCreated}, true
	case HelpPostUpdated:
		return helpNotice{post: e.Post, kind: domain.NotificationHelpPostUpdated}, true
	case HelpOffered:
		return helpNotice{
			post:       e.Post,
			kind:       domain.NotificationHelpOffered,
			sender:     e.Helper.User.ID,
			recipients: []int64{e.Post.Author.ID},
			title:      "Help Offer Received",
			message:    fmt.Sprintf("%s offered help on your post: %s", e.Helper.User.Username, e.Post.Title),
		}, true
	case HelpAccepted:
		return helpNotice{
			post:       e.Post,
			kind:       domain.NotificationHelpAccepted,
			sender:     e.Post.Author.ID,
			recipients: []int64{e.Helper.User.ID},
			title:      "Help Offer Accepted",
			message:    fmt.Sprintf("Your help offer was accepted for: %s", e.Post.Title),
		}, true
	case HelpRejected:
		return helpNotice{
			post:       e.Post,
			kind:       domain.NotificationHelpRejected,
			sender:     e.Post.Author.ID,
			recipients: []int64{e.Helper.User.ID},
			title:      "Help Offer Rejected",
			message:    fmt.Sprintf("Your help offer was rejected for: %s", e.Post.Title),
		}, true
	case StatusChanged:
		return helpNotice{
			post:       e.Post,
			kind:       domain.NotificationStatusChanged,
			sender:     e.Actor.ID,
			recipients: lo.Uniq(append([]int64{e.Post.Author.ID}, e.Post.ActiveHelperIDs()...)),
			title:      "Status Updated",
			message:    fmt.Sprintf("Help request status changed: %s is now %s", e.Post.Title, e.NewStatus),
		}, true
	}
	return helpNotice{}, false
}

func (o *HelpPostObserver) Notify(ctx context.Context, ev Event) error {
	notice, ok := noticeFor(ev)
	if !ok || len(notice.recipients) == 0 {
		return nil
	}

	var errs []error
	for _, recipient := range notice.recipients {
		sender := notice.sender
		n := &domain.Notification{
			RecipientID: recipient,
			SenderID:    &sender,
			Type:        notice.kind,
			Title:       notice.title,
			Message:     preview(notice.message, domain.MaxNotificationMessage),
			Related:     &domain.RelatedEntity{Kind: domain.EntityHelpPost, ID: notice.post.ID},
			Metadata:    map[string]any{"post_status": string(notice.post.Status)},
		}
		err := deliver(ctx, o.log, o.notes, o.push, n, wire.EventHelpPostNotification, func(id int64) interface{} {
			return wire.HelpPostNotification{
				NotificationID: id,
				Type:           notice.kind,
				Message:        n.Message,
				HelpPost: wire.PostSummary{
					ID:     notice.post.ID,
					Title:  notice.post.Title,
					Status: notice.post.Status,
				},
				Timestamp: time.Now().UTC(),
			}
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type SystemObserver struct {
	notes NotificationWriter
	push  Pusher
	log   *zap.Logger
}

func NewSystemObserver(notes NotificationWriter, push Pusher, log *zap.Logger) *SystemObserver {
	return &SystemObserver{notes: notes, push: push, log: log.Named("system-observer")}
}

func (o *SystemObserver) Name() string { return "system" }

func (o *SystemObserver) Notify(ctx context.Context, ev Event) error {
	e, ok := ev.(System)
	if !ok || e.RecipientID == 0 || e.Text == "" {
		return nil
	}
	severity := e.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	n := &domain.Notification{
		RecipientID: e.RecipientID,
		Type:        domain.NotificationSystem,
		Title:       "System Notification",
		Message:     preview(e.Text, domain.MaxNotificationMessage),
		Metadata:    map[string]any{"severity": string(severity)},
	}
	return deliver(ctx, o.log, o.notes, o.push, n, wire.EventSystemNotification, func(id int64) interface{} {
		return wire.SystemNotification{
			NotificationID: id,
			Type:           string(severity),
			Message:        n.Message,
			Timestamp:      time.Now().UTC(),
		}
	})
}

// ConversationObserver opens the author/helper thread once an offer is accepted.
type ConversationObserver struct {
	chats ConversationOpener
}

func NewConversationObserver(chats ConversationOpener) *ConversationObserver {
	return &ConversationObserver{chats: chats}
}

func (o *ConversationObserver) Name() string { return "conversation" }

func (o *ConversationObserver) Notify(ctx context.Context, ev Event) error {
	e, ok := ev.(HelpAccepted)
	if !ok {
		return nil
	}
	participants := []int64{e.Post.Author.ID, e.Helper.User.ID}
	if _, err := o.chats.FindOrCreateConversation(ctx, e.Post.ID, participants); err != nil {
		return fmt.Errorf("open conversation for post %d: %w", e.Post.ID, err)
	}
	return nil
}

// preview shortens s to at most n runes, marking the cut with "...".
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
