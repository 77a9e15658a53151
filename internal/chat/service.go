package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/event"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

// Store is the conversation and message persistence. Repository implements it.
type Store interface {
	FindByPostAndParticipants(ctx context.Context, helpPostID int64, participantIDs []int64) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, helpPostID int64, participantIDs []int64) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID int64) (int64, error)
	GetUserConversations(ctx context.Context, userID int64) ([]domain.Conversation, error)
}

// RoomEmitter pushes a frame to every connection in a room. Hub implements it.
type RoomEmitter interface {
	EmitToRoom(ctx context.Context, room, event string, payload interface{}) error
}

type Service struct {
	store  Store
	events event.Publisher
	rooms  RoomEmitter
	log    *zap.Logger
}

func NewService(store Store, events event.Publisher, rooms RoomEmitter, log *zap.Logger) *Service {
	return &Service{store: store, events: events, rooms: rooms, log: log.Named("chat-service")}
}

// FindOrCreateConversation returns the single conversation for a post and
// participant set, creating it on first use. When two callers race, the loser
// hits the unique index and reads back the winner's row.
func (s *Service) FindOrCreateConversation(ctx context.Context, helpPostID int64, participantIDs []int64) (*domain.Conversation, error) {
	ids := canonical(participantIDs)
	if helpPostID <= 0 || len(ids) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs a help post and two distinct participants", apperr.ErrValidation)
	}

	conv, err := s.store.FindByPostAndParticipants(ctx, helpPostID, ids)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	conv, err = s.store.CreateConversation(ctx, helpPostID, ids)
	if errors.Is(err, apperr.ErrConflict) {
		return s.store.FindByPostAndParticipants(ctx, helpPostID, ids)
	}
	return conv, err
}

// participantConversation loads a conversation the user belongs to. Outsiders
// get ErrNotFound so conversation ids cannot be probed.
func (s *Service) participantConversation(ctx context.Context, conversationID, userID int64) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, apperr.ErrNotFound)
	}
	return conv, nil
}

// CanJoin reports whether userID may subscribe to the conversation's room.
func (s *Service) CanJoin(ctx context.Context, conversationID, userID int64) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation %d: %w", conversationID, apperr.ErrForbidden)
	}
	return nil
}

// SendMessage validates, stores, publishes and then broadcasts. Nothing is
// broadcast unless the append succeeded.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID int64, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", apperr.ErrValidation)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, apperr.ErrForbidden)
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}
	conv.LastMessageID = &msg.ID
	conv.LastMessage = msg
	conv.LastActivity = msg.CreatedAt

	s.events.Publish(ctx, event.NewMessage{Message: *msg, Conversation: *conv})

	if err := s.rooms.EmitToRoom(ctx, ConversationRoom(conversationID), wire.EventNewMessage, msg); err != nil {
		s.log.Warn("broadcast new message failed", zap.Int64("conversation", conversationID), zap.Error(err))
	}
	return msg, nil
}

// MarkRead flags the other side's messages as read for readerID and tells the
// room. Repeating it changes nothing.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	if _, err := s.participantConversation(ctx, conversationID, readerID); err != nil {
		return 0, err
	}
	n, err := s.store.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	payload := wire.MessagesRead{UserID: readerID, ConversationID: conversationID}
	if err := s.rooms.EmitToRoom(ctx, ConversationRoom(conversationID), wire.EventMessagesRead, payload); err != nil {
		s.log.Warn("broadcast read receipt failed", zap.Int64("conversation", conversationID), zap.Error(err))
	}
	return n, nil
}

func (s *Service) GetUserConversations(ctx context.Context, userID int64) ([]domain.Conversation, error) {
	return s.store.GetUserConversations(ctx, userID)
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID int64) (*ConversationDetail, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: conv, Messages: msgs}, nil
}
