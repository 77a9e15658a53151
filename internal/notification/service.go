package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/validate"
)

// Store is the persistence the service needs. Repository implements it.
type Store interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id int64) (*domain.Notification, error)
	ListForRecipient(ctx context.Context, userID int64, page, pageSize int, typ domain.NotificationType) (*Page, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkOneRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
	DeleteAllForRecipient(ctx context.Context, userID int64) (int64, error)
	Stats(ctx context.Context, userID int64) (*Stats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create validates n and stores it. The observers write through here so a
// malformed notification never reaches the table.
func (s *Service) Create(ctx context.Context, n *domain.Notification) error {
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)
	if err := validate.Struct(n); err != nil {
		return err
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown notification type %q", apperr.ErrValidation, n.Type)
	}
	if n.Type != domain.NotificationSystem && n.SenderID == nil {
		return fmt.Errorf("%w: sender is required for %s notifications", apperr.ErrValidation, n.Type)
	}
	return s.store.Create(ctx, n)
}

func (s *Service) List(ctx context.Context, userID int64, page, pageSize int, typ domain.NotificationType) (*Page, error) {
	if typ != "" && !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", apperr.ErrValidation, typ)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if err := validate.Offset(page, pageSize); err != nil {
		return nil, err
	}
	return s.store.ListForRecipient(ctx, userID, page, pageSize, typ)
}

func (s *Service) Recent(ctx context.Context, userID int64) ([]domain.Notification, error) {
	page, err := s.store.ListForRecipient(ctx, userID, 1, RecentLimit, "")
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *Service) Stats(ctx context.Context, userID int64) (*Stats, error) {
	return s.store.Stats(ctx, userID)
}

// owned loads a notification and confirms it belongs to userID.
func (s *Service) owned(ctx context.Context, id, userID int64) (*domain.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != userID {
		return nil, fmt.Errorf("notification %d: %w", id, apperr.ErrForbidden)
	}
	return n, nil
}

func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.store.MarkOneRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) DeleteAll(ctx context.Context, userID int64) (int64, error) {
	return s.store.DeleteAllForRecipient(ctx, userID)
}
