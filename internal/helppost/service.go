package helppost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/event"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/validate"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

type Store interface {
	Create(ctx context.Context, p *domain.HelpPost) error
	Get(ctx context.Context, id int64) (*domain.HelpPost, error)
	List(ctx context.Context, f Filter) ([]domain.HelpPost, int, error)
	ListByAuthor(ctx context.Context, authorID int64) ([]domain.HelpPost, error)
	Update(ctx context.Context, p *domain.HelpPost) error
	UpdateStatus(ctx context.Context, id int64, status domain.PostStatus) error
	Delete(ctx context.Context, id int64) error
	AddHelper(ctx context.Context, postID, userID int64, message string) (*domain.Helper, error)
	SetHelperStatus(ctx context.Context, postID, helperID int64, status domain.HelperStatus) error
}

// Broadcaster pushes a frame to every live connection. Hub implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload interface{}) error
}

type Service struct {
	store  Store
	events event.Publisher
	feed   Broadcaster
	log    *zap.Logger
}

func NewService(store Store, events event.Publisher, feed Broadcaster, log *zap.Logger) *Service {
	return &Service{store: store, events: events, feed: feed, log: log.Named("helppost-service")}
}

func (r *PostRequest) normalize() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Category = strings.TrimSpace(r.Category)
	r.Location = strings.TrimSpace(r.Location)
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !lo.Contains(domain.Categories, r.Category) {
		return fmt.Errorf("%w: unknown category %q", apperr.ErrValidation, r.Category)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, author domain.UserRef, req PostRequest) (*domain.HelpPost, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	post := &domain.HelpPost{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		NeededBy:    req.NeededBy,
		Author:      author,
	}
	if err := s.store.Create(ctx, post); err != nil {
		return nil, err
	}
	post, err := s.store.Get(ctx, post.ID)
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, event.HelpPostCreated{Post: *post})
	s.push(ctx, wire.EventNewHelpPost, post)
	return post, nil
}

func (s *Service) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Category != "" && !lo.Contains(domain.Categories, f.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", apperr.ErrValidation, f.Category)
	}
	if f.Status != "" {
		if err := validate.Var(string(f.Status), "oneof=open in-progress completed"); err != nil {
			return nil, err
		}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	f.Limit = min(f.Limit, MaxPageSize)
	if err := validate.Offset(f.Page, f.Limit); err != nil {
		return nil, err
	}

	posts, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Posts:      posts,
		Total:      total,
		Page:       f.Page,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.HelpPost, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Mine(ctx context.Context, userID int64) ([]domain.HelpPost, error) {
	return s.store.ListByAuthor(ctx, userID)
}

// authored loads a post and checks that userID wrote it.
func (s *Service) authored(ctx context.Context, id, userID int64) (*domain.HelpPost, error) {
	post, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Author.ID != userID {
		return nil, fmt.Errorf("help post %d: %w: not the author", id, apperr.ErrForbidden)
	}
	return post, nil
}

func (s *Service) Update(ctx context.Context, userID, id int64, req PostRequest) (*domain.HelpPost, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	post, err := s.authored(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	post.Title, post.Description, post.Category = req.Title, req.Description, req.Category
	post.Location, post.NeededBy = req.Location, req.NeededBy
	if err := s.store.Update(ctx, post); err != nil {
		return nil, err
	}
	return s.changed(ctx, id)
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.authored(ctx, id, userID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.push(ctx, wire.EventDeletedHelpPost, wire.DeletedHelpPost{ID: id})
	return nil
}

// OfferHelp records helper's offer on a post written by someone else.
func (s *Service) OfferHelp(ctx context.Context, helper domain.UserRef, id int64, req OfferRequest) (*domain.HelpPost, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	post, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Author.ID == helper.ID {
		return nil, fmt.Errorf("%w: you cannot offer help on your own post", apperr.ErrValidation)
	}
	if _, ok := post.HelperByUser(helper.ID); ok {
		return nil, errAlreadyOffered
	}

	offer, err := s.store.AddHelper(ctx, id, helper.ID, req.Message)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, errAlreadyOffered
	}
	if err != nil {
		return nil, err
	}

	post, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, event.HelpOffered{Post: *post, Helper: *offer})
	s.push(ctx, wire.EventUpdatedHelpPost, post)
	return post, nil
}

var errAlreadyOffered = fmt.Errorf("%w: you have already offered help for this post", apperr.ErrValidation)

// AcceptHelper accepts one offer. The post moves to in-progress unless it is
// already completed, and the conversation observer opens a thread between
// author and helper.
func (s *Service) AcceptHelper(ctx context.Context, userID, postID, helperID int64) (*domain.HelpPost, error) {
	return s.decide(ctx, userID, postID, helperID, domain.HelperAccepted)
}

func (s *Service) RejectHelper(ctx context.Context, userID, postID, helperID int64) (*domain.HelpPost, error) {
	return s.decide(ctx, userID, postID, helperID, domain.HelperRejected)
}

func (s *Service) decide(ctx context.Context, userID, postID, helperID int64, status domain.HelperStatus) (*domain.HelpPost, error) {
	post, err := s.authored(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := post.Helper(helperID); !ok {
		return nil, fmt.Errorf("helper %d: %w", helperID, apperr.ErrNotFound)
	}
	if err := s.store.SetHelperStatus(ctx, postID, helperID, status); err != nil {
		return nil, err
	}

	post, err = s.store.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	helper, _ := post.Helper(helperID)
	if status == domain.HelperAccepted {
		s.events.Publish(ctx, event.HelpAccepted{Post: *post, Helper: helper})
	} else {
		s.events.Publish(ctx, event.HelpRejected{Post: *post, Helper: helper})
	}
	s.push(ctx, wire.EventUpdatedHelpPost, post)
	return post, nil
}

// UpdateStatus moves a post through open, in-progress and completed. The
// latter two need an accepted helper.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.UserRef, id int64, req StatusRequest) (*domain.HelpPost, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	post, err := s.authored(ctx, id, actor.ID)
	if err != nil {
		return nil, err
	}
	if !post.HasAcceptedHelper() {
		switch req.Status {
		case domain.StatusCompleted:
			return nil, fmt.Errorf("%w: cannot complete post without an accepted helper", apperr.ErrValidation)
		case domain.StatusInProgress:
			return nil, fmt.Errorf("%w: cannot set to in-progress without accepting a helper", apperr.ErrValidation)
		}
	}

	old := post.Status
	if err := s.store.UpdateStatus(ctx, id, req.Status); err != nil {
		return nil, err
	}
	post, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, event.StatusChanged{Post: *post, Actor: actor, OldStatus: old, NewStatus: req.Status})
	s.push(ctx, wire.EventUpdatedHelpPost, post)
	return post, nil
}

// changed reloads an edited post, then announces it.
func (s *Service) changed(ctx context.Context, id int64) (*domain.HelpPost, error) {
	post, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, event.HelpPostUpdated{Post: *post})
	s.push(ctx, wire.EventUpdatedHelpPost, post)
	return post, nil
}

// push sends a feed frame. The write has already succeeded so failures are
// only logged.
func (s *Service) push(ctx context.Context, name string, payload interface{}) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Broadcast(ctx, name, payload); err != nil {
		s.log.Warn("feed push failed", zap.String("event", name), zap.Error(err))
	}
}
