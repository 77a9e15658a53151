package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/event"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/validate"
)

const issuer = "helpboard"

type Store interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)

type Service struct {
	store     Store
	events    event.Publisher
	jwtSecret []byte
	expiry    time.Duration
	log       *zap.Logger
	now       func() time.Time
}

type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(store Store, events event.Publisher, secret string, expiry time.Duration, log *zap.Logger) *Service {
	return &Service{
		store:     store,
		events:    events,
		jwtSecret: []byte(secret),
		expiry:    expiry,
		log:       log.Named("user-service"),
		now:       time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req Credentials) (*AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, &User{Username: req.Username, Password: string(hashed)})
	if errors.Is(err, apperr.ErrConflict) {
		return nil, fmt.Errorf("%w: username already taken", apperr.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.Int64("user_id", u.ID))

	if s.events != nil {
		s.events.Publish(ctx, event.System{
			RecipientID: u.ID,
			Text:        fmt.Sprintf("Welcome to the help board, %s!", u.Username),
			Severity:    event.SeverityInfo,
		})
	}
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, req Credentials) (*AuthResponse, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*AuthResponse, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &AuthResponse{AccessToken: signed, ID: u.ID, Username: u.Username}, nil
}

// ValidateToken checks signature, algorithm and expiry, and returns the
// identity the token was issued to.
func (s *Service) ValidateToken(tokenString string) (int64, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if !token.Valid || claims.ID <= 0 {
		return 0, "", fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}
	return claims.ID, claims.Username, nil
}

func (s *Service) Me(ctx context.Context, id int64) (*User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []User{}, nil
	}
	return s.store.SearchUsers(ctx, query)
}
