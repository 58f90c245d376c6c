// Package authsvc is the auth service: registration, login, and token
// refresh over the shared account store.
package authsvc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/domain/user"
	"github.com/example/ec-platform/internal/principal"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// Accounts is the persistence surface shared with the user service.
type Accounts interface {
	Insert(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
}

type Service struct {
	accounts Accounts
	jwt      *auth.JWTService
}

func NewService(accounts Accounts, jwt *auth.JWTService) *Service {
	return &Service{accounts: accounts, jwt: jwt}
}

// TokenPair is what login, registration, and refresh return.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Register creates a customer account and signs it in.
func (s *Service) Register(ctx context.Context, email, password, name string) (*user.User, *TokenPair, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	u := &user.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         principal.RoleCustomer,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Insert(ctx, u); err != nil {
		return nil, nil, err
	}

	pair, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Login verifies credentials. Lookup and hash failures collapse into one
// error so the response does not reveal which part was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*user.User, *TokenPair, error) {
	u, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !u.Active {
		return nil, nil, user.ErrDeactivated
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. The account is
// re-read so role changes and deactivation take effect at rotation.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	u, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, user.ErrDeactivated
	}
	return s.issueTokens(u)
}

func (s *Service) issueTokens(u *user.User) (*TokenPair, error) {
	access, accessExp, err := s.jwt.GenerateAccessToken(u.ID, u.Email, string(u.Role))
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.jwt.GenerateRefreshToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
