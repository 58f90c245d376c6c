// Package usersvc is the user service: profile reads and updates over the
// shared account store.
package usersvc

import (
	"context"
	"time"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/domain/user"
	"github.com/example/ec-platform/internal/principal"
)

// Accounts is the persistence surface shared with the auth service.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	Update(ctx context.Context, u *user.User) error
}

type Service struct {
	accounts Accounts
}

func NewService(accounts Accounts) *Service {
	return &Service{accounts: accounts}
}

func (s *Service) Get(ctx context.Context, id string) (*user.User, error) {
	return s.accounts.GetByID(ctx, id)
}

// UpdateRequest carries partial profile updates; nil fields keep their
// current value.
type UpdateRequest struct {
	Name     *string `json:"name"`
	Password *string `json:"password"`
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*user.User, error) {
	u, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = time.Now()
	if err := s.accounts.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetActive toggles an account; deactivated accounts cannot log in or
// refresh tokens.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*user.User, error) {
	u, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Active = active
	u.UpdatedAt = time.Now()
	if err := s.accounts.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetRole promotes or demotes an account.
func (s *Service) SetRole(ctx context.Context, id string, role principal.Role) (*user.User, error) {
	u, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Role = role
	u.UpdatedAt = time.Now()
	if err := s.accounts.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
