// Package user holds the account entity shared by the auth and user
// services.
package user

import (
	"errors"
	"time"

	"github.com/example/ec-platform/internal/principal"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("an account with this email already exists")
	ErrDeactivated    = errors.New("account is deactivated")
)

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Role         principal.Role `json:"role"`
	PasswordHash string         `json:"-"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Principal converts the account into the identity checked by
// authorization predicates.
func (u *User) Principal() principal.Principal {
	return principal.EndUser(u.ID, u.Role)
}
