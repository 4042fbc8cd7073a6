package user

import (
	"errors"
	"time"

	"github.com/taskhubdev/taskhub/internal/identity"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailTaken  = errors.New("email already in use")
	ErrAdminTarget = errors.New("admin accounts cannot be blocked")
	ErrBlocked     = errors.New("account is blocked")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	IsBlocked    bool      `json:"isBlocked"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicView is the representation handed to clients and the admin listing.
type PublicView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsBlocked bool      `json:"isBlocked"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the authorization view used for token issuance.
func (u User) Identity() identity.Identity {
	return identity.Identity{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
	}
}

func (u User) Public() PublicView {
	return PublicView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		IsBlocked: u.IsBlocked,
		CreatedAt: u.CreatedAt,
	}
}
