package auth

import (
	"errors"
	"time"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginLocked        = errors.New("too many failed login attempts")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrAdminNotFound      = errors.New("admin not found")
)

// AdminProfile is the durable identity record of an administrative user.
// Credential material (password / pin hashes) deliberately lives on the
// package-private adminRecord and never leaves this package.
type AdminProfile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Permissions []string   `json:"permissions"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// HasPermission reports whether the admin holds the given capability;
// super admins hold every permission regardless of the stored set
func (p *AdminProfile) HasPermission(permission string) bool {
	if p.Role == RoleSuperAdmin {
		return true
	}
	for _, perm := range p.Permissions {
		if perm == permission {
			return true
		}
	}
	return false
}

type adminRecord struct {
	AdminProfile
	PasswordHash string
	PinHash      string
}

type Credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// Session is returned on successful sign-in
type Session struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *AdminProfile `json:"user"`
}
