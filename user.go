package tokenauth

import (
	"strings"
	"time"
)

// Role is the single authorization attribute carried by a user
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AllRoles lists every role known to the system
var AllRoles = []Role{RoleUser, RoleAdmin}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Supported external identity providers
const (
	ServiceFacebook = "facebook"
	ServiceGoogle   = "google"
)

// Services holds the external provider ids linked to an account
type Services struct {
	Facebook string `json:"facebook,omitempty"`
	Google   string `json:"google,omitempty"`
}

// Get returns the linked id for the given service, or "" when not linked
func (s Services) Get(service string) string {
	switch service {
	case ServiceFacebook:
		return s.Facebook
	case ServiceGoogle:
		return s.Google
	}
	return ""
}

// Set links the external id for the given service. Unknown services are ignored.
func (s *Services) Set(service, id string) bool {
	switch service {
	case ServiceFacebook:
		s.Facebook = id
	case ServiceGoogle:
		s.Google = id
	default:
		return false
	}
	return true
}

// User is a registered account.
// PasswordHash is always a bcrypt digest; it is never serialized to clients.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Picture      string    `json:"picture,omitempty"`
	Role         Role      `json:"role"`
	Services     Services  `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"-"`
}

// PublicUser is the client-visible view of a User
type PublicUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Picture   string    `json:"picture,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transform returns the public projection of the user
func (u *User) Transform() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Picture:   u.Picture,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// NormalizeEmail trims and lowercases an email address.
// All stores key users by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
