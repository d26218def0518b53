package tokenauth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailRegex = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Field limits
const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
	MaxNameLength     = 128
)

// RegisterRequest is the body of POST /auth/register.
// Role is accepted on the wire but always ignored.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
}

// SendPasswordResetRequest is the body of POST /auth/send-password-reset
type SendPasswordResetRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password
type ResetPasswordRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	ResetToken string `json:"resetToken"`
}

// OAuthRequest is the body of POST /auth/{facebook,google}
type OAuthRequest struct {
	AccessToken string `json:"access_token"`
}

// UserUpdate carries the mutable user fields for PATCH /users/{userId}.
// Nil fields are left unchanged.
type UserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Name     *string `json:"name,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}

// ValidateEmail checks the email is present and well formed
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError("email", "email is required")
	}
	if !emailRegex.MatchString(email) {
		return ValidationError("email", "invalid email format")
	}
	return nil
}

// ValidateNewPassword applies the rules for passwords that will be stored
func ValidateNewPassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return ValidationError("password", "password must be at least 6 characters")
	}
	if n > MaxPasswordLength {
		return ValidationError("password", "password must be at most 128 characters")
	}
	if len(password) > MaxPasswordBytes {
		return ValidationError("password", "password must be at most 72 bytes")
	}
	return nil
}

// ValidateName checks the optional display name length
func ValidateName(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) > MaxNameLength {
		return ValidationError("name", "name must be at most 128 characters")
	}
	return nil
}

func (r *RegisterRequest) Validate() error {
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := ValidateNewPassword(r.Password); err != nil {
		return err
	}
	return ValidateName(r.Name)
}

func (r *LoginRequest) Validate() error {
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return ValidationError("password", "password is required")
	}
	if utf8.RuneCountInString(r.Password) > MaxPasswordLength {
		return ValidationError("password", "password must be at most 128 characters")
	}
	return nil
}

func (r *RefreshRequest) Validate() error {
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if r.RefreshToken == "" {
		return ValidationError("refreshToken", "refreshToken is required")
	}
	return nil
}

func (r *SendPasswordResetRequest) Validate() error {
	return ValidateEmail(r.Email)
}

func (r *ResetPasswordRequest) Validate() error {
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := ValidateNewPassword(r.Password); err != nil {
		return err
	}
	if r.ResetToken == "" {
		return ValidationError("resetToken", "resetToken is required")
	}
	return nil
}

func (r *OAuthRequest) Validate() error {
	if strings.TrimSpace(r.AccessToken) == "" {
		return ValidationError("access_token", "access_token is required")
	}
	return nil
}

func (u *UserUpdate) Validate() error {
	if u.Email != nil {
		if err := ValidateEmail(*u.Email); err != nil {
			return err
		}
	}
	if u.Password != nil {
		if err := ValidateNewPassword(*u.Password); err != nil {
			return err
		}
	}
	if u.Name != nil {
		if err := ValidateName(*u.Name); err != nil {
			return err
		}
	}
	if u.Role != nil && !u.Role.Valid() {
		return ValidationError("role", "unknown role")
	}
	return nil
}
