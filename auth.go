package tokenauth

import (
	"context"
	"errors"
	"log/slog"
)

// AuthResult is returned by register, login and oauth login
type AuthResult struct {
	Token *TokenBundle `json:"token"`
	User  PublicUser   `json:"user"`
}

// AuthService implements the authentication flows
type AuthService struct {
	Credentials *CredentialStore
	Issuer      *TokenIssuer
	Notifier    Notifier
	Logger      *slog.Logger

	// HideUnknownResetEmails makes SendPasswordReset succeed for unknown emails
	HideUnknownResetEmails bool
}

// NewAuthService wires the service from configuration
func NewAuthService(cfg *Config, creds *CredentialStore, issuer *TokenIssuer, notifier Notifier) *AuthService {
	return &AuthService{
		Credentials:            creds,
		Issuer:                 issuer,
		Notifier:               notifier,
		HideUnknownResetEmails: cfg.HideUnknownResetEmails,
	}
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *AuthService) result(ctx context.Context, u *User) (*AuthResult, error) {
	bundle, err := s.Issuer.IssueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: bundle, User: u.Transform()}, nil
}

// Register creates a user with role "user" and logs them in.
// Any role sent by the client is ignored.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	u, err := s.Credentials.Create(ctx, req.Email, req.Password, req.Name, RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger().InfoContext(ctx, "user registered", "user_id", u.ID)
	return s.result(ctx, u)
}

// Login checks email and password. Unknown email and wrong password fail
// with the same ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	u, err := s.Credentials.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// same bcrypt cost as a wrong password
			s.Credentials.VerifyPassword(nil, req.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.Credentials.VerifyPassword(u, req.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.result(ctx, u)
}

// OAuthLogin links or creates the account for a resolved provider profile
// and logs it in
func (s *AuthService) OAuthLogin(ctx context.Context, profile OAuthProfile) (*AuthResult, error) {
	u, err := s.Credentials.UpsertOAuthLink(ctx, profile)
	if err != nil {
		return nil, err
	}
	return s.result(ctx, u)
}

// LoginUser issues tokens for an already authenticated user
func (s *AuthService) LoginUser(ctx context.Context, u *User) (*AuthResult, error) {
	return s.result(ctx, u)
}

// Refresh consumes a refresh token and returns a new token bundle.
// A token is usable exactly once; the consumed token is gone even if it
// turns out to be expired.
func (s *AuthService) Refresh(ctx context.Context, req RefreshRequest) (*TokenBundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(req.Email)
	t, err := s.Issuer.Tokens.ConsumeToken(ctx, TokenTypeRefresh, email, req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if t.IsExpiredAt(s.Issuer.Now()) {
		return nil, ErrInvalidToken
	}
	u, err := s.Credentials.FindByID(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return s.Issuer.IssueTokens(ctx, u)
}

// SendPasswordReset issues a reset token for the account and hands it to
// the notifier
func (s *AuthService) SendPasswordReset(ctx context.Context, req SendPasswordResetRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	u, err := s.Credentials.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			if s.HideUnknownResetEmails {
				return nil
			}
			return ErrUserNotFound.Wrap(errors.New("no account found with that email"))
		}
		return err
	}
	t, err := s.Issuer.IssueResetToken(ctx, u)
	if err != nil {
		return err
	}
	if s.Notifier != nil {
		if err := s.Notifier.SendPasswordReset(ctx, u, t); err != nil {
			s.logger().WarnContext(ctx, "failed to send password reset", "user_id", u.ID, "error", err)
		}
	}
	return nil
}

// ResetPassword consumes a reset token and sets the new password.
// An expired token is deleted and reported as ErrExpiredToken; presenting it
// again yields ErrInvalidToken.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	email := NormalizeEmail(req.Email)
	t, err := s.Issuer.Tokens.ConsumeToken(ctx, TokenTypePasswordReset, email, req.ResetToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if t.IsExpiredAt(s.Issuer.Now()) {
		return ErrExpiredToken
	}
	u, err := s.Credentials.FindByEmail(ctx, t.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if err := s.Credentials.ChangePassword(ctx, u, req.Password); err != nil {
		return err
	}
	if err := s.Issuer.Tokens.DeleteUserTokens(ctx, u.ID, TokenTypePasswordReset); err != nil {
		s.logger().WarnContext(ctx, "failed to purge reset tokens", "user_id", u.ID, "error", err)
	}
	if s.Notifier != nil {
		if err := s.Notifier.SendPasswordChanged(ctx, u); err != nil {
			s.logger().WarnContext(ctx, "failed to send password changed", "user_id", u.ID, "error", err)
		}
	}
	return nil
}
