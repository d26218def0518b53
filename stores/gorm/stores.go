//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	ta "github.com/panyam/tokenauth"
)

// Supported drivers for Open
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects with the named driver. Error translation is enabled so
// unique violations surface as gorm.ErrDuplicatedKey.
func Open(driver, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	cfg.TranslateError = true
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// AutoMigrate runs database migrations for all tokenauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AuthTokenModel{},
	)
}

// Store implements tokenauth.UserStore and tokenauth.TokenStore using GORM
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// =============================================================================
// UserStore
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *ta.User) error {
	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.Email = ta.NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(UserToModel(u)).Error; err != nil {
		u.ID = ""
		if isDuplicate(err) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) first(ctx context.Context, query string, args ...any) (*ta.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ta.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*ta.User, error) {
	if id == "" {
		return nil, ta.ErrUserNotFound
	}
	return s.first(ctx, "id = ?", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ta.User, error) {
	email = ta.NormalizeEmail(email)
	if email == "" {
		return nil, ta.ErrUserNotFound
	}
	return s.first(ctx, "email = ?", email)
}

func (s *Store) FindUserByServiceOrEmail(ctx context.Context, service, externalID, email string) (*ta.User, error) {
	if externalID != "" {
		var column string
		switch service {
		case ta.ServiceFacebook:
			column = "facebook_id"
		case ta.ServiceGoogle:
			column = "google_id"
		}
		if column != "" {
			u, err := s.first(ctx, column+" = ?", externalID)
			if err == nil || !errors.Is(err, ta.ErrUserNotFound) {
				return u, err
			}
		}
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *Store) SaveUser(ctx context.Context, u *ta.User) error {
	u.Email = ta.NormalizeEmail(u.Email)
	u.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserModel
		if err := tx.First(&existing, "id = ?", u.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ta.ErrUserNotFound
			}
			return err
		}
		u.CreatedAt = existing.CreatedAt
		return tx.Save(UserToModel(u)).Error
	})
	if err != nil {
		var ae *ta.AuthError
		if errors.As(err, &ae) {
			return ae
		}
		if isDuplicate(err) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, opts ta.ListOptions) ([]*ta.User, error) {
	opts = opts.Normalized()
	q := s.db.WithContext(ctx).Model(&UserModel{})
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}
	if opts.Email != "" {
		q = q.Where("email = ?", opts.Email)
	}
	if opts.Role != "" {
		q = q.Where("role = ?", string(opts.Role))
	}
	var models []UserModel
	if err := q.Order("created_at DESC").Offset(opts.Offset()).Limit(opts.PerPage).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*ta.User, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToUser())
	}
	return out, nil
}

// =============================================================================
// TokenStore
// =============================================================================

func (s *Store) SaveToken(ctx context.Context, t *ta.AuthToken) error {
	if err := s.db.WithContext(ctx).Create(AuthTokenToModel(t)).Error; err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// ConsumeToken selects then deletes inside a transaction. Only the caller
// whose DELETE affects the row wins; a concurrent loser sees zero rows.
func (s *Store) ConsumeToken(ctx context.Context, tokenType ta.TokenType, email, token string) (*ta.AuthToken, error) {
	email = ta.NormalizeEmail(email)
	var model AuthTokenModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("token = ? AND type = ? AND email = ?", token, tokenType, email).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ta.ErrTokenNotFound
			}
			return err
		}
		res := tx.Where("token = ? AND type = ?", token, tokenType).Delete(&AuthTokenModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ta.ErrTokenNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ta.ErrTokenNotFound) {
			return nil, ta.ErrTokenNotFound
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return model.ToAuthToken(), nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string, tokenType ta.TokenType) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, tokenType).
		Delete(&AuthTokenModel{}).Error
}

func (s *Store) CleanupExpiredTokens(ctx context.Context, cutoff time.Time) error {
	return s.db.WithContext(ctx).
		Where("expires_at <= ?", cutoff).
		Delete(&AuthTokenModel{}).Error
}
