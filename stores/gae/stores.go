//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	ta "github.com/panyam/tokenauth"
)

// Store implements tokenauth.UserStore and tokenauth.TokenStore using
// Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string
}

// NewStore creates a new Datastore-backed store
func NewStore(client *datastore.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if s.namespace != "" {
		q = q.Namespace(s.namespace)
	}
	return q
}

// consumeAttempts bounds transaction retries when many callers race for one token
const consumeAttempts = 10

func tokenKind(tokenType ta.TokenType) (string, error) {
	switch tokenType {
	case ta.TokenTypeRefresh:
		return KindRefreshToken, nil
	case ta.TokenTypePasswordReset:
		return KindPasswordResetToken, nil
	}
	return "", fmt.Errorf("unknown token type %q", tokenType)
}

// ============================================================================
// UserStore
// ============================================================================

// reserveEmail must run inside tx
func (s *Store) reserveEmail(tx *datastore.Transaction, email, userID string) error {
	key := s.namespacedKey(KindUserEmail, email)
	var existing UserEmailEntity
	err := tx.Get(key, &existing)
	if err == nil {
		return ta.ErrDuplicateEmail
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = tx.Put(key, &UserEmailEntity{UserID: userID})
	return err
}

func (s *Store) CreateUser(ctx context.Context, u *ta.User) error {
	id := uuid.NewString()
	now := time.Now().UTC()
	u.Email = ta.NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now

	key := s.namespacedKey(KindUser, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := s.reserveEmail(tx, u.Email, id); err != nil {
			return err
		}
		_, err := tx.Put(key, UserToEntity(u, key))
		return err
	})
	if err != nil {
		if errors.Is(err, ta.ErrDuplicateEmail) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*ta.User, error) {
	if id == "" {
		return nil, ta.ErrUserNotFound
	}
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ta.ErrUserNotFound
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ta.User, error) {
	email = ta.NormalizeEmail(email)
	if email == "" {
		return nil, ta.ErrUserNotFound
	}
	var ref UserEmailEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUserEmail, email), &ref); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ta.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, ref.UserID)
}

func (s *Store) FindUserByServiceOrEmail(ctx context.Context, service, externalID, email string) (*ta.User, error) {
	if externalID != "" {
		var field string
		switch service {
		case ta.ServiceFacebook:
			field = "facebook_id"
		case ta.ServiceGoogle:
			field = "google_id"
		}
		if field != "" {
			q := s.query(KindUser).FilterField(field, "=", externalID).Limit(1)
			var entities []*UserEntity
			if _, err := s.client.GetAll(ctx, q, &entities); err != nil {
				return nil, err
			}
			if len(entities) > 0 {
				return entities[0].ToUser(), nil
			}
		}
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *Store) SaveUser(ctx context.Context, u *ta.User) error {
	key := s.namespacedKey(KindUser, u.ID)
	u.Email = ta.NormalizeEmail(u.Email)
	u.UpdatedAt = time.Now().UTC()

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ta.ErrUserNotFound
			}
			return err
		}
		if existing.Email != u.Email {
			if err := s.reserveEmail(tx, u.Email, u.ID); err != nil {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindUserEmail, existing.Email)); err != nil {
				return err
			}
		}
		u.CreatedAt = existing.CreatedAt
		_, err := tx.Put(key, UserToEntity(u, key))
		return err
	})
	if err != nil {
		var ae *ta.AuthError
		if errors.As(err, &ae) {
			return ae
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// ListUsers needs composite indexes on (filter field, -created_at) for
// each filter combination used
func (s *Store) ListUsers(ctx context.Context, opts ta.ListOptions) ([]*ta.User, error) {
	opts = opts.Normalized()
	q := s.query(KindUser)
	if opts.Name != "" {
		q = q.FilterField("name", "=", opts.Name)
	}
	if opts.Email != "" {
		q = q.FilterField("email", "=", opts.Email)
	}
	if opts.Role != "" {
		q = q.FilterField("role", "=", string(opts.Role))
	}
	q = q.Order("-created_at").Offset(opts.Offset()).Limit(opts.PerPage)

	out := []*ta.User{}
	it := s.client.Run(ctx, q)
	for {
		var entity UserEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entity.ToUser())
	}
	return out, nil
}

// ============================================================================
// TokenStore
// ============================================================================

func (s *Store) SaveToken(ctx context.Context, t *ta.AuthToken) error {
	kind, err := tokenKind(t.Type)
	if err != nil {
		return err
	}
	key := s.namespacedKey(kind, t.Token)
	if _, err := s.client.Put(ctx, key, AuthTokenToEntity(t, key)); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// ConsumeToken reads and deletes the token in one transaction. Competing
// transactions conflict on the key; the retried loser finds nothing.
func (s *Store) ConsumeToken(ctx context.Context, tokenType ta.TokenType, email, token string) (*ta.AuthToken, error) {
	kind, err := tokenKind(tokenType)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ta.ErrTokenNotFound
	}
	email = ta.NormalizeEmail(email)
	key := s.namespacedKey(kind, token)

	var entity TokenEntity
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ta.ErrTokenNotFound
			}
			return err
		}
		if entity.UserEmail != email {
			return ta.ErrTokenNotFound
		}
		return tx.Delete(key)
	}, datastore.MaxAttempts(consumeAttempts))
	if err != nil {
		if errors.Is(err, ta.ErrTokenNotFound) {
			return nil, ta.ErrTokenNotFound
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	entity.Key = key
	return entity.ToAuthToken(tokenType), nil
}

func (s *Store) deleteMatching(ctx context.Context, q *datastore.Query) error {
	keys, err := s.client.GetAll(ctx, q.KeysOnly(), nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string, tokenType ta.TokenType) error {
	kind, err := tokenKind(tokenType)
	if err != nil {
		return err
	}
	return s.deleteMatching(ctx, s.query(kind).FilterField("user_id", "=", userID))
}

func (s *Store) CleanupExpiredTokens(ctx context.Context, cutoff time.Time) error {
	for _, kind := range []string{KindRefreshToken, KindPasswordResetToken} {
		if err := s.deleteMatching(ctx, s.query(kind).FilterField("expires", "<=", cutoff)); err != nil {
			return fmt.Errorf("cleanup %s: %w", kind, err)
		}
	}
	return nil
}
