// Package storetest holds the behaviour every tokenauth backend must share.
// Backend packages call Run from their tests with a factory for a fresh,
// empty store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ta "github.com/panyam/tokenauth"
)

// Factory returns a new empty store for one subtest
type Factory func(t *testing.T) ta.Store

// Run executes the conformance suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetUser", func(t *testing.T) { testCreateAndGetUser(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("SaveUser", func(t *testing.T) { testSaveUser(t, newStore(t)) })
	t.Run("FindByServiceOrEmail", func(t *testing.T) { testFindByServiceOrEmail(t, newStore(t)) })
	t.Run("ListUsers", func(t *testing.T) { testListUsers(t, newStore(t)) })
	t.Run("ConsumeToken", func(t *testing.T) { testConsumeToken(t, newStore(t)) })
	t.Run("ConsumeTokenConcurrent", func(t *testing.T) { testConsumeTokenConcurrent(t, newStore(t)) })
	t.Run("DeleteUserTokens", func(t *testing.T) { testDeleteUserTokens(t, newStore(t)) })
	t.Run("CleanupExpiredTokens", func(t *testing.T) { testCleanupExpiredTokens(t, newStore(t)) })
	t.Run("CleanupKeepsRecentlyExpired", func(t *testing.T) { testCleanupKeepsRecentlyExpired(t, newStore(t)) })
}

func newUser(email string) *ta.User {
	return &ta.User{
		Email:        email,
		PasswordHash: "$2a$04$notarealhashnotarealhashnotarealhashnotarealhashnotar",
		Name:         "Test User",
		Role:         ta.RoleUser,
	}
}

func newToken(u *ta.User, tokenType ta.TokenType, expiresAt time.Time) *ta.AuthToken {
	return &ta.AuthToken{
		Token:     ta.NewOpaqueToken(u.ID),
		Type:      tokenType,
		UserID:    u.ID,
		Email:     u.Email,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
}

func testCreateAndGetUser(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("Alice@Example.com ")
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Equal(t, "alice@example.com", u.Email)

	byID, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, byID.Email)
	assert.Equal(t, u.PasswordHash, byID.PasswordHash)
	assert.Equal(t, ta.RoleUser, byID.Role)

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ta.ErrUserNotFound)
	_, err = s.GetUserByID(ctx, "missing-id")
	assert.ErrorIs(t, err, ta.ErrUserNotFound)
}

func testDuplicateEmail(t *testing.T, s ta.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, newUser("dup@example.com")))
	err := s.CreateUser(ctx, newUser("DUP@example.com"))
	assert.ErrorIs(t, err, ta.ErrDuplicateEmail)
}

func testSaveUser(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("save@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	other := newUser("taken@example.com")
	require.NoError(t, s.CreateUser(ctx, other))

	u.Name = "Renamed"
	u.Services.Set(ta.ServiceGoogle, "g-123")
	require.NoError(t, s.SaveUser(ctx, u))

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "g-123", got.Services.Google)

	u.Email = "taken@example.com"
	assert.ErrorIs(t, s.SaveUser(ctx, u), ta.ErrDuplicateEmail)

	u.Email = "moved@example.com"
	require.NoError(t, s.SaveUser(ctx, u))
	got, err = s.GetUserByEmail(ctx, "moved@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func testFindByServiceOrEmail(t *testing.T, s ta.Store) {
	ctx := context.Background()
	linked := newUser("linked@example.com")
	linked.Services.Set(ta.ServiceFacebook, "fb-1")
	require.NoError(t, s.CreateUser(ctx, linked))
	plain := newUser("plain@example.com")
	require.NoError(t, s.CreateUser(ctx, plain))

	got, err := s.FindUserByServiceOrEmail(ctx, ta.ServiceFacebook, "fb-1", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, linked.ID, got.ID)

	got, err = s.FindUserByServiceOrEmail(ctx, ta.ServiceFacebook, "fb-unknown", "plain@example.com")
	require.NoError(t, err)
	assert.Equal(t, plain.ID, got.ID)

	_, err = s.FindUserByServiceOrEmail(ctx, ta.ServiceGoogle, "fb-1", "none@example.com")
	assert.ErrorIs(t, err, ta.ErrUserNotFound)
}

func testListUsers(t *testing.T, s ta.Store) {
	ctx := context.Background()
	var ids []string
	for i := range 5 {
		u := newUser(fmt.Sprintf("list%d@example.com", i))
		if i == 4 {
			u.Role = ta.RoleAdmin
		}
		require.NoError(t, s.CreateUser(ctx, u))
		ids = append(ids, u.ID)
		// keep creation times distinct for backends with coarse clocks
		time.Sleep(5 * time.Millisecond)
	}

	page, err := s.ListUsers(ctx, ta.ListOptions{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID, "newest first")
	assert.Equal(t, ids[3], page[1].ID)

	page, err = s.ListUsers(ctx, ta.ListOptions{Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	admins, err := s.ListUsers(ctx, ta.ListOptions{Role: ta.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, ids[4], admins[0].ID)

	byEmail, err := s.ListUsers(ctx, ta.ListOptions{Email: "LIST2@example.com"})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, ids[2], byEmail[0].ID)
}

func testConsumeToken(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("tok@example.com")
	require.NoError(t, s.CreateUser(ctx, u))

	tok := newToken(u, ta.TokenTypeRefresh, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveToken(ctx, tok))

	_, err := s.ConsumeToken(ctx, ta.TokenTypeRefresh, "someone@example.com", tok.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound, "email must match")
	_, err = s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, tok.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound, "type must match")

	got, err := s.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, u.Email, got.Email)

	_, err = s.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, tok.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound, "second consume must fail")

	expired := newToken(u, ta.TokenTypePasswordReset, time.Now().Add(-time.Minute))
	require.NoError(t, s.SaveToken(ctx, expired))
	got, err = s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, expired.Token)
	require.NoError(t, err, "expired tokens are still consumed")
	assert.True(t, got.IsExpiredAt(time.Now()))
	_, err = s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, expired.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound)
}

func testConsumeTokenConcurrent(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("race@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	tok := newToken(u, ta.TokenTypeRefresh, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveToken(ctx, tok))

	const workers = 8
	var wins, misses atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, tok.Token)
			if err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, ta.ErrTokenNotFound) {
				misses.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), misses.Load())
}

func testDeleteUserTokens(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("del@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	r1 := newToken(u, ta.TokenTypePasswordReset, time.Now().Add(time.Hour))
	r2 := newToken(u, ta.TokenTypePasswordReset, time.Now().Add(time.Hour))
	keep := newToken(u, ta.TokenTypeRefresh, time.Now().Add(time.Hour))
	for _, tok := range []*ta.AuthToken{r1, r2, keep} {
		require.NoError(t, s.SaveToken(ctx, tok))
	}

	require.NoError(t, s.DeleteUserTokens(ctx, u.ID, ta.TokenTypePasswordReset))

	_, err := s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, r1.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound)
	_, err = s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, r2.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound)
	_, err = s.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, keep.Token)
	assert.NoError(t, err)
}

func testCleanupExpiredTokens(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("cleanup@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	old := newToken(u, ta.TokenTypeRefresh, time.Now().Add(-time.Hour))
	fresh := newToken(u, ta.TokenTypeRefresh, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveToken(ctx, old))
	require.NoError(t, s.SaveToken(ctx, fresh))

	require.NoError(t, s.CleanupExpiredTokens(ctx, time.Now()))

	_, err := s.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, old.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound)
	_, err = s.ConsumeToken(ctx, ta.TokenTypeRefresh, u.Email, fresh.Token)
	assert.NoError(t, err)
}

// A sweep run right after expiry must leave the token findable so the
// caller can still tell expired from unknown.
func testCleanupKeepsRecentlyExpired(t *testing.T, s ta.Store) {
	ctx := context.Background()
	u := newUser("recent@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	now := time.Now()
	recent := newToken(u, ta.TokenTypePasswordReset, now.Add(-time.Second))
	stale := newToken(u, ta.TokenTypePasswordReset, now.Add(-ta.ExpiredTokenRetention-time.Hour))
	require.NoError(t, s.SaveToken(ctx, recent))
	require.NoError(t, s.SaveToken(ctx, stale))

	require.NoError(t, s.CleanupExpiredTokens(ctx, now.Add(-ta.ExpiredTokenRetention)))

	got, err := s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, recent.Token)
	require.NoError(t, err)
	assert.True(t, got.IsExpiredAt(now))
	_, err = s.ConsumeToken(ctx, ta.TokenTypePasswordReset, u.Email, stale.Token)
	assert.ErrorIs(t, err, ta.ErrTokenNotFound)
}
