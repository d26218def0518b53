package tokenauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	ta "github.com/panyam/tokenauth"
)

func TestCreateHashesPassword(t *testing.T) {
	env := setupTest(t)
	u, err := env.creds.Create(context.Background(), "hash@example.com", "password123", " Hash ", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if u.PasswordHash == "password123" || u.PasswordHash == "" {
		t.Errorf("password stored in plaintext or missing: %q", u.PasswordHash)
	}
	if u.Role != ta.RoleUser || u.Name != "Hash" {
		t.Errorf("Create() = role %q name %q", u.Role, u.Name)
	}
	if !env.creds.VerifyPassword(u, "password123") || env.creds.VerifyPassword(u, "password124") {
		t.Error("VerifyPassword mismatch")
	}

	_, err = env.creds.Create(context.Background(), "bad-role@example.com", "password123", "", ta.Role("root"))
	assertCode(t, err, ta.ErrValidation)
}

func TestUpsertOAuthLinkByEmail(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	reg := env.register(t, "kim@example.com", "password123")

	u, err := env.creds.UpsertOAuthLink(ctx, ta.OAuthProfile{
		Service: ta.ServiceFacebook,
		ID:      "fb-kim",
		Email:   "KIM@example.com",
		Picture: "https://cdn.example.com/kim.jpg",
	})
	if err != nil {
		t.Fatalf("UpsertOAuthLink() error = %v", err)
	}
	if u.ID != reg.User.ID {
		t.Errorf("linked to %q, want existing account %q", u.ID, reg.User.ID)
	}
	if u.Services.Facebook != "fb-kim" {
		t.Errorf("facebook id = %q, want fb-kim", u.Services.Facebook)
	}
	if u.Picture == "" {
		t.Error("expected picture to be filled from the provider")
	}

	// Linking does not disturb the password
	if _, err := env.svc.Login(ctx, ta.LoginRequest{Email: "kim@example.com", Password: "password123"}); err != nil {
		t.Errorf("password login after link: %v", err)
	}

	stored, _ := env.creds.FindByID(ctx, reg.User.ID)
	if stored.Services.Get(ta.ServiceFacebook) != "fb-kim" {
		t.Error("link was not persisted")
	}
}

func TestUpsertOAuthLinkRequiresEmailForNewAccounts(t *testing.T) {
	env := setupTest(t)
	_, err := env.creds.UpsertOAuthLink(context.Background(), ta.OAuthProfile{
		Service: ta.ServiceGoogle,
		ID:      "g-no-email",
	})
	assertCode(t, err, ta.ErrValidation)
}

func TestUpsertOAuthLinkRejectsUnknownService(t *testing.T) {
	env := setupTest(t)
	_, err := env.creds.UpsertOAuthLink(context.Background(), ta.OAuthProfile{
		Service: "myspace",
		ID:      "tom",
		Email:   "tom@example.com",
	})
	assertCode(t, err, ta.ErrValidation)
}

func TestUpsertOAuthLinkConcurrentCreatesOneAccount(t *testing.T) {
	env := setupTest(t)
	profile := ta.OAuthProfile{Service: ta.ServiceGoogle, ID: "g-race", Email: "race-oauth@example.com"}

	const workers = 6
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := env.creds.UpsertOAuthLink(context.Background(), profile)
			errs[i] = err
			if err == nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d error = %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got user %q, want %q", i, ids[i], ids[0])
		}
	}
	users, err := env.creds.List(context.Background(), ta.ListOptions{Email: profile.Email})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 1 {
		t.Errorf("accounts for email = %d, want 1", len(users))
	}
}

func TestUpdateRoleRequiresAdmin(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	reg := env.register(t, "leo@example.com", "password123")
	admin := env.createAdmin(t, "root@example.com")
	self, _ := env.creds.FindByID(ctx, reg.User.ID)

	role := ta.RoleAdmin
	name := "Leo"
	u, err := env.creds.Update(ctx, self, self, ta.UserUpdate{Role: &role, Name: &name})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if u.Role != ta.RoleUser {
		t.Error("non-admin must not change roles")
	}
	if u.Name != "Leo" {
		t.Errorf("name = %q, want Leo", u.Name)
	}

	target, _ := env.creds.FindByID(ctx, reg.User.ID)
	u, err = env.creds.Update(ctx, admin, target, ta.UserUpdate{Role: &role})
	if err != nil {
		t.Fatalf("admin Update() error = %v", err)
	}
	if u.Role != ta.RoleAdmin {
		t.Error("admin should be able to change roles")
	}
}

func TestUpdatePasswordAndEmail(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	reg := env.register(t, "mia@example.com", "password123")
	env.register(t, "taken@example.com", "password123")
	self, _ := env.creds.FindByID(ctx, reg.User.ID)

	password := "changed-pass"
	if _, err := env.creds.Update(ctx, self, self, ta.UserUpdate{Password: &password}); err != nil {
		t.Fatalf("Update(password) error = %v", err)
	}
	if _, err := env.svc.Login(ctx, ta.LoginRequest{Email: "mia@example.com", Password: "changed-pass"}); err != nil {
		t.Errorf("login with changed password: %v", err)
	}

	self, _ = env.creds.FindByID(ctx, reg.User.ID)
	taken := "taken@example.com"
	_, err := env.creds.Update(ctx, self, self, ta.UserUpdate{Email: &taken})
	if !errors.Is(err, ta.ErrDuplicateEmail) {
		t.Errorf("Update(email) error = %v, want duplicate", err)
	}
}
