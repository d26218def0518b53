package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panyam/tokenauth/client"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "nested", "credentials.json")
	s, err := Open(file)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, file
}

func TestKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000/v1", "http://localhost:8000/v1", false},
		{"http://localhost:8000/v1/", "http://localhost:8000/v1", false},
		{"HTTP://LocalHost:8000//v1/./", "http://localhost:8000/v1", false},
		{"https://auth.example.com/api/v2?x=1#frag", "https://auth.example.com/api/v2", false},
		{"auth.example.com/v1", "https://auth.example.com/v1", false},
		{"https://auth.example.com", "https://auth.example.com", false},
		{"https://auth.example.com/", "https://auth.example.com", false},
		{"http:///v1", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Key(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Key(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStore_GetSetCredential(t *testing.T) {
	s, _ := openTemp(t)

	cred, err := s.GetCredential("http://localhost:8000/v1")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}

	want := &client.ServerCredential{
		AccessToken:  "access",
		RefreshToken: "user-1.refresh",
		UserEmail:    "user@example.com",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := s.SetCredential("http://localhost:8000/v1/", want); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	cred, _ = s.GetCredential("http://LOCALHOST:8000/v1")
	if cred == nil || cred.RefreshToken != "user-1.refresh" {
		t.Fatalf("GetCredential() = %+v, want refresh token user-1.refresh", cred)
	}

	// Returned credentials are copies
	cred.AccessToken = "mutated"
	again, _ := s.GetCredential("http://localhost:8000/v1")
	if again.AccessToken != "access" {
		t.Errorf("stored credential was mutated through the returned pointer")
	}
}

func TestStore_PrefixesAreSeparate(t *testing.T) {
	s, _ := openTemp(t)
	s.SetCredential("http://localhost:8000/v1", &client.ServerCredential{AccessToken: "one"})
	s.SetCredential("http://localhost:8000/v2", &client.ServerCredential{AccessToken: "two"})

	for base, want := range map[string]string{
		"http://localhost:8000/v1": "one",
		"http://localhost:8000/v2": "two",
	} {
		cred, _ := s.GetCredential(base)
		if cred == nil || cred.AccessToken != want {
			t.Errorf("GetCredential(%s) = %+v, want %s", base, cred, want)
		}
	}
	if cred, _ := s.GetCredential("https://localhost:8000/v1"); cred != nil {
		t.Error("scheme must be part of the key")
	}
	if cred, _ := s.GetCredential("http://localhost:8000"); cred != nil {
		t.Error("bare host must not match a prefixed entry")
	}
}

func TestStore_SaveAndReopen(t *testing.T) {
	s, file := openTemp(t)
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	s.SetCredential("https://b.example.com/v1", &client.ServerCredential{AccessToken: "b", ExpiresAt: expires})
	s.SetCredential("https://a.example.com/v1", &client.ServerCredential{AccessToken: "a", ExpiresAt: expires})
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(file)
	if err != nil {
		t.Fatalf("stat credentials: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credentials mode = %o, want 600", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(file))
	if len(entries) != 1 {
		t.Errorf("expected only the credentials file, found %d entries", len(entries))
	}
	data, _ := os.ReadFile(file)
	if !strings.Contains(string(data), `"version": 1`) {
		t.Errorf("saved file has no version: %s", data)
	}
	if strings.Index(string(data), "a.example.com") > strings.Index(string(data), "b.example.com") {
		t.Error("entries should be written in sorted order")
	}

	reopened, err := Open(file)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	servers, _ := reopened.ListServers()
	if len(servers) != 2 || servers[0] != "https://a.example.com/v1" || servers[1] != "https://b.example.com/v1" {
		t.Errorf("ListServers() = %v", servers)
	}
	cred, _ := reopened.GetCredential("https://b.example.com/v1")
	if cred == nil || cred.AccessToken != "b" || !cred.ExpiresAt.Equal(expires) {
		t.Errorf("reopened credential = %+v", cred)
	}
}

func TestStore_SaveWithoutChangesWritesNothing(t *testing.T) {
	s, file := openTemp(t)
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("expected no file, stat error = %v", err)
	}
}

func TestStore_Remove(t *testing.T) {
	s, file := openTemp(t)
	s.SetCredential("https://a.example.com/v1", &client.ServerCredential{AccessToken: "a"})
	s.Save()

	if err := s.RemoveCredential("https://a.example.com/v1/"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	s.Save()

	reopened, _ := Open(file)
	if cred, _ := reopened.GetCredential("https://a.example.com/v1"); cred != nil {
		t.Error("expected credential to be removed on disk")
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	os.WriteFile(corrupt, []byte("{not json"), 0600)
	if _, err := Open(corrupt); err == nil {
		t.Error("expected parse error for corrupt file")
	}

	future := filepath.Join(dir, "future.json")
	os.WriteFile(future, []byte(`{"version": 99, "entries": []}`), 0600)
	if _, err := Open(future); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestDefaultPath(t *testing.T) {
	p, err := DefaultPath("")
	if err != nil {
		t.Skipf("no config dir: %v", err)
	}
	if filepath.Base(p) != "credentials.json" || filepath.Base(filepath.Dir(p)) != "tokenauth" {
		t.Errorf("DefaultPath() = %q", p)
	}
}

func TestStore_WithAuthClient(t *testing.T) {
	s, file := openTemp(t)
	s.SetCredential("http://localhost:8000/api", &client.ServerCredential{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	s.Save()

	reopened, _ := Open(file)
	c := client.NewAuthClient("http://localhost:8000", reopened, client.WithPrefix("api"))
	if !c.IsLoggedIn() {
		t.Error("client should find the credential saved under its API base")
	}
}
