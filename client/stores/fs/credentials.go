// Package fs keeps tokenauth client credentials in a single JSON file,
// one entry per API base (scheme, host and prefix).
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/panyam/tokenauth/client"
)

// fileVersion is bumped when the on-disk layout changes
const fileVersion = 1

type entry struct {
	API string `json:"api"`
	client.ServerCredential
}

type document struct {
	Version int     `json:"version"`
	Entries []entry `json:"entries"`
}

// Store is a client.CredentialStore backed by one JSON file.
// Changes are buffered in memory until Save.
type Store struct {
	mu    sync.RWMutex
	file  string
	creds map[string]client.ServerCredential
	dirty bool
}

var _ client.CredentialStore = (*Store)(nil)

// DefaultPath returns <user config dir>/<appName>/credentials.json
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("locate config dir: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "tokenauth"
	}
	return filepath.Join(dir, appName, "credentials.json"), nil
}

// Open loads the credentials file at file. A missing file is an empty store.
func Open(file string) (*Store, error) {
	s := &Store{file: file, creds: make(map[string]client.ServerCredential)}
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if doc.Version > fileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", file, doc.Version)
	}
	for _, e := range doc.Entries {
		s.creds[e.API] = e.ServerCredential
	}
	return s, nil
}

// Key canonicalizes an API base URL: scheme defaults to https, the host is
// lowercased, and the path is cleaned with no trailing slash. Query and
// fragment are dropped.
func Key(apiBase string) (string, error) {
	if !strings.Contains(apiBase, "://") {
		apiBase = "https://" + apiBase
	}
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid API URL %q: missing host", apiBase)
	}
	p := ""
	if u.Path != "" && u.Path != "/" {
		p = path.Clean("/" + u.Path)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p, nil
}

func (s *Store) GetCredential(apiBase string) (*client.ServerCredential, error) {
	key, err := Key(apiBase)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *Store) SetCredential(apiBase string, cred *client.ServerCredential) error {
	if cred == nil {
		return s.RemoveCredential(apiBase)
	}
	key, err := Key(apiBase)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = *cred
	s.dirty = true
	return nil
}

func (s *Store) RemoveCredential(apiBase string) error {
	key, err := Key(apiBase)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[key]; ok {
		delete(s.creds, key)
		s.dirty = true
	}
	return nil
}

// ListServers returns the stored API bases in sorted order
func (s *Store) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.creds))
	for k := range s.creds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Save writes buffered changes. The file is replaced by rename and is
// readable by its owner only.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	doc := document{Version: fileVersion, Entries: make([]entry, 0, len(s.creds))}
	for k, c := range s.creds {
		doc.Entries = append(doc.Entries, entry{API: k, ServerCredential: c})
	}
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].API < doc.Entries[j].API })
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.file, data); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.dirty = false
	return nil
}

// Path returns the credentials file location
func (s *Store) Path() string {
	return s.file
}

func writeFileAtomic(file string, data []byte) (err error) {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0600); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}
