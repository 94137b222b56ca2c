// Package tokens persists the authenticated LinkedIn identity.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by Load when nothing is stored for the client.
var ErrNotFound = errors.New("no stored credentials")

// expirySkew treats tokens about to expire as already expired.
const expirySkew = 30 * time.Second

// Credentials is one client's persisted tokens and identity.
type Credentials struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	TokenType       string    `json:"token_type"`
	IDToken         string    `json:"id_token,omitempty"`
	Scope           string    `json:"scope,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	ClientID        string    `json:"client_id"`
	Subject         string    `json:"sub"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// Expired reports whether the access token is past (or about to pass) its expiry.
func (c *Credentials) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().Add(expirySkew).After(c.ExpiresAt)
}

// Valid reports whether the credentials can call the API.
func (c *Credentials) Valid() bool {
	return c != nil && c.AccessToken != "" && c.Subject != "" && !c.Expired()
}

// fileMap keeps tokens for multiple clients in one file.
type fileMap struct {
	Tokens map[string]*Credentials `json:"tokens"`
}

// Store is a JSON file of credentials keyed by client id.
type Store struct {
	path        string
	clientID    string
	lockTimeout time.Duration
}

// NewStore returns a store for clientID backed by path.
func NewStore(path, clientID string) *Store {
	return &Store{path: path, clientID: clientID, lockTimeout: defaultLockTimeout}
}

// Path is the backing file.
func (s *Store) Path() string { return s.path }

// Load returns the credentials stored for the client.
func (s *Store) Load() (*Credentials, error) {
	m, err := s.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	creds, ok := m.Tokens[s.clientID]
	if !ok || creds == nil {
		return nil, ErrNotFound
	}
	return creds, nil
}

// Save writes creds for the client, keeping other clients' entries.
func (s *Store) Save(creds *Credentials) error {
	if creds.ClientID == "" {
		creds.ClientID = s.clientID
	}
	return s.update(func(m *fileMap) {
		m.Tokens[creds.ClientID] = creds
	})
}

// Clear removes the client's entry. Clearing an absent entry is not an error.
func (s *Store) Clear() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.update(func(m *fileMap) {
		delete(m.Tokens, s.clientID)
	})
}

func (s *Store) read() (*fileMap, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var m fileMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if m.Tokens == nil {
		m.Tokens = make(map[string]*Credentials)
	}
	return &m, nil
}

func (s *Store) update(mutate func(*fileMap)) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	lock, err := lockFile(s.path, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	m, err := s.read()
	if err != nil {
		// A missing or corrupt file is replaced.
		m = &fileMap{Tokens: make(map[string]*Credentials)}
	}
	mutate(m)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; also failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
