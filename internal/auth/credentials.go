// Package auth stores the remote access key used to reach the document store.
//
// The key is read from the TODOSYNC_TOKEN environment variable when set,
// otherwise from credentials.json in the credentials directory
// (~/.todosync by default), written with owner-only permissions.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	credFileName = "credentials.json"

	// EnvToken overrides any stored credentials.
	EnvToken = "TODOSYNC_TOKEN"
)

// ErrExpired is returned for a stored token past its expiry.
var ErrExpired = errors.New("stored token has expired")

// TokenInfo is a token and where it came from.
type TokenInfo struct {
	Token     string     `json:"token"`
	Source    string     `json:"source"`     // "env" | "file"
	CreatedAt time.Time  `json:"created_at"` // when it was saved to file
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Store reads and writes credentials in a directory.
type Store struct {
	dir    string
	getenv func(string) string
}

// DefaultDir returns ~/.todosync.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".todosync"), nil
}

// NewStore returns a credential store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, getenv: os.Getenv}
}

// Path returns the credentials file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, credFileName)
}

// Token returns the active token, or nil when not logged in.
func (s *Store) Token() (*TokenInfo, error) {
	if env := stripBearer(s.getenv(EnvToken)); env != "" {
		return &TokenInfo{Token: env, Source: "env"}, nil
	}

	b, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var ti TokenInfo
	if err := json.Unmarshal(b, &ti); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	ti.Token = stripBearer(ti.Token)
	if ti.ExpiresAt != nil && time.Now().After(*ti.ExpiresAt) {
		return &ti, ErrExpired
	}
	return &ti, nil
}

// Save writes token to the credentials file with 0600 permissions.
func (s *Store) Save(token string, expires *time.Time) error {
	token = stripBearer(token)
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	ti := TokenInfo{
		Token:     token,
		Source:    "file",
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	b, err := json.MarshalIndent(ti, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.Path(), b, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Delete removes the credentials file. Missing files are not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// stripBearer drops a leading "Bearer" word in any case. A bare "Bearer"
// leaves nothing.
func stripBearer(s string) string {
	s = strings.TrimSpace(s)
	const word = "bearer"
	if len(s) < len(word) || !strings.EqualFold(s[:len(word)], word) {
		return s
	}
	rest := s[len(word):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return s
	}
	return strings.TrimSpace(rest)
}
