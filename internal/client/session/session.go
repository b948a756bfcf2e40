package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"recordsync/internal/shared/models"
)

// ErrNoSession is returned when nobody logged in yet.
var ErrNoSession = errors.New("no session, please login")

// DefaultPath returns the session file in the user's home directory.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".recordsync_session")
}

// Store keeps the tokens of the current login on disk. It supplies the
// bearer token to the transport and the CSRF token to records.
type Store struct {
	path string
}

// New returns a store backed by path; an empty path means DefaultPath.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Exists checks if a session file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes tokens with 0600 perms.
func (s *Store) Save(tokens models.TokenResponse) error {
	if tokens.AccessToken == "" {
		return errors.New("empty access token")
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0600)
}

// Load reads the stored tokens.
func (s *Store) Load() (models.TokenResponse, error) {
	var tokens models.TokenResponse
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tokens, ErrNoSession
		}
		return tokens, err
	}
	if err := json.Unmarshal(b, &tokens); err != nil {
		return tokens, err
	}
	tokens.AccessToken = strings.TrimSpace(tokens.AccessToken)
	if tokens.AccessToken == "" {
		return tokens, ErrNoSession
	}
	return tokens, nil
}

// Clear removes the session file. Clearing a missing session is not an
// error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) AccessToken() (string, error) {
	tokens, err := s.Load()
	return tokens.AccessToken, err
}

func (s *Store) CSRFToken() (string, error) {
	tokens, err := s.Load()
	return tokens.CSRFToken, err
}
