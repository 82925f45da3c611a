package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"presence/internal/model"
)

// ErrNoSession means no usable token is stored.
var ErrNoSession = errors.New("not logged in")

// SaveSession writes the session next to the outbox, readable only by the
// current user.
func SaveSession(path string, s model.Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSession reads a stored session. Expired sessions are ErrNoSession.
func LoadSession(path string, now time.Time) (model.Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Session{}, ErrNoSession
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("read session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.Token == "" || !now.Before(s.ExpiresAt) {
		return model.Session{}, ErrNoSession
	}
	return s, nil
}

// ResolveToken prefers an explicit token, then the stored session.
func ResolveToken(explicit, path string, now time.Time) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	s, err := LoadSession(path, now)
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

// SessionToken returns a token source that re-reads the stored session on
// every call, so logging in or out takes effect without a restart.
func SessionToken(explicit, path string) func() string {
	return func() string {
		tok, err := ResolveToken(explicit, path, time.Now())
		if err != nil {
			return ""
		}
		return tok
	}
}

// ClearSession removes the stored session. A missing file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
