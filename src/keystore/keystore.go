package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	AppDirName = "screen-quiz-llm"
	fileName   = "config.json"
	keyPrefix  = "sk-"
	minKeyLen  = 10
)

// ErrNotFound is returned by Load when no key has been saved yet.
var ErrNotFound = errors.New("no saved API key")

type fileFormat struct {
	APIKey string `json:"api_key"`
}

// Store persists a single API key as JSON on disk.
type Store struct {
	path string
}

// New returns a store at path. An empty path selects DefaultPath.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Store{path: path}, nil
}

// DefaultPath is <UserConfigDir>/screen-quiz-llm/config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, AppDirName, fileName), nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read key store: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse key store %s: %w", s.path, err)
	}
	key := strings.TrimSpace(f.APIKey)
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

// Save validates and writes key, creating the parent directory when needed.
func (s *Store) Save(key string) error {
	key = strings.TrimSpace(key)
	if !IsValid(key) {
		return fmt.Errorf("API key must start with %q and be at least %d characters", keyPrefix, minKeyLen)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key store dir: %w", err)
	}
	data, err := json.Marshal(fileFormat{APIKey: key})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write key store: %w", err)
	}
	return nil
}

// Delete removes the saved key. Deleting a missing store is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete key store: %w", err)
	}
	return nil
}

// IsValid reports whether key looks like an OpenAI-style secret key.
func IsValid(key string) bool {
	return strings.HasPrefix(key, keyPrefix) && len(key) >= minKeyLen
}
