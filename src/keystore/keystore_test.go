package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"", false},
		{"sk-", false},
		{"sk-short", false},
		{"sk-1234567", true},
		{"sk-or-v1-abcdef", true},
		{"pk-1234567890", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsValid(tt.key); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestSaveLoadDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before save, got %v", err)
	}

	if err := s.Save("  sk-test-key-123  "); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	key, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if key != "sk-test-key-123" {
		t.Errorf("Expected trimmed key, got %q", key)
	}

	if err := s.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected key file to be removed, stat err=%v", err)
	}
	if err := s.Delete(); err != nil {
		t.Errorf("Second Delete should be a no-op, got %v", err)
	}
}

func TestSaveRejectsInvalidKey(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "config.json"))
	if err := s.Save("not-a-key"); err == nil {
		t.Fatal("Expected error for invalid key")
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("Invalid key must not be written")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, _ := New(path)
	_, err := s.Load()
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected parse error, got %v", err)
	}
}
