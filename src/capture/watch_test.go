package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsNewImage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "question.png")
	if err := os.WriteFile(target, pngBytes(t, 4, 4), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-w.Events():
		if got != target {
			t.Errorf("Expected %s, got %s", target, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for watcher event")
	}
}

func TestWatcherClosesEventsOnCancel(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("Expected events channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Events channel not closed after cancel")
	}
}

func TestNewWatcherMissingDir(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0); err == nil {
		t.Fatal("Expected error for missing directory")
	}
}
