package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

const (
	DefaultFileName = "screen_quiz_debug.log"
	maxSizeBytes    = 10 * 1024 * 1024 // 10 MB
	maxArchives     = 3
)

// Setup routes the standard logger to a size-rotated file when enabled.
// When disabled, logs are discarded so the terminal stays clean.
func Setup(enableFileLogging bool) io.Closer {
	return SetupFile(enableFileLogging, DefaultFileName)
}

func SetupFile(enableFileLogging bool, path string) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if !enableFileLogging {
		log.SetOutput(io.Discard)
		return nopCloser{}
	}
	w, err := NewRotatingWriter(path, maxSizeBytes, maxArchives)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		log.SetOutput(io.Discard)
		return nopCloser{}
	}
	log.SetOutput(w)
	return w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RotatingWriter appends to path and shifts it to path.1 .. path.N once it
// would exceed maxSize. The oldest archive is discarded.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	archives int
	f        *os.File
}

func NewRotatingWriter(path string, maxSize int64, archives int) (*RotatingWriter, error) {
	w := &RotatingWriter{path: path, maxSize: maxSize, archives: archives}
	if st, err := os.Stat(path); err == nil && st.Size() > maxSize {
		w.rotate()
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return 0, os.ErrClosed
	}
	if st, err := w.f.Stat(); err == nil && st.Size() > 0 && st.Size()+int64(len(p)) > w.maxSize {
		_ = w.f.Close()
		w.rotate()
		if err := w.open(); err != nil {
			w.f = nil
			return 0, err
		}
	}
	return w.f.Write(p)
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingWriter) rotate() {
	_ = os.Remove(w.archiveName(w.archives))
	for i := w.archives - 1; i >= 1; i-- {
		_ = os.Rename(w.archiveName(i), w.archiveName(i+1))
	}
	_ = os.Rename(w.path, w.archiveName(1))
}

func (w *RotatingWriter) archiveName(n int) string { return fmt.Sprintf("%s.%d", w.path, n) }

// RedactKey masks an API key, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}

// Sanitize shortens text and escapes control characters so model output
// cannot forge log lines.
func Sanitize(text string, maxLen int) string {
	truncated := false
	if r := []rune(text); maxLen > 0 && len(r) > maxLen {
		text = string(r[:maxLen])
		truncated = true
	}

	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 32 || r == 127:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}
