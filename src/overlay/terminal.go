package overlay

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Terminal writes one line per frame. Used where no native window exists.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	return &Terminal{w: w}
}

func (t *Terminal) Show(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	line := strings.ReplaceAll(f.Text, "\n", " / ")
	if f.Hint != "" {
		line += "  | " + f.Hint
	}
	_, err := fmt.Fprintf(t.w, "[%s] %s\n", f.Tone, line)
	return err
}
