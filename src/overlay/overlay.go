package overlay

import (
	"errors"
	"strings"
)

// Tone selects how a frame is emphasised.
type Tone int

const (
	ToneIdle Tone = iota
	ToneBusy
	ToneAnswer
	ToneError
)

func (t Tone) String() string {
	switch t {
	case ToneIdle:
		return "idle"
	case ToneBusy:
		return "busy"
	case ToneAnswer:
		return "answer"
	case ToneError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one complete overlay content. Text is the status or answer,
// Hint the key help shown beneath it.
type Frame struct {
	Text string
	Hint string
	Tone Tone
}

// Lines joins text and hint the way every display renders them.
func (f Frame) Lines() string {
	if f.Hint == "" {
		return f.Text
	}
	if f.Text == "" {
		return f.Hint
	}
	return f.Text + "\n\n" + f.Hint
}

// Display is a presentation sink. It makes no decisions.
type Display interface {
	Show(f Frame) error
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Frame) error

func (fn DisplayFunc) Show(f Frame) error { return fn(f) }

// Multi fans a frame out to every display and joins their errors.
type Multi []Display

func (m Multi) Show(f Frame) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Show(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Truncate limits s to max runes, appending "..." when shortened.
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}
