//go:build !windows

package overlay

import "errors"

// ErrUnsupported is returned by NewWindow where no native overlay exists.
var ErrUnsupported = errors.New("native overlay window not supported on this platform")

type WindowOptions struct {
	X, Y     int
	MaxWidth int
}

type Window struct{}

func NewWindow(opts WindowOptions) (*Window, error) { return nil, ErrUnsupported }

func (w *Window) Show(f Frame) error { return ErrUnsupported }

func (w *Window) Close() error { return nil }
