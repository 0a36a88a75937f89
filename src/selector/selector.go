// Package selector lets the user drag a rectangle over the screen to choose
// the region to capture.
package selector

import (
	"context"
	"errors"
	"image"

	"screen-quiz-llm/src/screenshot"
)

var (
	// ErrCancelled is returned when the user abandons the selection.
	ErrCancelled = errors.New("selection cancelled")
	// ErrUnsupported is returned where no interactive selector exists.
	ErrUnsupported = errors.New("interactive region selection not supported on this platform")
)

// MinSpan is the smallest accepted width and height in pixels. Anything
// smaller is treated as a click and cancels the selection.
const MinSpan = 10

// Selector blocks until the user picks a region or cancels.
type Selector interface {
	Select(ctx context.Context) (screenshot.Region, error)
}

// New returns the platform selector. Check Supported first.
func New() Selector { return newPlatformSelector() }

// Bounds turns a drag between two points in selector window coordinates into
// a screen region. origin is the window's top-left corner on the virtual
// screen. ok is false when either side is shorter than MinSpan.
func Bounds(from, to, origin image.Point) (screenshot.Region, bool) {
	r := image.Rectangle{Min: from, Max: to}.Canon()
	if r.Dx() < MinSpan || r.Dy() < MinSpan {
		return screenshot.Region{}, false
	}
	r = r.Add(origin)
	return screenshot.Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}, true
}
