package capture

import (
	"context"

	"screen-quiz-llm/src/screenshot"
	"screen-quiz-llm/src/selector"
)

// ErrCancelled marks a capture the user abandoned during region selection.
var ErrCancelled = selector.ErrCancelled

// SelectSource asks the user to drag over the question, then grabs that
// part of the screen.
type SelectSource struct {
	pick       func(context.Context) (screenshot.Region, error)
	grabRegion func(screenshot.Region) (screenshot.Screenshot, error)
}

func NewSelectSource(sel selector.Selector) *SelectSource {
	return &SelectSource{
		pick:       sel.Select,
		grabRegion: screenshot.CaptureRegion,
	}
}

func (s *SelectSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return screenshot.Screenshot{}, captureErr("select", err)
	}
	region, err := s.pick(ctx)
	if err != nil {
		return screenshot.Screenshot{}, captureErr("select", err)
	}
	shot, err := s.grabRegion(region)
	if err != nil {
		return screenshot.Screenshot{}, captureErr("select", err)
	}
	return shot, nil
}
