package capture

import (
	"context"
	"errors"

	"screen-quiz-llm/src/clipboard"
	"screen-quiz-llm/src/screenshot"
)

// ClipboardSource takes the image currently on the system clipboard.
type ClipboardSource struct {
	read func() ([]byte, error)
}

func NewClipboardSource() *ClipboardSource {
	return &ClipboardSource{read: clipboard.ReadImage}
}

func (s *ClipboardSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return screenshot.Screenshot{}, captureErr("clipboard", err)
	}
	data, err := s.read()
	if errors.Is(err, clipboard.ErrNoImage) {
		return screenshot.Screenshot{}, captureErr("clipboard", ErrNoScreenshot)
	}
	if err != nil {
		return screenshot.Screenshot{}, captureErr("clipboard", err)
	}
	shot, err := screenshot.FromBytes(data, "clipboard")
	if err != nil {
		return screenshot.Screenshot{}, captureErr("clipboard", err)
	}
	return shot, nil
}
