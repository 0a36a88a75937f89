package capture

import (
	"context"

	"screen-quiz-llm/src/screenshot"
)

// ScreenSource grabs the primary display, or Region when it is set.
type ScreenSource struct {
	Region screenshot.Region

	grabScreen func() (screenshot.Screenshot, error)
	grabRegion func(screenshot.Region) (screenshot.Screenshot, error)
}

func NewScreenSource() *ScreenSource {
	return &ScreenSource{
		grabScreen: screenshot.Capture,
		grabRegion: screenshot.CaptureRegion,
	}
}

func (s *ScreenSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return screenshot.Screenshot{}, captureErr("screen", err)
	}
	var (
		shot screenshot.Screenshot
		err  error
	)
	if s.Region.IsZero() {
		shot, err = s.grabScreen()
	} else {
		shot, err = s.grabRegion(s.Region)
	}
	if err != nil {
		return screenshot.Screenshot{}, captureErr("screen", err)
	}
	return shot, nil
}
