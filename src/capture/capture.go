package capture

import (
	"context"
	"errors"
	"fmt"

	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/screenshot"
	"screen-quiz-llm/src/selector"
)

// ErrNoScreenshot is wrapped in a CaptureError when a source has nothing to offer.
var ErrNoScreenshot = errors.New("no screenshot found")

// Source produces the screenshot for one cycle. It never touches session state.
type Source interface {
	Capture(ctx context.Context) (screenshot.Screenshot, error)
}

// CaptureError reports why no screenshot could be obtained.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture from %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func captureErr(source string, err error) error {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return &CaptureError{Source: source, Err: err}
}

// New builds the source for the configured capture mode.
func New(cfg *config.Config) (Source, error) {
	switch cfg.CaptureMode {
	case config.CaptureModeScreen:
		src := NewScreenSource()
		if cfg.CaptureRegion != "" {
			region, err := screenshot.ParseRegion(cfg.CaptureRegion)
			if err != nil {
				return nil, fmt.Errorf("CAPTURE_REGION: %w", err)
			}
			src.Region = region
		}
		return src, nil
	case config.CaptureModeSelect:
		if !selector.Supported {
			return nil, fmt.Errorf("CAPTURE_MODE=select: %w", selector.ErrUnsupported)
		}
		return NewSelectSource(selector.New()), nil
	case config.CaptureModeFolder, config.CaptureModeWatch:
		if cfg.ScreenshotDir == "" {
			return nil, errors.New("SCREENSHOT_DIR is required for folder capture")
		}
		return NewFolderSource(cfg.ScreenshotDir), nil
	case config.CaptureModeClipboard:
		return NewClipboardSource(), nil
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.CaptureMode)
	}
}
