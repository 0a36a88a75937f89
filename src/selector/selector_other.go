//go:build !windows

package selector

import (
	"context"

	"screen-quiz-llm/src/screenshot"
)

// Supported reports whether New returns a working selector.
const Supported = false

type unsupported struct{}

func newPlatformSelector() Selector { return unsupported{} }

func (unsupported) Select(ctx context.Context) (screenshot.Region, error) {
	return screenshot.Region{}, ErrUnsupported
}
