package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"screen-quiz-llm/src/screenshot"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImageFile reports whether name looks like a screenshot file: a known
// image extension and not hidden.
func IsImageFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(base))]
}

// FolderSource reads the most recently modified image in Dir.
type FolderSource struct {
	Dir string
}

func NewFolderSource(dir string) *FolderSource {
	return &FolderSource{Dir: dir}
}

func (s *FolderSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return screenshot.Screenshot{}, captureErr(s.Dir, err)
	}
	path, ok := FileFromContext(ctx)
	var modTime time.Time
	if ok {
		info, err := os.Stat(path)
		if err != nil {
			return screenshot.Screenshot{}, captureErr(path, err)
		}
		modTime = info.ModTime()
	} else {
		var err error
		path, modTime, err = Latest(s.Dir)
		if err != nil {
			return screenshot.Screenshot{}, captureErr(s.Dir, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return screenshot.Screenshot{}, captureErr(path, err)
	}
	shot, err := screenshot.FromBytes(data, path)
	if err != nil {
		return screenshot.Screenshot{}, captureErr(path, err)
	}
	shot.TakenAt = modTime
	return shot, nil
}

type fileKey struct{}

// WithFile asks a folder source to read path instead of the newest file.
// The watcher uses it so the file that fired is the one answered.
func WithFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, fileKey{}, path)
}

// FileFromContext returns the path attached by WithFile.
func FileFromContext(ctx context.Context) (string, bool) {
	path, ok := ctx.Value(fileKey{}).(string)
	return path, ok && path != ""
}

// Latest returns the newest image file in dir by modification time.
// Ties go to the lexically greater name so results are stable.
func Latest(dir string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read screenshots dir: %w", err)
	}

	var (
		bestPath string
		bestTime time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsImageFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mt := info.ModTime()
		if bestPath == "" || mt.After(bestTime) || (mt.Equal(bestTime) && e.Name() > filepath.Base(bestPath)) {
			bestPath = filepath.Join(dir, e.Name())
			bestTime = mt
		}
	}
	if bestPath == "" {
		return "", time.Time{}, fmt.Errorf("%w in %s", ErrNoScreenshot, dir)
	}
	return bestPath, bestTime, nil
}
