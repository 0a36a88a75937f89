package screenshot

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	"github.com/kbinani/screenshot"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const MIMEPNG = "image/png"

// Screenshot is one encoded image ready to be sent to the model.
type Screenshot struct {
	Data     []byte
	MIMEType string
	// Source is "screen", "clipboard" or the file path the image came from.
	Source  string
	Width   int
	Height  int
	TakenAt time.Time
}

// DataURL renders the image as a data: URL.
func (s Screenshot) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", s.MIMEType, base64.StdEncoding.EncodeToString(s.Data))
}

func (s Screenshot) String() string {
	return fmt.Sprintf("%s %dx%d (%s, %d bytes)", s.Source, s.Width, s.Height, s.MIMEType, len(s.Data))
}

// Region represents a screen region to capture
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Region) IsZero() bool { return r.Width == 0 && r.Height == 0 }

// ParseRegion parses "x,y,width,height".
func ParseRegion(s string) (Region, error) {
	var r Region
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return r, fmt.Errorf("region %q: want x,y,width,height", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &vals[i]); err != nil {
			return r, fmt.Errorf("region %q: %v", s, err)
		}
	}
	r = Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if r.Width <= 0 || r.Height <= 0 {
		return Region{}, fmt.Errorf("invalid region dimensions: width=%d, height=%d", r.Width, r.Height)
	}
	return r, nil
}

// Capture grabs the primary display.
func Capture() (Screenshot, error) {
	bounds, err := GetDisplayBounds()
	if err != nil {
		return Screenshot{}, err
	}
	return captureRect(bounds)
}

// CaptureRegion captures a specific region of the screen
func CaptureRegion(region Region) (Screenshot, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return Screenshot{}, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}
	return captureRect(image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height))
}

func captureRect(bounds image.Rectangle) (Screenshot, error) {
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return Screenshot{}, fmt.Errorf("failed to capture region: %w", err)
	}
	data, err := EncodePNG(img)
	if err != nil {
		return Screenshot{}, err
	}
	return Screenshot{
		Data:     data,
		MIMEType: MIMEPNG,
		Source:   "screen",
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		TakenAt:  time.Now(),
	}, nil
}

// GetDisplayBounds returns the bounds of the primary display
func GetDisplayBounds() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	return screenshot.GetDisplayBounds(0), nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Formats accepted by vision endpoints as-is; anything else is re-encoded to PNG.
var passthroughMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// FromBytes validates encoded image data and normalizes it into a Screenshot.
func FromBytes(data []byte, source string) (Screenshot, error) {
	if len(data) == 0 {
		return Screenshot{}, fmt.Errorf("empty image data")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Screenshot{}, fmt.Errorf("unrecognized image: %w", err)
	}

	// Registered decoder names match their MIME subtypes.
	mime := "image/" + format
	shot := Screenshot{
		Data:     data,
		MIMEType: mime,
		Source:   source,
		Width:    cfg.Width,
		Height:   cfg.Height,
		TakenAt:  time.Now(),
	}
	if passthroughMIME[mime] {
		return shot, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Screenshot{}, fmt.Errorf("decode %s: %w", format, err)
	}
	if shot.Data, err = EncodePNG(img); err != nil {
		return Screenshot{}, err
	}
	shot.MIMEType = MIMEPNG
	return shot, nil
}
