package clipboard

import (
	"errors"
	"sync"

	"golang.design/x/clipboard"
)

// ErrNoImage is returned when the clipboard holds no image.
var ErrNoImage = errors.New("clipboard holds no image")

var (
	writeMu  sync.Mutex
	initOnce sync.Once
	initErr  error
)

// Init may be called repeatedly; only the first call touches the system clipboard.
func Init() error {
	initOnce.Do(func() { initErr = clipboard.Init() })
	return initErr
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// ReadImage returns the PNG-encoded image currently on the clipboard.
func ReadImage() ([]byte, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	data := clipboard.Read(clipboard.FmtImage)
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	return data, nil
}
