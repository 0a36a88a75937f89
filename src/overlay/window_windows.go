//go:build windows

package overlay

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

var ErrUnsupported = errors.New("native overlay window not supported on this platform")

var (
	user32                         = windows.NewLazySystemDLL("user32.dll")
	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
)

const (
	wmOverlayUpdate  = win.WM_APP + 1
	wsExNoActivate   = 0x08000000
	lwaColorKey      = 0x00000001
	cleartypeQuality = 5
	fixedPitchModern = 0x01 | 0x30

	padX = 8
	padY = 4
)

var (
	colorKey   = win.RGB(0, 0, 0)
	colorText  = win.RGB(0, 255, 0)
	colorError = win.RGB(255, 80, 80)
	colorBusy  = win.RGB(255, 215, 0)
)

type WindowOptions struct {
	X, Y     int
	MaxWidth int
}

// Window is a borderless, topmost, click-through overlay. Black is colour
// keyed so only the text is visible. All window calls happen on one locked
// OS thread that owns the message loop.
type Window struct {
	opts WindowOptions

	mu    sync.Mutex
	frame Frame

	hwnd   win.HWND
	font   win.HFONT
	brush  win.HBRUSH
	closed chan struct{}
	once   sync.Once
}

// One overlay per process; the window procedure reaches it through here.
var active *Window

func NewWindow(opts WindowOptions) (*Window, error) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 800
	}
	w := &Window{opts: opts, closed: make(chan struct{})}

	ready := make(chan error, 1)
	go w.loop(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Window) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.closed)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("overlay: window thread panic: %v", r)
		}
	}()

	if err := w.create(); err != nil {
		ready <- err
		return
	}
	ready <- nil

	var m win.MSG
	for win.GetMessage(&m, 0, 0, 0) > 0 {
		win.TranslateMessage(&m)
		win.DispatchMessage(&m)
	}

	if w.font != 0 {
		win.DeleteObject(win.HGDIOBJ(w.font))
	}
	if w.brush != 0 {
		win.DeleteObject(win.HGDIOBJ(w.brush))
	}
}

func (w *Window) create() error {
	instance := win.GetModuleHandle(nil)
	className := syscall.StringToUTF16Ptr("ScreenQuizOverlay")

	w.brush = win.CreateSolidBrush(colorKey)
	lf := win.LOGFONT{
		LfHeight:         -16,
		LfWeight:         win.FW_NORMAL,
		LfCharSet:        win.DEFAULT_CHARSET,
		LfQuality:        cleartypeQuality,
		LfPitchAndFamily: fixedPitchModern,
	}
	copy(lf.LfFaceName[:], syscall.StringToUTF16("Consolas"))
	w.font = win.CreateFontIndirect(&lf)

	wc := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		LpfnWndProc:   syscall.NewCallback(wndProc),
		HInstance:     instance,
		HCursor:       win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_ARROW)),
		HbrBackground: w.brush,
		LpszClassName: className,
	}
	if win.RegisterClassEx(&wc) == 0 {
		return errors.New("overlay: failed to register window class")
	}

	active = w
	w.hwnd = win.CreateWindowEx(
		win.WS_EX_TOPMOST|win.WS_EX_LAYERED|win.WS_EX_TRANSPARENT|win.WS_EX_TOOLWINDOW|wsExNoActivate,
		className,
		nil,
		win.WS_POPUP,
		int32(w.opts.X), int32(w.opts.Y), 300, 40,
		0, 0, instance, nil,
	)
	if w.hwnd == 0 {
		return fmt.Errorf("overlay: CreateWindowEx failed: %v", windows.GetLastError())
	}

	procSetLayeredWindowAttributes.Call(uintptr(w.hwnd), uintptr(colorKey), 0, lwaColorKey)
	win.ShowWindow(w.hwnd, win.SW_SHOWNOACTIVATE)
	return nil
}

// Show replaces the overlay content. Safe from any goroutine.
func (w *Window) Show(f Frame) error {
	select {
	case <-w.closed:
		return errors.New("overlay window closed")
	default:
	}
	w.mu.Lock()
	w.frame = f
	w.mu.Unlock()
	if win.PostMessage(w.hwnd, wmOverlayUpdate, 0, 0) == 0 {
		return fmt.Errorf("overlay: PostMessage failed: %v", windows.GetLastError())
	}
	return nil
}

func (w *Window) Close() error {
	w.once.Do(func() {
		win.PostMessage(w.hwnd, win.WM_CLOSE, 0, 0)
	})
	<-w.closed
	return nil
}

func (w *Window) current() (string, win.COLORREF) {
	w.mu.Lock()
	defer w.mu.Unlock()
	color := colorText
	switch w.frame.Tone {
	case ToneError:
		color = colorError
	case ToneBusy:
		color = colorBusy
	}
	return w.frame.Lines(), color
}

// resize fits the window to the wrapped text, capped at MaxWidth.
func (w *Window) resize() {
	text, _ := w.current()
	if text == "" {
		text = " "
	}

	hdc := win.GetDC(w.hwnd)
	old := win.SelectObject(hdc, win.HGDIOBJ(w.font))
	r := win.RECT{Right: int32(w.opts.MaxWidth - 2*padX)}
	win.DrawTextEx(hdc, syscall.StringToUTF16Ptr(text), -1, &r,
		win.DT_CALCRECT|win.DT_WORDBREAK|win.DT_NOPREFIX|win.DT_LEFT, nil)
	win.SelectObject(hdc, old)
	win.ReleaseDC(w.hwnd, hdc)

	width := r.Right - r.Left + 2*padX
	if width > int32(w.opts.MaxWidth) {
		width = int32(w.opts.MaxWidth)
	}
	height := r.Bottom - r.Top + 2*padY
	win.SetWindowPos(w.hwnd, win.HWND_TOPMOST,
		int32(w.opts.X), int32(w.opts.Y), width, height,
		win.SWP_NOACTIVATE|win.SWP_SHOWWINDOW)
	win.InvalidateRect(w.hwnd, nil, true)
}

func (w *Window) paint(hwnd win.HWND) {
	var ps win.PAINTSTRUCT
	hdc := win.BeginPaint(hwnd, &ps)
	defer win.EndPaint(hwnd, &ps)

	win.FillRect(hdc, &ps.RcPaint, w.brush)

	text, color := w.current()
	if text == "" {
		return
	}
	old := win.SelectObject(hdc, win.HGDIOBJ(w.font))
	win.SetBkMode(hdc, win.TRANSPARENT)
	win.SetTextColor(hdc, color)
	r := win.RECT{Left: padX, Top: padY, Right: int32(w.opts.MaxWidth - padX), Bottom: 4096}
	win.DrawTextEx(hdc, syscall.StringToUTF16Ptr(text), -1, &r,
		win.DT_WORDBREAK|win.DT_NOPREFIX|win.DT_LEFT, nil)
	win.SelectObject(hdc, old)
}

func wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	w := active
	switch msg {
	case wmOverlayUpdate:
		if w != nil {
			w.resize()
		}
		return 0
	case win.WM_PAINT:
		if w != nil {
			w.paint(hwnd)
			return 0
		}
	case win.WM_CLOSE:
		win.DestroyWindow(hwnd)
		return 0
	case win.WM_DESTROY:
		win.PostQuitMessage(0)
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}
