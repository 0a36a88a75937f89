//go:build windows

package selector

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"screen-quiz-llm/src/screenshot"
)

// Supported reports whether New returns a working selector.
const Supported = true

var (
	user32                         = windows.NewLazySystemDLL("user32.dll")
	gdi32                          = windows.NewLazySystemDLL("gdi32.dll")
	procAllowSetForegroundWindow   = user32.NewProc("AllowSetForegroundWindow")
	procGetAsyncKeyState           = user32.NewProc("GetAsyncKeyState")
	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
	procCreatePen                  = gdi32.NewProc("CreatePen")
	procRectangle                  = gdi32.NewProc("Rectangle")
)

const (
	lwaAlpha        = 0x00000002
	dimAlpha        = 90
	keyPollTimerID  = 1
	keyPollInterval = 25
	// hideDelay keeps the dimmed window out of the following screen grab.
	hideDelay = 150 * time.Millisecond
	hintText  = "Drag over the question.   ESC or right click cancels."
)

type result struct {
	region screenshot.Region
	err    error
}

// selection is one run of the selector window. The window procedure reaches
// it through current; only one selection runs at a time.
type selection struct {
	origin   image.Point
	hwnd     win.HWND
	dragging bool
	from, to image.Point
	escDown  bool

	res  *result
	done chan result

	mu        sync.Mutex
	cancelled bool
}

var current *selection

type windowsSelector struct {
	mu sync.Mutex
}

func newPlatformSelector() Selector { return &windowsSelector{} }

func (s *windowsSelector) Select(ctx context.Context) (screenshot.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return screenshot.Region{}, err
	}

	sel := &selection{done: make(chan result, 1)}
	go sel.run()

	var res result
	select {
	case res = <-sel.done:
	case <-ctx.Done():
		sel.abort()
		<-sel.done
		return screenshot.Region{}, ctx.Err()
	}
	if res.err != nil {
		return screenshot.Region{}, res.err
	}
	time.Sleep(hideDelay)
	return res.region, nil
}

// abort closes the window from another goroutine.
func (s *selection) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.hwnd != 0 {
		win.PostMessage(s.hwnd, win.WM_CLOSE, 0, 0)
	}
}

// run owns the window for its whole life. The goroutine keeps its OS thread
// locked and exits with it, so no message queue state leaks into the next run.
func (s *selection) run() {
	runtime.LockOSThread()
	res := result{err: ErrCancelled}
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("selector panicked: %v", r)}
		}
		current = nil
		s.done <- res
	}()

	vx := win.GetSystemMetrics(win.SM_XVIRTUALSCREEN)
	vy := win.GetSystemMetrics(win.SM_YVIRTUALSCREEN)
	vw := win.GetSystemMetrics(win.SM_CXVIRTUALSCREEN)
	vh := win.GetSystemMetrics(win.SM_CYVIRTUALSCREEN)
	s.origin = image.Pt(int(vx), int(vy))
	log.Printf("selector: virtual screen x=%d y=%d w=%d h=%d", vx, vy, vw, vh)

	instance := win.GetModuleHandle(nil)
	className := syscall.StringToUTF16Ptr(fmt.Sprintf("ScreenQuizSelector_%d", time.Now().UnixNano()))
	brush := win.HBRUSH(win.GetStockObject(win.BLACK_BRUSH))
	wc := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		Style:         win.CS_HREDRAW | win.CS_VREDRAW,
		LpfnWndProc:   syscall.NewCallback(selectorWndProc),
		HInstance:     instance,
		HCursor:       win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_CROSS)),
		HbrBackground: brush,
		LpszClassName: className,
	}
	if win.RegisterClassEx(&wc) == 0 {
		res.err = fmt.Errorf("selector: failed to register window class")
		return
	}
	defer win.UnregisterClass(className)

	current = s
	hwnd := win.CreateWindowEx(
		win.WS_EX_TOPMOST|win.WS_EX_LAYERED|win.WS_EX_TOOLWINDOW,
		className,
		syscall.StringToUTF16Ptr("Select question"),
		win.WS_POPUP|win.WS_VISIBLE,
		vx, vy, vw, vh,
		0, 0, instance, nil,
	)
	if hwnd == 0 {
		res.err = fmt.Errorf("selector: CreateWindowEx failed: %v", windows.GetLastError())
		return
	}

	s.mu.Lock()
	s.hwnd = hwnd
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		win.DestroyWindow(hwnd)
		return
	}

	procSetLayeredWindowAttributes.Call(uintptr(hwnd), 0, dimAlpha, lwaAlpha)
	win.ShowWindow(hwnd, win.SW_SHOW)
	procAllowSetForegroundWindow.Call(uintptr(os.Getpid()))
	win.SetForegroundWindow(hwnd)
	win.SetFocus(hwnd)
	win.UpdateWindow(hwnd)
	if win.SetTimer(hwnd, keyPollTimerID, keyPollInterval, 0) == 0 {
		log.Printf("selector: failed to start key poll timer")
	}

	var m win.MSG
	for win.GetMessage(&m, 0, 0, 0) > 0 {
		win.TranslateMessage(&m)
		win.DispatchMessage(&m)
	}
	if s.res != nil {
		res = *s.res
	}
}

// finish records the outcome once and tears the window down.
func (s *selection) finish(hwnd win.HWND, region screenshot.Region, err error) {
	if s.res == nil {
		s.res = &result{region: region, err: err}
	}
	win.DestroyWindow(hwnd)
}

func pointFrom(lParam uintptr) image.Point {
	return image.Pt(int(int16(win.LOWORD(uint32(lParam)))), int(int16(win.HIWORD(uint32(lParam)))))
}

func selectorWndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	s := current
	if s == nil {
		return win.DefWindowProc(hwnd, msg, wParam, lParam)
	}

	switch msg {
	case win.WM_LBUTTONDOWN:
		win.SetCapture(hwnd)
		s.dragging = true
		s.from = pointFrom(lParam)
		s.to = s.from
		win.InvalidateRect(hwnd, nil, true)
		return 0

	case win.WM_MOUSEMOVE:
		if s.dragging {
			s.to = pointFrom(lParam)
			win.InvalidateRect(hwnd, nil, true)
		}
		return 0

	case win.WM_LBUTTONUP:
		if !s.dragging {
			return 0
		}
		win.ReleaseCapture()
		s.dragging = false
		s.to = pointFrom(lParam)
		region, ok := Bounds(s.from, s.to, s.origin)
		if !ok {
			log.Printf("selector: selection smaller than %dpx, cancelling", MinSpan)
			s.finish(hwnd, screenshot.Region{}, ErrCancelled)
			return 0
		}
		log.Printf("selector: region %+v", region)
		s.finish(hwnd, region, nil)
		return 0

	case win.WM_RBUTTONUP:
		s.finish(hwnd, screenshot.Region{}, ErrCancelled)
		return 0

	case win.WM_KEYDOWN:
		if wParam == win.VK_ESCAPE {
			s.finish(hwnd, screenshot.Region{}, ErrCancelled)
		}
		return 0

	case win.WM_TIMER:
		// The window does not always win focus from a full-screen app, so
		// ESC is also polled.
		if wParam == keyPollTimerID {
			state, _, _ := procGetAsyncKeyState.Call(uintptr(win.VK_ESCAPE))
			down := uint16(state)&0x8000 != 0
			if down && !s.escDown {
				s.finish(hwnd, screenshot.Region{}, ErrCancelled)
			}
			s.escDown = down
		}
		return 0

	case win.WM_PAINT:
		s.paint(hwnd)
		return 0

	case win.WM_NCHITTEST:
		return uintptr(win.HTCLIENT)

	case win.WM_CLOSE:
		s.finish(hwnd, screenshot.Region{}, ErrCancelled)
		return 0

	case win.WM_DESTROY:
		win.KillTimer(hwnd, keyPollTimerID)
		win.PostQuitMessage(0)
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

func (s *selection) paint(hwnd win.HWND) {
	var ps win.PAINTSTRUCT
	hdc := win.BeginPaint(hwnd, &ps)
	defer win.EndPaint(hwnd, &ps)

	win.FillRect(hdc, &ps.RcPaint, win.HBRUSH(win.GetStockObject(win.BLACK_BRUSH)))

	win.SetBkMode(hdc, win.TRANSPARENT)
	win.SetTextColor(hdc, win.RGB(255, 255, 0))
	win.TextOut(hdc, 16, 16, syscall.StringToUTF16Ptr(hintText), int32(len(hintText)))

	if !s.dragging {
		return
	}
	r := image.Rectangle{Min: s.from, Max: s.to}.Canon()
	pen, _, _ := procCreatePen.Call(0, 3, uintptr(win.RGB(255, 0, 0)))
	oldPen := win.SelectObject(hdc, win.HGDIOBJ(pen))
	oldBrush := win.SelectObject(hdc, win.GetStockObject(win.NULL_BRUSH))
	procRectangle.Call(uintptr(hdc), uintptr(r.Min.X), uintptr(r.Min.Y), uintptr(r.Max.X), uintptr(r.Max.Y))
	win.SelectObject(hdc, oldPen)
	win.SelectObject(hdc, oldBrush)
	win.DeleteObject(win.HGDIOBJ(pen))
}
