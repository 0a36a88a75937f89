package tray

import (
	"log"
	"sync"

	"github.com/getlantern/systray"
)

type Config struct {
	Title   string
	Tooltip string

	OnCapture func()
	OnReset   func()
	// OnExit runs once the tray loop has stopped.
	OnExit func()
}

// Tray wraps the system tray icon and its menu. Run must be called from the
// main goroutine on platforms whose UI toolkit requires it.
type Tray struct {
	cfg Config

	mu      sync.Mutex
	ready   bool
	tooltip string
	about   *systray.MenuItem
	extra   string
}

func New(cfg Config) *Tray {
	if cfg.Title == "" {
		cfg.Title = "Screen Quiz LLM"
	}
	if cfg.Tooltip == "" {
		cfg.Tooltip = cfg.Title
	}
	return &Tray{cfg: cfg, tooltip: cfg.Tooltip}
}

// Run blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) Quit() {
	systray.Quit()
}

// UpdateTooltip is safe before the tray is ready; the text is applied once it is.
func (t *Tray) UpdateTooltip(text string) {
	if text == "" {
		text = t.cfg.Tooltip
	}
	t.mu.Lock()
	t.tooltip = text
	ready := t.ready
	t.mu.Unlock()
	if ready {
		systray.SetTooltip(text)
	}
}

func (t *Tray) Tooltip() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tooltip
}

// SetAboutExtra adds a disabled info line to the menu, e.g. the control port.
func (t *Tray) SetAboutExtra(text string) {
	t.mu.Lock()
	t.extra = text
	item := t.about
	t.mu.Unlock()
	if item != nil {
		item.SetTitle(text)
		item.Show()
	}
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle(t.cfg.Title)

	mCapture := systray.AddMenuItem("Capture", "Capture the question and ask the model")
	mReset := systray.AddMenuItem("Reset", "Clear the answer")
	systray.AddSeparator()
	mAbout := systray.AddMenuItem("", "")
	mAbout.Disable()
	mAbout.Hide()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	t.mu.Lock()
	t.ready = true
	t.about = mAbout
	tooltip, extra := t.tooltip, t.extra
	t.mu.Unlock()

	systray.SetTooltip(tooltip)
	if extra != "" {
		mAbout.SetTitle(extra)
		mAbout.Show()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in tray goroutine: %v", r)
			}
		}()
		for {
			select {
			case <-mCapture.ClickedCh:
				if t.cfg.OnCapture != nil {
					t.cfg.OnCapture()
				}
			case <-mReset.ClickedCh:
				if t.cfg.OnReset != nil {
					t.cfg.OnReset()
				}
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	t.mu.Lock()
	t.ready = false
	t.mu.Unlock()
	if t.cfg.OnExit != nil {
		t.cfg.OnExit()
	}
}
