package hotkey

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
)

// Binding ties a combo such as "Alt+T" to a callback.
type Binding struct {
	Name    string
	Combo   string
	OnPress func()
}

type keyState struct {
	name     string
	rawcodes []uint16
	pressed  bool
}

type combo struct {
	binding Binding
	keys    []keyState
}

// Matcher tracks key state for a set of combos. It is fed raw key events and
// reports which bindings fire. Safe for concurrent use.
type Matcher struct {
	mu     sync.Mutex
	combos []*combo
}

// NewMatcher parses every binding. A combo that names an unknown key is an
// error so a typo in the config is reported at startup.
func NewMatcher(bindings []Binding) (*Matcher, error) {
	m := &Matcher{}
	for _, b := range bindings {
		if strings.TrimSpace(b.Combo) == "" {
			continue
		}
		c := &combo{binding: b}
		for _, name := range parseHotkey(b.Combo) {
			codes := keyNameToRawcodes(name)
			if len(codes) == 0 {
				return nil, fmt.Errorf("hotkey %q: unknown key %q", b.Combo, name)
			}
			c.keys = append(c.keys, keyState{name: name, rawcodes: codes})
		}
		if len(c.keys) == 0 {
			return nil, fmt.Errorf("hotkey %q: no keys", b.Combo)
		}
		m.combos = append(m.combos, c)
	}
	return m, nil
}

// KeyDown records a press and returns the bindings completed by it.
func (m *Matcher) KeyDown(rawcode uint16) []Binding {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []Binding
	for _, c := range m.combos {
		hit := false
		for i := range c.keys {
			if contains(c.keys[i].rawcodes, rawcode) {
				c.keys[i].pressed = true
				hit = true
			}
		}
		if !hit {
			continue
		}
		all := true
		for i := range c.keys {
			if !c.keys[i].pressed {
				all = false
				break
			}
		}
		if all {
			// Only the final key is cleared, so holding Alt and tapping T
			// twice fires twice.
			for i := range c.keys {
				if contains(c.keys[i].rawcodes, rawcode) {
					c.keys[i].pressed = false
				}
			}
			fired = append(fired, c.binding)
		}
	}
	return fired
}

// KeyUp records a release.
func (m *Matcher) KeyUp(rawcode uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.combos {
		for i := range c.keys {
			if contains(c.keys[i].rawcodes, rawcode) {
				c.keys[i].pressed = false
			}
		}
	}
}

func contains(codes []uint16, code uint16) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Listen starts one global keyboard hook serving every binding and returns
// once it is installed. The hook stops when ctx is done.
func Listen(ctx context.Context, bindings []Binding) error {
	m, err := NewMatcher(bindings)
	if err != nil {
		return err
	}
	if len(m.combos) == 0 {
		return nil
	}
	for _, c := range m.combos {
		log.Printf("hotkey: %s bound to %s", c.binding.Combo, c.binding.Name)
	}

	evChan := gohook.Start()
	if evChan == nil {
		return fmt.Errorf("hotkey: keyboard hook unavailable")
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()
		<-ctx.Done()
		gohook.End()
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()
		for ev := range evChan {
			switch ev.Kind {
			case gohook.KeyDown:
				for _, b := range m.KeyDown(ev.Rawcode) {
					log.Printf("hotkey: %s (%s)", b.Name, b.Combo)
					if b.OnPress != nil {
						b.OnPress()
					}
				}
			case gohook.KeyUp:
				m.KeyUp(ev.Rawcode)
			}
		}
		log.Printf("hotkey: event channel closed")
	}()
	return nil
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			keys = append(keys, "ctrl")
		case "option":
			keys = append(keys, "alt")
		case "win", "cmd", "super":
			keys = append(keys, "cmd")
		default:
			keys = append(keys, part)
		}
	}
	return keys
}

// Windows virtual key codes. Modifiers carry both left and right variants.
var rawcodes = map[string][]uint16{
	"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":   {164, 165}, // VK_LMENU, VK_RMENU
	"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

	"space":     {32},
	"enter":     {13},
	"return":    {13},
	"esc":       {27},
	"escape":    {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"del":       {46},
	"insert":    {45},
	"ins":       {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pgup":      {33},
	"pagedown":  {34},
	"pgdn":      {34},
	"left":      {37},
	"up":        {38},
	"right":     {39},
	"down":      {40},
}

func init() {
	for c := 'a'; c <= 'z'; c++ {
		rawcodes[string(c)] = []uint16{uint16('A' + (c - 'a'))}
	}
	for d := '0'; d <= '9'; d++ {
		rawcodes[string(d)] = []uint16{uint16(d)}
	}
	for n := 1; n <= 24; n++ {
		rawcodes[fmt.Sprintf("f%d", n)] = []uint16{uint16(111 + n)} // VK_F1 = 112
	}
}

// keyNameToRawcodes maps a key name to its Windows virtual key code rawcodes
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	switch keyName {
	case "win", "super":
		keyName = "cmd"
	}
	codes, ok := rawcodes[keyName]
	if !ok {
		log.Printf("WARNING: Unknown key name '%s', cannot map to rawcode", keyName)
		return nil
	}
	return codes
}
