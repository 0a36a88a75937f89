package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/logutil"
	"screen-quiz-llm/src/overlay"
	"screen-quiz-llm/src/screenshot"
)

const (
	TextIdle       = "Waiting..."
	TextProcessing = "Processing..."
	errorPrefix    = "Error: "

	DefaultDeadline = 60 * time.Second
)

var (
	// ErrBusy rejects a capture while a cycle is in flight.
	ErrBusy = errors.New("a capture is already in progress")
	// ErrResetRequired rejects a capture while an answer or error is shown.
	ErrResetRequired = errors.New("reset before capturing again")
)

type State int

const (
	Idle State = iota
	AwaitingAnswer
	ShowingAnswer
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingAnswer:
		return "AwaitingAnswer"
	case ShowingAnswer:
		return "ShowingAnswer"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Answerer turns a screenshot into answer text. *answer.Requester satisfies it.
type Answerer interface {
	Answer(ctx context.Context, shot screenshot.Screenshot) (string, error)
}

// Hints are the key help lines shown under the status text.
type Hints struct {
	Idle  string
	Busy  string
	Shown string
}

type Options struct {
	Source   capture.Source
	Answerer Answerer
	Display  overlay.Display
	// Deadline bounds the answer request; zero means DefaultDeadline.
	Deadline time.Duration
	// OnAnswer runs after a successful cycle, outside the controller lock.
	OnAnswer func(text string)
	Hints    Hints
}

// Snapshot is a consistent read of the controller.
type Snapshot struct {
	State         State
	Answer        string
	Err           error
	HasScreenshot bool
	CycleID       string
}

// Controller owns the session state. Every transition happens under mu and
// takes a sequence number; frames are shown after mu is released and a frame
// older than the last one shown is dropped, so displays observe states in
// order without a slow display blocking readers.
type Controller struct {
	opts Options

	mu     sync.Mutex
	state  State
	shot   *screenshot.Screenshot
	answer string
	err    error
	cycle  string
	seq    uint64

	showMu sync.Mutex
	shown  uint64
}

// New returns a controller in Idle and shows the idle frame.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, errors.New("session: Source is required")
	}
	if opts.Answerer == nil {
		return nil, errors.New("session: Answerer is required")
	}
	if opts.Display == nil {
		opts.Display = overlay.DisplayFunc(func(overlay.Frame) error { return nil })
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}

	c := &Controller{opts: opts, state: Idle}
	c.mu.Lock()
	seq, f := c.nextFrame()
	c.mu.Unlock()
	c.present(seq, f)
	return c, nil
}

// Capture runs one full cycle and blocks until it ends. It returns ErrBusy or
// ErrResetRequired without touching state when the controller is not Idle,
// otherwise the cycle's own error (nil on success). A cancelled region
// selection returns to Idle. A panic in a collaborator ends the cycle in Error.
func (c *Controller) Capture(ctx context.Context) (err error) {
	c.mu.Lock()
	switch c.state {
	case AwaitingAnswer:
		c.mu.Unlock()
		return ErrBusy
	case ShowingAnswer, Error:
		c.mu.Unlock()
		return ErrResetRequired
	}
	c.state = AwaitingAnswer
	c.shot = nil
	c.answer = ""
	c.err = nil
	c.cycle = uuid.NewString()
	cycle := c.cycle
	seq, f := c.nextFrame()
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := fmt.Errorf("capture cycle panicked: %v", r)
		if c.awaiting(cycle) {
			err = c.finish(cycle, start, "", perr)
			return
		}
		log.Printf("session[%s]: %v", cycle, perr)
		err = perr
	}()

	c.present(seq, f)
	log.Printf("session[%s]: capture started", cycle)

	shot, err := c.opts.Source.Capture(ctx)
	if errors.Is(err, capture.ErrCancelled) {
		c.cancel(cycle)
		return err
	}
	if err != nil {
		return c.finish(cycle, start, "", err)
	}

	c.mu.Lock()
	c.shot = &shot
	c.mu.Unlock()
	log.Printf("session[%s]: captured %s", cycle, shot)

	actx, cancel := context.WithTimeout(ctx, c.opts.Deadline)
	defer cancel()
	text, err := c.opts.Answerer.Answer(actx, shot)
	return c.finish(cycle, start, text, err)
}

func (c *Controller) awaiting(cycle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == AwaitingAnswer && c.cycle == cycle
}

func (c *Controller) finish(cycle string, start time.Time, text string, err error) error {
	elapsed := time.Since(start).Round(time.Millisecond)

	c.mu.Lock()
	if err != nil {
		c.state = Error
		c.err = err
		log.Printf("session[%s]: failed after %s: %v", cycle, elapsed, err)
	} else {
		c.state = ShowingAnswer
		c.answer = text
		log.Printf("session[%s]: answer %q after %s", cycle, logutil.Sanitize(text, 100), elapsed)
	}
	seq, f := c.nextFrame()
	c.mu.Unlock()
	c.present(seq, f)

	if err == nil && c.opts.OnAnswer != nil {
		c.opts.OnAnswer(text)
	}
	return err
}

// cancel returns a cycle whose region selection was abandoned to Idle.
func (c *Controller) cancel(cycle string) {
	c.mu.Lock()
	if c.state != AwaitingAnswer || c.cycle != cycle {
		c.mu.Unlock()
		return
	}
	log.Printf("session[%s]: selection cancelled", cycle)
	c.state = Idle
	c.shot = nil
	seq, f := c.nextFrame()
	c.mu.Unlock()
	c.present(seq, f)
}

// Reset returns to Idle from ShowingAnswer or Error and reports whether it did
// anything. In Idle and AwaitingAnswer it is a no-op.
func (c *Controller) Reset() bool {
	c.mu.Lock()
	if c.state != ShowingAnswer && c.state != Error {
		c.mu.Unlock()
		return false
	}
	log.Printf("session[%s]: reset from %s", c.cycle, c.state)
	c.state = Idle
	c.shot = nil
	c.answer = ""
	c.err = nil
	seq, f := c.nextFrame()
	c.mu.Unlock()
	c.present(seq, f)
	return true
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:         c.state,
		Answer:        c.answer,
		Err:           c.err,
		HasScreenshot: c.shot != nil,
		CycleID:       c.cycle,
	}
}

// nextFrame stamps the current state. Caller holds mu.
func (c *Controller) nextFrame() (uint64, overlay.Frame) {
	c.seq++
	return c.seq, c.frame()
}

// present shows f unless a newer frame was already shown.
func (c *Controller) present(seq uint64, f overlay.Frame) {
	c.showMu.Lock()
	defer c.showMu.Unlock()
	if seq <= c.shown {
		return
	}
	c.shown = seq
	if err := c.opts.Display.Show(f); err != nil {
		log.Printf("session: display error: %v", err)
	}
}

func (c *Controller) frame() overlay.Frame {
	switch c.state {
	case AwaitingAnswer:
		return overlay.Frame{Text: TextProcessing, Hint: c.opts.Hints.Busy, Tone: overlay.ToneBusy}
	case ShowingAnswer:
		return overlay.Frame{Text: c.answer, Hint: c.opts.Hints.Shown, Tone: overlay.ToneAnswer}
	case Error:
		return overlay.Frame{Text: ErrorText(c.err), Hint: c.opts.Hints.Shown, Tone: overlay.ToneError}
	default:
		return overlay.Frame{Text: TextIdle, Hint: c.opts.Hints.Idle, Tone: overlay.ToneIdle}
	}
}

// ErrorText is the overlay text for a failed cycle.
func ErrorText(err error) string {
	if err == nil {
		return errorPrefix + "unknown error"
	}
	return errorPrefix + err.Error()
}
