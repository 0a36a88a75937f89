package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/overlay"
	"screen-quiz-llm/src/screenshot"
)

type fakeSource struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	s.calls.Add(1)
	if s.err != nil {
		return screenshot.Screenshot{}, &capture.CaptureError{Source: "fake", Err: s.err}
	}
	return screenshot.Screenshot{Data: []byte("png"), MIMEType: "image/png", Source: "fake", Width: 1, Height: 1}, nil
}

type fakeAnswerer struct {
	text string
	err  error
	// release, when set, blocks Answer until closed.
	release chan struct{}
	calls   atomic.Int32
}

func (a *fakeAnswerer) Answer(ctx context.Context, shot screenshot.Screenshot) (string, error) {
	a.calls.Add(1)
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return a.text, a.err
}

type recorder struct {
	mu     sync.Mutex
	frames []overlay.Frame
}

func (r *recorder) Show(f overlay.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Text
	}
	return out
}

func (r *recorder) last() overlay.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func newController(t *testing.T, src capture.Source, ans Answerer, disp overlay.Display) *Controller {
	t.Helper()
	c, err := New(Options{Source: src, Answerer: ans, Display: disp, Deadline: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func completionJSON(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-5",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(data)
}

func TestEndToEndWithStubEndpoint(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON("B")))
	}))
	defer srv.Close()

	req := answer.New(answer.Config{
		APIKey:     "sk-test-0123456789",
		BaseURL:    srv.URL + "/v1/",
		HTTPClient: answer.NewHTTPClient(false, 5*time.Second),
	})
	rec := &recorder{}
	c := newController(t, &fakeSource{}, req, rec)

	if c.State() != Idle {
		t.Fatalf("initial state = %s, want Idle", c.State())
	}
	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != ShowingAnswer || snap.Answer != "B" || !snap.HasScreenshot {
		t.Fatalf("unexpected snapshot after capture: %+v", snap)
	}
	if !c.Reset() {
		t.Fatal("Reset from ShowingAnswer should report true")
	}
	if c.State() != Idle {
		t.Fatalf("state after reset = %s, want Idle", c.State())
	}

	want := []string{TextIdle, TextProcessing, "B", TextIdle}
	if got := rec.texts(); !equal(got, want) {
		t.Errorf("frames = %q, want %q", got, want)
	}
	if hits.Load() != 1 {
		t.Errorf("expected exactly one request, got %d", hits.Load())
	}
	if snap := c.Snapshot(); snap.Answer != "" || snap.HasScreenshot || snap.Err != nil {
		t.Errorf("reset left data behind: %+v", snap)
	}
}

func TestMissingKeyEndsInAuthErrorWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	req := answer.New(answer.Config{BaseURL: srv.URL + "/v1/"})
	rec := &recorder{}
	c := newController(t, &fakeSource{}, req, rec)

	err := c.Capture(context.Background())
	var authErr *answer.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T %v", err, err)
	}
	if c.State() != Error {
		t.Errorf("state = %s, want Error", c.State())
	}
	if hits.Load() != 0 {
		t.Errorf("expected no network calls, got %d", hits.Load())
	}
	last := rec.last()
	if last.Tone != overlay.ToneError || last.Text != ErrorText(err) {
		t.Errorf("last frame = %+v", last)
	}
}

func TestCaptureFailureShowsError(t *testing.T) {
	src := &fakeSource{err: capture.ErrNoScreenshot}
	ans := &fakeAnswerer{text: "A"}
	rec := &recorder{}
	c := newController(t, src, ans, rec)

	err := c.Capture(context.Background())
	var capErr *capture.CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CaptureError, got %v", err)
	}
	if ans.calls.Load() != 0 {
		t.Error("answerer must not run when capture fails")
	}
	snap := c.Snapshot()
	if snap.State != Error || snap.HasScreenshot {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestResetIsNoOpInIdle(t *testing.T) {
	rec := &recorder{}
	c := newController(t, &fakeSource{}, &fakeAnswerer{text: "A"}, rec)
	before := len(rec.texts())
	if c.Reset() {
		t.Error("Reset in Idle should report false")
	}
	if c.State() != Idle {
		t.Errorf("state = %s, want Idle", c.State())
	}
	if len(rec.texts()) != before {
		t.Error("Reset in Idle must not redraw")
	}
}

func TestCaptureRejectedUntilReset(t *testing.T) {
	for _, tc := range []struct {
		name  string
		ans   *fakeAnswerer
		state State
	}{
		{"after answer", &fakeAnswerer{text: "C"}, ShowingAnswer},
		{"after error", &fakeAnswerer{err: &answer.ModelError{Reason: "empty answer"}}, Error},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{}
			c := newController(t, src, tc.ans, nil)
			_ = c.Capture(context.Background())
			if c.State() != tc.state {
				t.Fatalf("state = %s, want %s", c.State(), tc.state)
			}
			if err := c.Capture(context.Background()); !errors.Is(err, ErrResetRequired) {
				t.Errorf("second capture err = %v, want ErrResetRequired", err)
			}
			if src.calls.Load() != 1 {
				t.Errorf("rejected capture must not grab a screenshot, calls=%d", src.calls.Load())
			}
			c.Reset()
			tc.ans.err = nil
			if err := c.Capture(context.Background()); err != nil {
				t.Errorf("capture after reset: %v", err)
			}
		})
	}
}

func TestCaptureWhileAwaitingIsBusy(t *testing.T) {
	ans := &fakeAnswerer{text: "D", release: make(chan struct{})}
	c := newController(t, &fakeSource{}, ans, nil)

	done := make(chan error, 1)
	go func() { done <- c.Capture(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != AwaitingAnswer {
		if time.Now().After(deadline) {
			t.Fatal("controller never reached AwaitingAnswer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Capture(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("overlapping capture err = %v, want ErrBusy", err)
	}
	if c.Reset() {
		t.Error("Reset while awaiting should be a no-op")
	}

	close(ans.release)
	if err := <-done; err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if snap := c.Snapshot(); snap.State != ShowingAnswer || snap.Answer != "D" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestDeadlineEndsInError(t *testing.T) {
	ans := &fakeAnswerer{release: make(chan struct{})}
	c, err := New(Options{Source: &fakeSource{}, Answerer: ans, Deadline: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Capture(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if c.State() != Error {
		t.Errorf("state = %s, want Error", c.State())
	}
}

func TestOnAnswerRunsOnlyOnSuccess(t *testing.T) {
	var got []string
	ans := &fakeAnswerer{text: "A C"}
	c, err := New(Options{
		Source:   &fakeSource{},
		Answerer: ans,
		OnAnswer: func(text string) { got = append(got, text) },
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Capture(context.Background())
	c.Reset()
	ans.err = errors.New("boom")
	_ = c.Capture(context.Background())

	if len(got) != 1 || got[0] != "A C" {
		t.Errorf("OnAnswer calls = %q", got)
	}
}

func TestHintsFollowState(t *testing.T) {
	rec := &recorder{}
	c, err := New(Options{
		Source:   &fakeSource{},
		Answerer: &fakeAnswerer{text: "B"},
		Display:  rec,
		Hints:    Hints{Idle: "Alt+T capture", Busy: "working", Shown: "Alt+Enter reset"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Capture(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"Alt+T capture", "working", "Alt+Enter reset"}
	for i, f := range rec.frames {
		if f.Hint != want[i] {
			t.Errorf("frame %d hint = %q, want %q", i, f.Hint, want[i])
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Answerer: &fakeAnswerer{}}); err == nil {
		t.Error("expected error without Source")
	}
	if _, err := New(Options{Source: &fakeSource{}}); err == nil {
		t.Error("expected error without Answerer")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle:           "Idle",
		AwaitingAnswer: "AwaitingAnswer",
		ShowingAnswer:  "ShowingAnswer",
		Error:          "Error",
		State(9):       "State(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

type panicSource struct{}

func (panicSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	panic("source exploded")
}

type panicAnswerer struct{}

func (panicAnswerer) Answer(ctx context.Context, shot screenshot.Screenshot) (string, error) {
	panic("answerer exploded")
}

func TestPanicEndsCycleInError(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  capture.Source
		ans  Answerer
	}{
		{"source", panicSource{}, &fakeAnswerer{text: "A"}},
		{"answerer", &fakeSource{}, panicAnswerer{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			c := newController(t, tc.src, tc.ans, rec)

			err := c.Capture(context.Background())
			if err == nil || !strings.Contains(err.Error(), "panicked") {
				t.Fatalf("err = %v, want panic error", err)
			}
			if c.State() != Error {
				t.Fatalf("state = %s, want Error", c.State())
			}
			if last := rec.last(); last.Tone != overlay.ToneError {
				t.Errorf("last frame = %+v, want error tone", last)
			}
			if !c.Reset() {
				t.Fatal("Reset after a panic should report true")
			}

			c.opts.Source = &fakeSource{}
			c.opts.Answerer = &fakeAnswerer{text: "B"}
			if err := c.Capture(context.Background()); err != nil {
				t.Fatalf("capture after reset: %v", err)
			}
			if snap := c.Snapshot(); snap.State != ShowingAnswer || snap.Answer != "B" {
				t.Errorf("unexpected snapshot: %+v", snap)
			}
		})
	}
}

// blockingDisplay stalls while the processing frame is drawn.
type blockingDisplay struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *blockingDisplay) Show(f overlay.Frame) error {
	if f.Text == TextProcessing {
		d.once.Do(func() { close(d.entered) })
		<-d.release
	}
	return nil
}

func TestSlowDisplayDoesNotBlockQueries(t *testing.T) {
	disp := &blockingDisplay{entered: make(chan struct{}), release: make(chan struct{})}
	c := newController(t, &fakeSource{}, &fakeAnswerer{text: "C"}, disp)

	done := make(chan error, 1)
	go func() { done <- c.Capture(context.Background()) }()

	select {
	case <-disp.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("display never received the processing frame")
	}

	snapc := make(chan Snapshot, 1)
	go func() { snapc <- c.Snapshot() }()
	select {
	case snap := <-snapc:
		if snap.State != AwaitingAnswer {
			t.Errorf("state = %s, want AwaitingAnswer", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind the display")
	}
	if c.Reset() {
		t.Error("Reset while awaiting should be a no-op")
	}

	close(disp.release)
	if err := <-done; err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if c.State() != ShowingAnswer {
		t.Errorf("state = %s, want ShowingAnswer", c.State())
	}
}

func TestFramesShownInOrder(t *testing.T) {
	rec := &recorder{}
	c := newController(t, &fakeSource{}, &fakeAnswerer{text: "A"}, rec)
	for i := 0; i < 3; i++ {
		if err := c.Capture(context.Background()); err != nil {
			t.Fatal(err)
		}
		c.Reset()
	}
	want := []string{TextIdle}
	for i := 0; i < 3; i++ {
		want = append(want, TextProcessing, "A", TextIdle)
	}
	if got := rec.texts(); !equal(got, want) {
		t.Errorf("frames = %q, want %q", got, want)
	}
}

func TestCancelledSelectionReturnsToIdle(t *testing.T) {
	src := &fakeSource{err: capture.ErrCancelled}
	ans := &fakeAnswerer{text: "A"}
	rec := &recorder{}
	c := newController(t, src, ans, rec)

	err := c.Capture(context.Background())
	if !errors.Is(err, capture.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if ans.calls.Load() != 0 {
		t.Error("answerer must not run after a cancelled selection")
	}
	snap := c.Snapshot()
	if snap.State != Idle || snap.Err != nil || snap.HasScreenshot {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if got := rec.last().Text; got != TextIdle {
		t.Errorf("last frame = %q, want %q", got, TextIdle)
	}
	if c.Reset() {
		t.Error("Reset after a cancelled selection should be a no-op")
	}

	src.err = nil
	if err := c.Capture(context.Background()); err != nil {
		t.Errorf("capture after cancel: %v", err)
	}
}
