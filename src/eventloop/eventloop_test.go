package eventloop

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/screenshot"
	"screen-quiz-llm/src/session"
	"screen-quiz-llm/src/singleinstance"
)

type stubSource struct{}

func (stubSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	return screenshot.Screenshot{Data: []byte("png"), MIMEType: "image/png", Source: "stub"}, nil
}

type stubAnswerer struct {
	text    string
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (a *stubAnswerer) Answer(ctx context.Context, shot screenshot.Screenshot) (string, error) {
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

type statusLog struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLog) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *statusLog) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newSession(t *testing.T, ans *stubAnswerer) *session.Controller {
	t.Helper()
	c, err := session.New(session.Options{Source: stubSource{}, Answerer: ans, Deadline: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func startLoop(t *testing.T, opts Options) (*Loop, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := New(opts)
	errc := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		errc <- l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return l, errc, cancel
}

func TestCaptureThenReset(t *testing.T) {
	ans := &stubAnswerer{text: "B"}
	sess := newSession(t, ans)
	status := &statusLog{}
	l, _, _ := startLoop(t, Options{Session: sess, OnStatus: status.add, Title: "Quiz"})

	l.Post(ActionCapture)
	waitFor(t, "answer", func() bool { return sess.State() == session.ShowingAnswer })
	waitFor(t, "answer status", func() bool { return status.last() == "Quiz: answer B" })

	l.Post(ActionReset)
	waitFor(t, "idle", func() bool { return sess.State() == session.Idle })
	waitFor(t, "idle status", func() bool { return status.last() == "Quiz: waiting" })
}

func TestOverlappingCaptureIsDropped(t *testing.T) {
	ans := &stubAnswerer{text: "A", release: make(chan struct{})}
	sess := newSession(t, ans)
	l, _, _ := startLoop(t, Options{Session: sess})

	l.Post(ActionCapture)
	waitFor(t, "awaiting", func() bool { return sess.State() == session.AwaitingAnswer })
	l.Post(ActionCapture)
	l.Post(ActionCapture)
	l.Post(ActionReset)

	close(ans.release)
	waitFor(t, "answer", func() bool { return sess.State() == session.ShowingAnswer })
	// Give the loop a moment to drain the queued actions.
	time.Sleep(50 * time.Millisecond)
	if n := ans.calls.Load(); n != 1 {
		t.Errorf("answerer called %d times, want 1", n)
	}
}

func TestWatchedFileTriggersCaptureOnlyWhenIdle(t *testing.T) {
	ans := &stubAnswerer{text: "C"}
	sess := newSession(t, ans)
	files := make(chan string, 2)
	startLoop(t, Options{Session: sess, Files: files})

	files <- "/shots/one.png"
	waitFor(t, "answer", func() bool { return sess.State() == session.ShowingAnswer })

	files <- "/shots/two.png"
	time.Sleep(50 * time.Millisecond)
	if n := ans.calls.Load(); n != 1 {
		t.Errorf("answerer called %d times, want 1 (second file must wait for reset)", n)
	}
	if sess.Snapshot().Answer != "C" {
		t.Errorf("answer replaced: %+v", sess.Snapshot())
	}
}

type pathSource struct {
	mu    sync.Mutex
	paths []string
}

func (s *pathSource) Capture(ctx context.Context) (screenshot.Screenshot, error) {
	path, _ := capture.FileFromContext(ctx)
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return screenshot.Screenshot{Data: []byte("png"), MIMEType: "image/png", Source: path}, nil
}

func TestWatchedFilePathReachesSource(t *testing.T) {
	src := &pathSource{}
	sess, err := session.New(session.Options{Source: src, Answerer: &stubAnswerer{text: "D"}, Deadline: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	files := make(chan string, 1)
	l, _, _ := startLoop(t, Options{Session: sess, Files: files})

	files <- "/shots/older-copy.png"
	waitFor(t, "answer", func() bool { return sess.State() == session.ShowingAnswer })

	l.Post(ActionReset)
	waitFor(t, "idle", func() bool { return sess.State() == session.Idle })
	l.Post(ActionCapture)
	waitFor(t, "second answer", func() bool { return sess.State() == session.ShowingAnswer })

	src.mu.Lock()
	defer src.mu.Unlock()
	want := []string{"/shots/older-copy.png", ""}
	if len(src.paths) != len(want) {
		t.Fatalf("paths = %q, want %q", src.paths, want)
	}
	for i := range want {
		if src.paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, src.paths[i], want[i])
		}
	}
}

func TestQuitAndForgetKeyStopTheLoop(t *testing.T) {
	t.Run("quit", func(t *testing.T) {
		l, errc, _ := startLoop(t, Options{Session: newSession(t, &stubAnswerer{})})
		l.Post(ActionQuit)
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
	})

	t.Run("forget key", func(t *testing.T) {
		var forgot atomic.Bool
		l, errc, _ := startLoop(t, Options{
			Session:     newSession(t, &stubAnswerer{}),
			OnForgetKey: func() error { forgot.Store(true); return nil },
		})
		l.Post(ActionForgetKey)
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
		if !forgot.Load() {
			t.Error("OnForgetKey not called")
		}
	})

	t.Run("cancel", func(t *testing.T) {
		_, errc, cancel := startLoop(t, Options{Session: newSession(t, &stubAnswerer{})})
		cancel()
		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	})
}

func TestForgetKeyFailureKeepsRunning(t *testing.T) {
	ans := &stubAnswerer{text: "D"}
	sess := newSession(t, ans)
	l, errc, _ := startLoop(t, Options{
		Session:     sess,
		OnForgetKey: func() error { return errors.New("read-only config dir") },
	})
	l.Post(ActionForgetKey)
	l.Post(ActionCapture)
	waitFor(t, "answer", func() bool { return sess.State() == session.ShowingAnswer })
	select {
	case err := <-errc:
		t.Fatalf("loop stopped unexpectedly: %v", err)
	default:
	}
}

func TestForwardedCommands(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := singleinstance.NewServer(port)
	if err := srv.Start(ctx); err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}
	defer srv.Close()

	sess := newSession(t, &stubAnswerer{text: "B"})
	startLoop(t, Options{Session: sess, Server: srv})
	client := singleinstance.NewClient(port)

	send := func(cmd string) (string, error) {
		t.Helper()
		delegated, text, err := client.Send(ctx, cmd)
		if !delegated {
			t.Fatalf("%s: not delegated", cmd)
		}
		return text, err
	}

	if text, err := send(singleinstance.CommandStatus); err != nil || text != "waiting" {
		t.Errorf("status = %q, %v", text, err)
	}
	if text, err := send(singleinstance.CommandCapture); err != nil || text != "B" {
		t.Errorf("capture = %q, %v", text, err)
	}
	if _, err := send(singleinstance.CommandCapture); err == nil || !strings.Contains(err.Error(), "reset") {
		t.Errorf("second capture err = %v, want reset required", err)
	}
	if text, err := send(singleinstance.CommandReset); err != nil || text != "reset" {
		t.Errorf("reset = %q, %v", text, err)
	}
	if text, err := send(singleinstance.CommandReset); err != nil || text != "nothing to reset" {
		t.Errorf("second reset = %q, %v", text, err)
	}
	if _, err := send("DANCE"); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		snap session.Snapshot
		want string
	}{
		{session.Snapshot{State: session.Idle}, "waiting"},
		{session.Snapshot{State: session.AwaitingAnswer}, "processing..."},
		{session.Snapshot{State: session.ShowingAnswer, Answer: "A C"}, "answer A C"},
		{session.Snapshot{State: session.Error, Err: errors.New("boom")}, "error boom"},
	}
	for _, tt := range tests {
		if got := describe(tt.snap); got != tt.want {
			t.Errorf("describe(%v) = %q, want %q", tt.snap.State, got, tt.want)
		}
	}
}
