package eventloop

import (
	"context"
	"fmt"
	"log"

	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/session"
	"screen-quiz-llm/src/singleinstance"
	"screen-quiz-llm/src/worker"
)

// Action is a user request coming from a hotkey or the tray menu.
type Action int

const (
	ActionCapture Action = iota
	ActionReset
	ActionForgetKey
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionCapture:
		return "capture"
	case ActionReset:
		return "reset"
	case ActionForgetKey:
		return "forget-key"
	case ActionQuit:
		return "quit"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Session is the part of *session.Controller the loop drives.
type Session interface {
	Capture(ctx context.Context) error
	Reset() bool
	State() session.State
	Snapshot() session.Snapshot
}

type Options struct {
	Session Session
	// Files carries settled screenshot paths in watch mode; nil otherwise.
	Files <-chan string
	// Server, when set, accepts commands forwarded by later launches.
	Server singleinstance.Server
	// OnForgetKey deletes the saved key; the loop exits afterwards.
	OnForgetKey func() error
	// OnStatus receives a one-line status after every change (tray tooltip).
	OnStatus func(string)
	Title    string
}

// Loop is the single-threaded coordinator for hotkey, tray, watcher and
// forwarded requests. Only Run's goroutine touches busy.
type Loop struct {
	opts    Options
	pool    *worker.Pool
	actions chan Action
	results chan result
	done    chan struct{}
	busy    bool
}

type result struct {
	err  error
	conn singleinstance.Conn
}

func New(opts Options) *Loop {
	if opts.Title == "" {
		opts.Title = "Screen Quiz"
	}
	return &Loop{
		opts:    opts,
		pool:    worker.New(1),
		actions: make(chan Action, 8),
		results: make(chan result, 1),
		done:    make(chan struct{}),
	}
}

// Post queues an action without blocking. Extra presses beyond the buffer
// are dropped.
func (l *Loop) Post(a Action) {
	select {
	case l.actions <- a:
	default:
		log.Printf("eventloop: dropping %s, queue full", a)
	}
}

// Run processes events until ctx is cancelled, Quit is posted, or the saved
// key is forgotten. It returns nil for the latter two.
func (l *Loop) Run(ctx context.Context) error {
	defer l.pool.Close()
	defer close(l.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var conns <-chan singleinstance.Conn
	if l.opts.Server != nil {
		conns = l.accept(ctx)
	}
	files := l.opts.Files

	l.status()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-l.actions:
			if stop := l.handleAction(ctx, a); stop {
				return nil
			}
		case path, ok := <-files:
			if !ok {
				files = nil
				continue
			}
			l.handleFile(ctx, path)
		case conn, ok := <-conns:
			if !ok {
				conns = nil
				continue
			}
			l.handleConn(ctx, conn)
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

func (l *Loop) accept(ctx context.Context) <-chan singleinstance.Conn {
	ch := make(chan singleinstance.Conn, 4)
	go func() {
		defer close(ch)
		for {
			conn, err := l.opts.Server.Next(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- conn:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()
	return ch
}

func (l *Loop) handleAction(ctx context.Context, a Action) bool {
	log.Printf("eventloop: %s", a)
	switch a {
	case ActionCapture:
		_ = l.startCapture(ctx, nil)
	case ActionReset:
		l.reset()
	case ActionForgetKey:
		if l.opts.OnForgetKey != nil {
			if err := l.opts.OnForgetKey(); err != nil {
				log.Printf("eventloop: forget key failed: %v", err)
				return false
			}
		}
		log.Printf("eventloop: saved API key removed, exiting")
		return true
	case ActionQuit:
		return true
	}
	return false
}

// handleFile auto-captures a freshly saved screenshot, but only from Idle so
// a shown answer is never replaced behind the user's back.
func (l *Loop) handleFile(ctx context.Context, path string) {
	if l.busy || l.opts.Session.State() != session.Idle {
		log.Printf("eventloop: ignoring new file %s, session not idle", path)
		return
	}
	log.Printf("eventloop: new screenshot %s", path)
	_ = l.startCapture(capture.WithFile(ctx, path), nil)
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	switch cmd := conn.Request().Command; cmd {
	case singleinstance.CommandCapture:
		if err := l.startCapture(ctx, conn); err != nil {
			_ = conn.RespondError(err.Error())
			_ = conn.Close()
		}
	case singleinstance.CommandReset:
		if l.reset() {
			_ = conn.RespondSuccess("reset")
		} else {
			_ = conn.RespondSuccess("nothing to reset")
		}
		_ = conn.Close()
	case singleinstance.CommandStatus:
		_ = conn.RespondSuccess(describe(l.opts.Session.Snapshot()))
		_ = conn.Close()
	default:
		_ = conn.RespondError(fmt.Sprintf("unknown command %q", cmd))
		_ = conn.Close()
	}
}

// startCapture submits one cycle. conn, when set, gets the outcome and is
// closed by handleResult.
func (l *Loop) startCapture(ctx context.Context, conn singleinstance.Conn) error {
	if l.busy {
		log.Printf("eventloop: busy, skipping capture")
		return session.ErrBusy
	}
	if st := l.opts.Session.State(); st != session.Idle {
		log.Printf("eventloop: capture ignored in %s", st)
		if st == session.AwaitingAnswer {
			return session.ErrBusy
		}
		return session.ErrResetRequired
	}

	l.setBusy(true)
	submitted := l.pool.Submit(ctx, l.opts.Session.Capture, func(err error) {
		select {
		case l.results <- result{err: err, conn: conn}:
		case <-l.done:
			if conn != nil {
				_ = conn.Close()
			}
		}
	})
	if !submitted {
		l.setBusy(false)
		return session.ErrBusy
	}
	return nil
}

func (l *Loop) handleResult(res result) {
	l.setBusy(false)
	if res.err != nil {
		log.Printf("eventloop: cycle ended with error: %v", res.err)
	}
	if res.conn == nil {
		return
	}
	defer res.conn.Close()
	if res.err != nil {
		_ = res.conn.RespondError(res.err.Error())
		return
	}
	_ = res.conn.RespondSuccess(l.opts.Session.Snapshot().Answer)
}

func (l *Loop) reset() bool {
	did := l.opts.Session.Reset()
	if !did {
		log.Printf("eventloop: reset ignored in %s", l.opts.Session.State())
	}
	l.status()
	return did
}

func (l *Loop) setBusy(b bool) {
	l.busy = b
	l.status()
}

func (l *Loop) status() {
	if l.opts.OnStatus == nil {
		return
	}
	snap := l.opts.Session.Snapshot()
	if l.busy {
		snap.State = session.AwaitingAnswer
	}
	l.opts.OnStatus(l.opts.Title + ": " + describe(snap))
}

// describe renders a snapshot as one short line.
func describe(s session.Snapshot) string {
	switch s.State {
	case session.Idle:
		return "waiting"
	case session.AwaitingAnswer:
		return "processing..."
	case session.ShowingAnswer:
		return "answer " + s.Answer
	case session.Error:
		var msg string
		if s.Err != nil {
			msg = s.Err.Error()
		}
		return "error " + msg
	default:
		return s.State.String()
	}
}
