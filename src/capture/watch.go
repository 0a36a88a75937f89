package capture

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultSettle = 400 * time.Millisecond

// Watcher reports image files that appear in a directory. Bursts of events
// (create followed by several writes) are coalesced; a path is reported
// once no further events arrived for the settle period.
type Watcher struct {
	dir    string
	settle time.Duration
	fw     *fsnotify.Watcher
	events chan string
}

func NewWatcher(dir string, settle time.Duration) (*Watcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:    dir,
		settle: settle,
		fw:     fw,
		events: make(chan string, 1),
	}, nil
}

// Events delivers settled image paths. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan string { return w.events }

// Start runs the watch loop until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watcher) Close() error { return w.fw.Close() }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var pending string

	for {
		select {
		case <-ctx.Done():
			_ = w.fw.Close()
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !IsImageFile(ev.Name) {
				continue
			}
			pending = ev.Name
			timer.Reset(w.settle)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %s: %v", w.dir, err)
		case <-timer.C:
			if pending == "" {
				continue
			}
			select {
			case w.events <- pending:
				log.Printf("watcher: new screenshot %s", pending)
			default:
				log.Printf("watcher: consumer busy, dropping %s", pending)
			}
			pending = ""
		}
	}
}
