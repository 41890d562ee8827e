// Package watch triggers re-runs when files under the watched directories
// change. Events are debounced so editor save bursts coalesce into one
// trigger.
package watch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Trigger describes one coalesced change.
type Trigger struct {
	Files []string // absolute paths, deduplicated
}

// Watcher monitors directories for Go source changes using fsnotify.
type Watcher struct {
	Dirs     []string
	Triggers <-chan Trigger // read-only external channel

	triggers chan Trigger
	done     chan struct{}
	watcher  *fsnotify.Watcher
}

// New creates a watcher over the given directories.
func New(dirs []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan Trigger, 4)
	return &Watcher{
		Dirs:     dirs,
		Triggers: ch,
		triggers: ch,
		done:     make(chan struct{}),
		watcher:  fw,
	}, nil
}

// Start begins watching and launches the debounce loop.
func (w *Watcher) Start() error {
	for _, dir := range w.Dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and channels.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // wait for loop to exit
	close(w.triggers)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: track last event time per file, flush on a short tick.
	const debounce = 200 * time.Millisecond
	pending := map[string]time.Time{}
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				w.flush(pending)
				return
			}
			if !relevant(ev) {
				continue
			}
			pending[ev.Name] = time.Now()
		case <-ticker.C:
			cutoff := time.Now().Add(-debounce)
			ready := map[string]time.Time{}
			for f, at := range pending {
				if at.Before(cutoff) {
					ready[f] = at
					delete(pending, f)
				}
			}
			w.flush(ready)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) flush(pending map[string]time.Time) {
	if len(pending) == 0 {
		return
	}
	t := Trigger{}
	for f := range pending {
		t.Files = append(t.Files, f)
	}
	select {
	case w.triggers <- t:
	default: // a trigger is already queued; the re-run will pick changes up
	}
}

// relevant filters for Go source writes, ignoring editor temp files.
func relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return strings.HasSuffix(base, ".go") || base == "harness.toml"
}
