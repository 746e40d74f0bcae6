// Package watcher wraps fsnotify for the client sync engine's filesystem
// observer: add/change/delete events debounced per path, suppressible
// per name while a download is in-flight, and globally pausable.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType classifies a watcher event.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventDelete EventType = "delete"
)

// Event is one debounced, non-ignored filesystem change.
type Event struct {
	Type     EventType
	Path     string
	FileName string
}

// debounceWindow is the per-path debounce before an event is delivered.
const debounceWindow = 500 * time.Millisecond

// Watcher wraps *fsnotify.Watcher with debouncing, ignore suppression, and
// a global pause.
type Watcher struct {
	inner *fsnotify.Watcher
	root  string

	events chan Event
	errors chan error

	mu       sync.Mutex
	ignored  map[string]bool
	paused   bool
	timers   map[string]*time.Timer
	pending  map[string]EventType
}

// New creates a Watcher rooted at root and begins watching it.
func New(root string) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := inner.Add(root); err != nil {
		inner.Close()
		return nil, err
	}

	w := &Watcher{
		inner:   inner,
		root:    root,
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		ignored: make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]EventType),
	}
	go w.loop()
	return w, nil
}

// Events returns the channel of debounced, non-suppressed events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of underlying fsnotify errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops watching.
func (w *Watcher) Close() error { return w.inner.Close() }

// Pause globally suspends event delivery (e.g. while the reconciler runs a
// tick that would otherwise echo its own writes).
func (w *Watcher) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume lifts a global pause.
func (w *Watcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

// IgnoreFile suppresses events for fileName, used while a download for that
// name is in flight so the write-back doesn't echo as a local change.
func (w *Watcher) IgnoreFile(fileName string) {
	w.mu.Lock()
	w.ignored[fileName] = true
	w.mu.Unlock()
}

// UnignoreFile lifts a per-file suppression.
func (w *Watcher) UnignoreFile(fileName string) {
	w.mu.Lock()
	delete(w.ignored, fileName)
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	fileName := filepath.Base(ev.Name)

	var evType EventType
	switch {
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		evType = EventDelete
	case ev.Op&fsnotify.Create != 0:
		evType = EventAdd
	case ev.Op&fsnotify.Write != 0:
		evType = EventChange
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused || w.ignored[fileName] {
		return
	}

	w.pending[ev.Name] = evType
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.timers[ev.Name] = time.AfterFunc(debounceWindow, func() {
		w.fire(path)
	})
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	evType, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	paused := w.paused
	ignored := w.ignored[filepath.Base(path)]
	w.mu.Unlock()

	if !ok || paused || ignored {
		return
	}

	select {
	case w.events <- Event{Type: evType, Path: path, FileName: filepath.Base(path)}:
	default:
	}
}
