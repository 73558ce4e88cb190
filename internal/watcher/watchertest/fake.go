// Package watchertest provides a scripted watcher.Watch for tests that need
// deterministic event delivery.
package watchertest

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"filemirror/internal/watcher"
)

// Registration records one call to Fake.Watch.
type Registration struct {
	Path      string
	Recursive bool

	fake     *Fake
	callback func(watcher.Event)
	mu       sync.RWMutex
	closed   bool
}

// Close stops delivery. Like the real watcher it waits for an in-flight
// callback to return.
func (r *Registration) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.fake.remove(r)
	return nil
}

// Closed reports whether the registration was released.
func (r *Registration) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registration) deliver(event watcher.Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.callback(event)
	return true
}

// Fake is a watcher.Watch whose events are injected by the test. Emit
// calls are serialized, matching the real dispatch goroutine.
type Fake struct {
	// WatchErr, when set, is returned by every Watch call.
	WatchErr error

	mu            sync.Mutex
	dispatch      sync.Mutex
	registrations []*Registration
	history       []*Registration
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) Watch(path string, recursive bool, callback func(watcher.Event)) (watcher.Handle, error) {
	if f.WatchErr != nil {
		return nil, f.WatchErr
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	registration := &Registration{
		Path:      filepath.Clean(path),
		Recursive: recursive,
		fake:      f,
		callback:  callback,
	}
	f.mu.Lock()
	f.registrations = append(f.registrations, registration)
	f.history = append(f.history, registration)
	f.mu.Unlock()
	return registration, nil
}

// Emit delivers event to every open registration and returns how many
// callbacks ran.
func (f *Fake) Emit(event watcher.Event) int {
	f.dispatch.Lock()
	defer f.dispatch.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	f.mu.Lock()
	targets := append([]*Registration(nil), f.registrations...)
	f.mu.Unlock()

	delivered := 0
	for _, target := range targets {
		if target.deliver(event) {
			delivered++
		}
	}
	return delivered
}

// Data emits a content modification for path.
func (f *Fake) Data(path string) int {
	return f.Emit(watcher.Event{Kind: watcher.KindModify, Modify: watcher.ModifyData, Path: path})
}

// Metadata emits a metadata-only modification for path.
func (f *Fake) Metadata(path string) int {
	return f.Emit(watcher.Event{Kind: watcher.KindModify, Modify: watcher.ModifyMetadata, Path: path})
}

// Error emits a backend error.
func (f *Fake) Error(err error) int {
	return f.Emit(watcher.NewErrorEvent(err))
}

// Registrations returns every registration ever made, open or closed.
func (f *Fake) Registrations() []*Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Registration(nil), f.history...)
}

// Active reports the number of open registrations.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registrations)
}

func (f *Fake) remove(target *Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for index, candidate := range f.registrations {
		if candidate == target {
			f.registrations = append(f.registrations[:index], f.registrations[index+1:]...)
			return
		}
	}
}
