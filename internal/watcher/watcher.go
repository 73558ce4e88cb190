package watcher

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"filemirror/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultMaxWatches  = 100
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond

	// Raw events are buffered between the backend forwarder and the
	// dispatch loop.
	eventBufferSize = 16
	errorBufferSize = 4
)

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrWatcherClosed      = errors.New("watcher is closed")
)

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Watcher and starts its dispatch loop. Callbacks
// run on that single goroutine, one event at a time.
func NewWithOptions(options Options) (*Watcher, error) {
	backend, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	instance := &Watcher{
		watcher:    backend,
		callbacks:  make(map[string][]*registration),
		watches:    make(map[string]int),
		maxWatches: maxWatches,
		events:     make(chan fsnotify.Event, eventBufferSize),
		errors:     make(chan error, errorBufferSize),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("watcher"),
		registry:   options.Metrics,
		restarts: backoff{
			base:     restartBaseDelay,
			limit:    maxRestartAttempts,
			onGiveUp: options.ErrorHandler,
		},
	}

	instance.startForwarder(backend)
	go instance.run()
	return instance, nil
}

// Close stops event processing and releases the backend. Registrations
// are not invoked after Close returns, apart from a delivery already in
// progress on the dispatch goroutine.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	backend := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restarts.stop()
	close(watcher.done)
	if backend == nil {
		return nil
	}
	return backend.Close()
}

func (watcher *Watcher) run() {
	for {
		select {
		case raw := <-watcher.events:
			watcher.handleEvent(raw)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

// startForwarder copies one backend's channels into the dispatch loop. A
// restarted backend gets its own forwarder; the old one exits when its
// backend is closed.
func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}
	go func() {
		for {
			select {
			case raw, ok := <-source.Events:
				if !ok || !forwardTo(watcher.done, watcher.events, raw) {
					return
				}
			case err, ok := <-source.Errors:
				if !ok || !forwardTo(watcher.done, watcher.errors, err) {
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func forwardTo[T any](done <-chan struct{}, out chan<- T, value T) bool {
	select {
	case out <- value:
		return true
	case <-done:
		return false
	}
}

func (watcher *Watcher) handleEvent(raw fsnotify.Event) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	targets := watcher.registrationsForPathLocked(raw.Name)
	watcher.mutex.Unlock()
	if len(targets) == 0 {
		return
	}

	event := NewEvent(raw)
	if event.Kind == KindCreate {
		watcher.followCreatedDir(raw.Name, targets)
	}
	watcher.registry.IncWatcherEvent(event.Type())
	watcher.dispatch(targets, event)
}

func (watcher *Watcher) dispatch(targets []*registration, event Event) {
	for _, target := range targets {
		if target.deliver(event) {
			atomic.AddUint64(&watcher.eventsDelivered, 1)
		}
	}
}

func (watcher *Watcher) backend() *fsnotify.Watcher {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.watcher
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	watcher.logger.Warn(message, fields)
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if !watcher.logger.Enabled(logging.LevelDebug) {
		return
	}
	watcher.logger.Debug(message, map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	})
}

// SetErrorHandler replaces the callback for unrecoverable backend failures.
func (watcher *Watcher) SetErrorHandler(handler func(error)) {
	if watcher == nil {
		return
	}
	watcher.restarts.setGiveUp(handler)
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.watches)
	watcher.mutex.Unlock()
	attempts, _ := watcher.restarts.state()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: attempts,
	}
}
