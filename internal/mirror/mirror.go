// Package mirror keeps an in-memory copy of a text file synchronized with
// the file on disk.
//
// The notification callback only queues events. A single consumer goroutine
// re-reads the file on data changes and publishes a fresh immutable Snapshot
// into the Slot, where any number of readers pick it up without locking.
package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"filemirror/internal/buffer"
	"filemirror/internal/event"
	"filemirror/internal/logging"
	"filemirror/internal/metrics"
	"filemirror/internal/watcher"

	"golang.org/x/time/rate"
)

const DefaultFailureLogInterval = 5 * time.Second

// Options controls a mirror.
type Options struct {
	// Watch shares an existing notification backend. When nil the mirror
	// creates a private watcher and closes it on Close.
	Watch watcher.Watch
	// ReadFile reads the whole file. Defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Bus      *event.Bus[event.MirrorEvent]
	// FailureLogInterval limits how often re-read failures are logged at
	// warning level.
	FailureLogInterval time.Duration
}

// Stats reports mirror counters.
type Stats struct {
	EventsObserved uint64
	Rereads        uint64
	RereadFailures uint64
	Published      uint64
}

// Mirror owns the watch registration and consumer goroutine feeding a Slot.
type Mirror struct {
	path     string
	slot     *Slot
	handle   watcher.Handle
	owned    *watcher.Watcher
	queue    *buffer.Queue[watcher.Event]
	readFile func(string) ([]byte, error)
	logger   *logging.Logger
	metrics  *metrics.Registry
	bus      *event.Bus[event.MirrorEvent]
	limiter  *rate.Limiter
	done     chan struct{}
	closing  atomic.Bool

	eventsObserved atomic.Uint64
	rereads        atomic.Uint64
	rereadFailures atomic.Uint64
	published      atomic.Uint64

	errMutex sync.Mutex
	lastErr  *TransientReReadError

	closeOnce sync.Once
	closeErr  error
}

// Open registers a watch on path, reads it, publishes the initial snapshot
// and starts following changes. The returned Slot is also available as
// Mirror.Slot.
//
// The watch is in place before the initial read, so a write landing while
// the file is being read is still queued and reconciled afterwards.
func Open(path string, opts Options) (*Mirror, *Slot, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, &InitialReadError{Path: path, Err: err}
	}

	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	interval := opts.FailureLogInterval
	if interval <= 0 {
		interval = DefaultFailureLogInterval
	}

	mirror := &Mirror{
		path:     absPath,
		queue:    buffer.NewQueue[watcher.Event](),
		readFile: readFile,
		logger:   logger.WithComponent("mirror").With(map[string]string{"path": absPath}),
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		done:     make(chan struct{}),
	}

	watch := opts.Watch
	if watch == nil {
		mirror.owned, err = watcher.NewWithOptions(watcher.Options{
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		})
		if err != nil {
			return nil, nil, &WatchSetupError{Path: absPath, Err: err}
		}
		watch = mirror.owned
	}

	mirror.handle, err = watch.Watch(absPath, false, func(event watcher.Event) {
		mirror.queue.Push(event)
	})
	if err != nil {
		mirror.releaseWatch()
		// A missing or unreadable file is reported as a read failure.
		if _, readErr := readText(readFile, absPath); readErr != nil {
			return nil, nil, &InitialReadError{Path: absPath, Err: readErr}
		}
		return nil, nil, &WatchSetupError{Path: absPath, Err: err}
	}

	content, err := readText(readFile, absPath)
	if err != nil {
		mirror.releaseWatch()
		return nil, nil, &InitialReadError{Path: absPath, Err: err}
	}
	mirror.slot = newSlot(newSnapshot(content, 1))

	mirror.metrics.RecordSnapshotPublished(absPath, len(content))
	mirror.published.Add(1)
	mirror.notify(event.MirrorSnapshotPublished, watcher.Event{}, mirror.slot.Read(), nil)
	mirror.logger.Info("mirror opened", map[string]string{
		"size": strconv.Itoa(len(content)),
	})

	go mirror.run()
	return mirror, mirror.slot, nil
}

// releaseWatch undoes a partially completed Open.
func (m *Mirror) releaseWatch() {
	if m.handle != nil {
		_ = m.handle.Close()
	}
	m.queue.Close()
	m.queue.Discard()
	if m.owned != nil {
		_ = m.owned.Close()
	}
}

func (m *Mirror) Path() string {
	return m.path
}

func (m *Mirror) Slot() *Slot {
	return m.slot
}

// LastError returns the most recent re-read failure, or nil.
func (m *Mirror) LastError() error {
	m.errMutex.Lock()
	defer m.errMutex.Unlock()
	if m.lastErr == nil {
		return nil
	}
	return m.lastErr
}

func (m *Mirror) Stats() Stats {
	return Stats{
		EventsObserved: m.eventsObserved.Load(),
		Rereads:        m.rereads.Load(),
		RereadFailures: m.rereadFailures.Load(),
		Published:      m.published.Load(),
	}
}

// Close stops following the file. Events still queued are discarded, so
// the slot no longer changes once Close returns. Close is idempotent.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		var errs []error
		if err := m.handle.Close(); err != nil {
			errs = append(errs, err)
		}
		m.closing.Store(true)
		m.queue.Close()
		discarded := m.queue.Discard()
		<-m.done

		if m.owned != nil {
			if err := m.owned.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		m.metrics.ForgetSnapshot(m.path)
		m.notify(event.MirrorClosed, watcher.Event{}, m.slot.Read(), nil)
		m.logger.Info("mirror closed", map[string]string{
			"discarded": strconv.Itoa(discarded),
			"version":   strconv.FormatUint(m.slot.Version(), 10),
		})
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

func (m *Mirror) run() {
	defer close(m.done)
	for {
		notification, err := m.queue.Pop(context.Background())
		if err != nil {
			return
		}
		if m.closing.Load() {
			continue
		}
		m.process(notification)
	}
}

func (m *Mirror) process(notification watcher.Event) {
	m.eventsObserved.Add(1)
	m.metrics.IncMirrorEvent(notification.Type())

	switch {
	case notification.IsDataChange():
		m.reread(notification)
	case notification.Kind == watcher.KindError:
		m.logger.Warn("notification error", map[string]string{
			"error": errorString(notification.Err),
		})
		m.notify(event.MirrorNotifyError, notification, nil, notification.Err)
	default:
		m.logger.Debug("event observed", map[string]string{
			"event": notification.Type(),
		})
		m.notify(event.MirrorEventObserved, notification, nil, nil)
	}
}

// reread replaces the snapshot with the current file content. Any number of
// data events per write is fine: each re-read reconciles with the file as
// it is now.
func (m *Mirror) reread(trigger watcher.Event) {
	m.rereads.Add(1)
	m.metrics.IncMirrorReread()

	content, err := readText(m.readFile, m.path)
	if err != nil {
		m.recordFailure(&TransientReReadError{Path: m.path, Err: err, Event: trigger})
		return
	}

	snapshot := newSnapshot(content, m.slot.Version()+1)
	m.slot.publish(snapshot)
	m.published.Add(1)
	m.metrics.RecordSnapshotPublished(m.path, snapshot.Len())
	m.logger.Info("content re-read", map[string]string{
		"event":   trigger.Type(),
		"size":    strconv.Itoa(snapshot.Len()),
		"version": strconv.FormatUint(snapshot.Version(), 10),
	})
	m.notify(event.MirrorSnapshotPublished, trigger, snapshot, nil)
}

func (m *Mirror) recordFailure(failure *TransientReReadError) {
	m.rereadFailures.Add(1)
	m.metrics.IncMirrorRereadFailure()

	m.errMutex.Lock()
	m.lastErr = failure
	m.errMutex.Unlock()

	fields := map[string]string{
		"event": failure.Event.Type(),
		"error": failure.Err.Error(),
	}
	if m.limiter.Allow() {
		m.logger.Warn("re-read failed, keeping last snapshot", fields)
	} else {
		m.logger.Debug("re-read failed, keeping last snapshot", fields)
	}
	m.notify(event.MirrorRereadFailed, failure.Event, nil, failure)
}

func (m *Mirror) notify(eventType string, trigger watcher.Event, snapshot *Snapshot, err error) {
	if m.bus == nil {
		return
	}
	notification := event.NewMirrorEvent(eventType, m.path)
	if trigger.Kind != 0 {
		notification.Trigger = trigger.Type()
	}
	if snapshot == nil {
		snapshot = m.slot.Read()
	}
	notification.Version = snapshot.Version()
	notification.Size = snapshot.Len()
	if err != nil {
		notification.Error = err.Error()
	}
	m.bus.Publish(notification)
}

func readText(readFile func(string) ([]byte, error), path string) (string, error) {
	data, err := readFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
