// Package channel exposes the classified notification stream of a path as
// a pull-based receiver.
package channel

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"filemirror/internal/buffer"
	"filemirror/internal/logging"
	"filemirror/internal/metrics"
	"filemirror/internal/watcher"
)

// Options controls a subscription.
type Options struct {
	// Watch shares an existing notification backend. When nil the
	// subscription creates a private watcher and closes it on Close.
	Watch   watcher.Watch
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Subscription owns the watch registration backing a Receiver.
type Subscription struct {
	path    string
	handle  watcher.Handle
	owned   *watcher.Watcher
	queue   *buffer.Queue[watcher.Event]
	logger  *logging.Logger
	metrics *metrics.Registry

	closeOnce sync.Once
	closeErr  error
}

// Receiver yields events in the order the backend delivered them.
type Receiver struct {
	queue *buffer.Queue[watcher.Event]
}

// Subscribe starts watching path and returns the owning subscription with
// its receiver. A directory is watched recursively.
func Subscribe(path string, opts Options) (*Subscription, *Receiver, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, &WatchSetupError{Path: path, Err: err}
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, nil, &WatchSetupError{Path: absPath, Err: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	logger = logger.WithComponent("channel").With(map[string]string{"path": absPath})

	watch := opts.Watch
	var owned *watcher.Watcher
	if watch == nil {
		owned, err = watcher.NewWithOptions(watcher.Options{
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		})
		if err != nil {
			return nil, nil, &WatchSetupError{Path: absPath, Err: err}
		}
		watch = owned
	}

	queue := buffer.NewQueue[watcher.Event]()
	registry := opts.Metrics
	handle, err := watch.Watch(absPath, info.IsDir(), func(event watcher.Event) {
		if queue.Push(event) {
			registry.IncChannelQueued()
		}
	})
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, nil, &WatchSetupError{Path: absPath, Err: err}
	}

	registry.AddChannelSubscriptions(1)
	logger.Info("subscribed", map[string]string{
		"recursive": strconv.FormatBool(info.IsDir()),
	})

	subscription := &Subscription{
		path:    absPath,
		handle:  handle,
		owned:   owned,
		queue:   queue,
		logger:  logger,
		metrics: registry,
	}
	return subscription, &Receiver{queue: queue}, nil
}

// Path returns the absolute watched path.
func (s *Subscription) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close deregisters the watch and ends the stream. Events already buffered
// stay readable from the receiver. Close is idempotent.
func (s *Subscription) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.handle.Close(); err != nil {
			errs = append(errs, err)
		}
		s.queue.Close()
		if s.owned != nil {
			if err := s.owned.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.metrics.AddChannelSubscriptions(-1)
		s.closeErr = errors.Join(errs...)
		s.logger.Info("subscription closed", nil)
	})
	return s.closeErr
}

// Next blocks until an event is available. It returns ErrChannelClosed once
// the subscription is closed and drained, or the context error when ctx is
// done first.
func (r *Receiver) Next(ctx context.Context) (watcher.Event, error) {
	if r == nil {
		return watcher.Event{}, ErrChannelClosed
	}
	event, err := r.queue.Pop(ctx)
	if errors.Is(err, buffer.ErrQueueClosed) {
		return watcher.Event{}, ErrChannelClosed
	}
	return event, err
}

// Events ranges over the stream until it ends or ctx is done.
func (r *Receiver) Events(ctx context.Context) iter.Seq[watcher.Event] {
	return func(yield func(watcher.Event) bool) {
		for {
			event, err := r.Next(ctx)
			if err != nil {
				return
			}
			if !yield(event) {
				return
			}
		}
	}
}

// Len reports the number of buffered events.
func (r *Receiver) Len() int {
	if r == nil {
		return 0
	}
	return r.queue.Len()
}
