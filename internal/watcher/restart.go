package watcher

import (
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// backoff paces backend restarts: one pending restart at a time, delays
// doubling from base, and onGiveUp once limit consecutive attempts failed.
type backoff struct {
	mu       sync.Mutex
	base     time.Duration
	limit    int
	attempts int
	timer    *time.Timer
	stopped  bool
	onGiveUp func(error)
}

func (b *backoff) delay(attempt int) time.Duration {
	return b.base << attempt
}

// schedule arms fire after the next delay. Nothing happens while a restart
// is already pending or after stop.
func (b *backoff) schedule(err error, fire func()) {
	b.mu.Lock()
	if b.stopped || b.timer != nil {
		b.mu.Unlock()
		return
	}
	if b.attempts >= b.limit {
		giveUp := b.onGiveUp
		b.mu.Unlock()
		if giveUp != nil {
			giveUp(err)
		}
		return
	}
	wait := b.delay(b.attempts)
	b.attempts++
	b.timer = time.AfterFunc(wait, fire)
	b.mu.Unlock()
}

// finish clears the pending timer. A successful restart resets the count.
func (b *backoff) finish(succeeded bool) {
	b.mu.Lock()
	b.timer = nil
	if succeeded {
		b.attempts = 0
	}
	b.mu.Unlock()
}

func (b *backoff) stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

func (b *backoff) setGiveUp(handler func(error)) {
	b.mu.Lock()
	b.onGiveUp = handler
	b.mu.Unlock()
}

func (b *backoff) state() (attempts int, pending bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts, b.timer != nil
}

// handleError forwards a backend error to every registration and schedules
// a backend restart. Errors never stop the dispatch loop.
func (watcher *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.registry.IncWatcherError()
	watcher.logWarn("watcher error", map[string]string{
		"error": err.Error(),
	})

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	targets := watcher.allRegistrationsLocked()
	watcher.mutex.Unlock()

	event := NewErrorEvent(err)
	watcher.registry.IncWatcherEvent(event.Type())
	watcher.dispatch(targets, event)
	watcher.restarts.schedule(err, watcher.performRestart)
}

func (watcher *Watcher) performRestart() {
	watcher.registry.IncWatcherRestart()
	err := watcher.restart()
	watcher.restarts.finish(err == nil)
	if err == nil {
		return
	}
	attempts, _ := watcher.restarts.state()
	watcher.logWarn("watcher restart failed", map[string]string{
		"error":   err.Error(),
		"attempt": strconv.Itoa(attempts),
	})
	watcher.restarts.schedule(err, watcher.performRestart)
}

// restart swaps in a fresh backend and re-adds every watched path. A path
// that can no longer be added is logged and skipped.
func (watcher *Watcher) restart() error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	paths := watcher.watchedPathsLocked()
	watcher.mutex.Unlock()

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	readded := 0
	for _, path := range paths {
		if err := replacement.Add(path); err != nil {
			watcher.logWarn("watcher re-add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		readded++
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := watcher.watcher
	watcher.watcher = replacement
	watcher.mutex.Unlock()

	watcher.startForwarder(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	watcher.logger.Info("watcher restarted", map[string]string{
		"paths":   strconv.Itoa(len(paths)),
		"readded": strconv.Itoa(readded),
	})
	return nil
}

// watchedPathsLocked lists every directory holding a backend watch, sorted.
func (watcher *Watcher) watchedPathsLocked() []string {
	return slices.Sorted(maps.Keys(watcher.watches))
}
