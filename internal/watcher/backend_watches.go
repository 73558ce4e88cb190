package watcher

import (
	"errors"

	"github.com/fsnotify/fsnotify"
)

// Backend watches are directories only, shared by reference count. A file
// registration holds a reference on its parent directory, so a directory
// and a file inside it never both carry a backend watch and one change is
// reported once.

// acquire takes a reference on the backend watch for dir, adding it to the
// backend on first use.
func (watcher *Watcher) acquire(dir string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrWatcherClosed
	}
	if watcher.watches[dir] > 0 {
		watcher.watches[dir]++
		watcher.mutex.Unlock()
		return nil
	}
	if len(watcher.watches) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	watcher.watches[dir] = 1
	activeCount := len(watcher.watches)
	backend := watcher.watcher
	watcher.mutex.Unlock()

	if err := watcher.addToBackend(dir, backend); err != nil {
		watcher.drop(dir)
		watcher.logWarn("watch add failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return err
	}
	watcher.registry.SetActiveWatches(activeCount)
	watcher.logDebug("watch added", dir, activeCount)
	return nil
}

// addToBackend adds dir and follows a restart that swapped the backend
// while the add was in flight.
func (watcher *Watcher) addToBackend(dir string, backend *fsnotify.Watcher) error {
	for {
		err := backend.Add(dir)

		watcher.mutex.Lock()
		current := watcher.watcher
		closed := watcher.closed
		watcher.mutex.Unlock()

		switch {
		case closed:
			return ErrWatcherClosed
		case current != backend:
			backend = current
		default:
			return err
		}
	}
}

// release drops a reference taken by acquire and removes the backend watch
// with the last one.
func (watcher *Watcher) release(dir string) error {
	watcher.mutex.Lock()
	count := watcher.watches[dir]
	if count > 1 {
		watcher.watches[dir] = count - 1
		watcher.mutex.Unlock()
		return nil
	}
	if count == 0 {
		watcher.mutex.Unlock()
		return nil
	}
	delete(watcher.watches, dir)
	activeCount := len(watcher.watches)
	backend := watcher.watcher
	closed := watcher.closed
	watcher.mutex.Unlock()

	watcher.registry.SetActiveWatches(activeCount)
	if closed || backend == nil {
		return nil
	}
	if err := backend.Remove(dir); err != nil {
		// The kernel drops watches on deleted directories by itself.
		if errors.Is(err, fsnotify.ErrNonExistentWatch) || errors.Is(err, fsnotify.ErrClosed) {
			watcher.logDebug("watch already gone", dir, activeCount)
			return nil
		}
		watcher.logWarn("watch remove failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return err
	}
	watcher.logDebug("watch removed", dir, activeCount)
	return nil
}

func (watcher *Watcher) releaseAll(dirs []string) {
	for _, dir := range dirs {
		_ = watcher.release(dir)
	}
}

// drop forgets a reference whose backend add failed.
func (watcher *Watcher) drop(dir string) {
	watcher.mutex.Lock()
	if count := watcher.watches[dir]; count > 1 {
		watcher.watches[dir] = count - 1
	} else {
		delete(watcher.watches, dir)
	}
	watcher.mutex.Unlock()
}
