package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

type registration struct {
	id        uint64
	path      string
	isDir     bool
	recursive bool
	callback  func(Event)
	// watchDir is the backend directory this registration holds a
	// reference on: the path itself, or the parent of a file.
	watchDir string

	// mu is held for reading while the callback runs, so closing the
	// registration waits for an in-flight delivery to finish.
	mu     sync.RWMutex
	closed bool

	// subdirs lists the recursive subdirectory watches owned by this
	// registration. Guarded by the watcher mutex.
	subdirs []string
}

func (entry *registration) deliver(event Event) bool {
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.closed {
		return false
	}
	entry.callback(event)
	return true
}

func (entry *registration) shutdown() {
	entry.mu.Lock()
	entry.closed = true
	entry.mu.Unlock()
}

type watchHandle struct {
	watcher *Watcher
	entry   *registration
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		handle.entry.shutdown()
		err = handle.watcher.removeRegistration(handle.entry)
	})
	return err
}

// Watch registers a callback for filesystem events on a path. The path must
// exist. A directory is watched for events on its direct children, or on
// the whole tree beneath it when recursive is set. A file is observed
// through a watch on its parent directory.
func (watcher *Watcher) Watch(path string, recursive bool, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	watchDir := path
	if !info.IsDir() {
		watchDir = filepath.Dir(path)
	}
	if err := watcher.acquire(watchDir); err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		_ = watcher.release(watchDir)
		return nil, ErrWatcherClosed
	}
	watcher.nextID++
	entry := &registration{
		id:        watcher.nextID,
		path:      path,
		isDir:     info.IsDir(),
		recursive: recursive && info.IsDir(),
		callback:  callback,
		watchDir:  watchDir,
	}
	watcher.callbacks[path] = append(watcher.callbacks[path], entry)
	watcher.mutex.Unlock()

	if entry.recursive {
		added, err := watcher.addRecursiveWatches(path)
		if err != nil {
			_ = watcher.removeRegistration(entry)
			return nil, err
		}
		watcher.mutex.Lock()
		entry.subdirs = append(entry.subdirs, added...)
		watcher.mutex.Unlock()
	}

	return &watchHandle{watcher: watcher, entry: entry}, nil
}

// WatchContext behaves like Watch and additionally releases the
// registration when ctx is done.
func (watcher *Watcher) WatchContext(ctx context.Context, path string, recursive bool, callback func(Event)) (Handle, error) {
	handle, err := watcher.Watch(path, recursive, callback)
	if err != nil {
		return nil, err
	}
	if ctx == nil || ctx.Done() == nil {
		return handle, nil
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = handle.Close()
		case <-watcher.done:
		}
	}()
	return handle, nil
}

func (watcher *Watcher) removeRegistration(entry *registration) error {
	if watcher == nil || entry == nil {
		return nil
	}

	watcher.mutex.Lock()
	found := watcher.unlinkLocked(entry)
	subdirs := entry.subdirs
	entry.subdirs = nil
	watcher.mutex.Unlock()
	if !found {
		return nil
	}

	watcher.releaseAll(subdirs)
	return watcher.release(entry.watchDir)
}

// unlinkLocked removes entry from the callback table and reports whether
// it was still linked.
func (watcher *Watcher) unlinkLocked(entry *registration) bool {
	entries := watcher.callbacks[entry.path]
	index := slices.Index(entries, entry)
	if index < 0 {
		return false
	}
	entries = slices.Delete(entries, index, index+1)
	if len(entries) == 0 {
		delete(watcher.callbacks, entry.path)
	} else {
		watcher.callbacks[entry.path] = entries
	}
	return true
}

// registrationsForPathLocked returns the registrations interested in an
// event on name: exact matches, directory watches on its parent, and
// recursive watches on any further ancestor.
func (watcher *Watcher) registrationsForPathLocked(name string) []*registration {
	name = filepath.Clean(name)
	targets := append([]*registration(nil), watcher.callbacks[name]...)

	depth := 0
	current := name
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		depth++
		for _, entry := range watcher.callbacks[parent] {
			if !entry.isDir {
				continue
			}
			if depth == 1 || entry.recursive {
				targets = append(targets, entry)
			}
		}
		current = parent
	}
	return targets
}

func (watcher *Watcher) allRegistrationsLocked() []*registration {
	var targets []*registration
	for _, entries := range watcher.callbacks {
		targets = append(targets, entries...)
	}
	return targets
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
