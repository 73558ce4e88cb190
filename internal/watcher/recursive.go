package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
)

// addRecursiveWatches registers every directory beneath root. On failure
// the watches added so far are released again.
func (watcher *Watcher) addRecursiveWatches(root string) ([]string, error) {
	paths, err := collectRecursiveDirs(root)
	if err != nil {
		return nil, err
	}

	added := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := watcher.acquire(path); err != nil {
			watcher.releaseAll(added)
			return nil, err
		}
		added = append(added, path)
	}

	return added, nil
}

func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// followCreatedDir extends recursive registrations to a directory that
// appeared beneath them after they were set up.
func (watcher *Watcher) followCreatedDir(path string, targets []*registration) {
	owners := make([]*registration, 0, len(targets))
	for _, target := range targets {
		if target.recursive && target.path != path && isWithinPath(target.path, path) {
			owners = append(owners, target)
		}
	}
	if len(owners) == 0 {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}

	for _, owner := range owners {
		dirs := append([]string{path}, mustCollect(path)...)
		added := make([]string, 0, len(dirs))
		for _, dir := range dirs {
			if err := watcher.acquire(dir); err != nil {
				continue
			}
			added = append(added, dir)
		}

		watcher.mutex.Lock()
		if watcher.isRegisteredLocked(owner) {
			owner.subdirs = append(owner.subdirs, added...)
			added = nil
		}
		watcher.mutex.Unlock()
		// The owner was closed while we were adding.
		watcher.releaseAll(added)
	}
}

func mustCollect(root string) []string {
	dirs, err := collectRecursiveDirs(root)
	if err != nil {
		return nil
	}
	return dirs
}

func (watcher *Watcher) isRegisteredLocked(entry *registration) bool {
	for _, candidate := range watcher.callbacks[entry.path] {
		if candidate == entry {
			return true
		}
	}
	return false
}
