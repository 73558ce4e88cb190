package mirror

import (
	"errors"
	"fmt"

	"filemirror/internal/watcher"
)

var (
	ErrInitialRead     = errors.New("initial read failed")
	ErrTransientReRead = errors.New("re-read failed")
	ErrWatchSetup      = errors.New("watch setup failed")
	ErrInvalidUTF8     = errors.New("content is not valid UTF-8")
)

// InitialReadError is returned by Open when the file cannot be read or
// decoded. Nothing is registered in that case.
type InitialReadError struct {
	Path string
	Err  error
}

func (e *InitialReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *InitialReadError) Unwrap() error {
	return e.Err
}

func (e *InitialReadError) Is(target error) bool {
	return target == ErrInitialRead
}

// TransientReReadError records a re-read that failed after a data change
// event. The mirror keeps its last snapshot and keeps watching.
type TransientReReadError struct {
	Path  string
	Err   error
	Event watcher.Event
}

func (e *TransientReReadError) Error() string {
	return fmt.Sprintf("re-read %s after %s: %v", e.Path, e.Event.Type(), e.Err)
}

func (e *TransientReReadError) Unwrap() error {
	return e.Err
}

func (e *TransientReReadError) Is(target error) bool {
	return target == ErrTransientReRead
}

// WatchSetupError is returned by Open when the path cannot be registered
// with the notification backend.
type WatchSetupError struct {
	Path string
	Err  error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Path, e.Err)
}

func (e *WatchSetupError) Unwrap() error {
	return e.Err
}

func (e *WatchSetupError) Is(target error) bool {
	return target == ErrWatchSetup
}
