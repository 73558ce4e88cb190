package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed marks the end of a stream: the subscription was
	// closed and every buffered event has been received.
	ErrChannelClosed = errors.New("event channel closed")
	ErrWatchSetup    = errors.New("watch setup failed")
)

// WatchSetupError reports that a path could not be registered with the
// notification backend.
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
