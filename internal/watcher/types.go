package watcher

import (
	"sync"
	"time"

	"filemirror/internal/logging"
	"filemirror/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single classified filesystem change, or a backend
// error when Kind is KindError.
type Event struct {
	Kind   Kind
	Modify ModifyKind
	Path   string
	// Op is the raw platform operation the event was classified from.
	Op        fsnotify.Op
	Err       error
	Timestamp time.Time
}

// Handle releases a watch registration. Once Close returns the callback
// registered with it is not invoked again.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path.
type Watch interface {
	Watch(path string, recursive bool, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger     *logging.Logger
	Metrics    *metrics.Registry
	MaxWatches int
	// ErrorHandler is called when the backend keeps failing after every
	// restart attempt.
	ErrorHandler func(error)
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher   *fsnotify.Watcher
	mutex     sync.Mutex
	callbacks map[string][]*registration
	// watches counts references per directory held in the backend.
	watches    map[string]int
	maxWatches int
	events     chan fsnotify.Event
	errors     chan error
	done       chan struct{}
	closed     bool
	logger     *logging.Logger
	registry   *metrics.Registry
	nextID     uint64
	restarts   backoff

	eventsDelivered uint64
	errorCount      uint64
}
