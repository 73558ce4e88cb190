package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	MirrorSnapshotPublished = "snapshot_published"
	MirrorRereadFailed      = "reread_failed"
	MirrorEventObserved     = "event_observed"
	MirrorNotifyError       = "notify_error"
	MirrorClosed            = "mirror_closed"
)

// MirrorEvent reports what a content mirror did in response to a
// filesystem notification.
type MirrorEvent struct {
	EventType string
	Path      string
	// Trigger is the classified type of the filesystem event that caused
	// this notification, empty for lifecycle events.
	Trigger    string
	Version    uint64
	Size       int
	Error      string
	OccurredAt time.Time
}

func NewMirrorEvent(eventType, path string) MirrorEvent {
	return MirrorEvent{
		EventType:  eventType,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e MirrorEvent) Type() string {
	return e.EventType
}

func (e MirrorEvent) Timestamp() time.Time {
	return e.OccurredAt
}
