package mirror

import (
	"sync/atomic"
	"time"
)

// Snapshot is one immutable reading of the file content.
type Snapshot struct {
	content string
	version uint64
	readAt  time.Time
}

func newSnapshot(content string, version uint64) *Snapshot {
	return &Snapshot{
		content: content,
		version: version,
		readAt:  time.Now().UTC(),
	}
}

func (s *Snapshot) Content() string {
	if s == nil {
		return ""
	}
	return s.content
}

// Bytes returns a copy of the content.
func (s *Snapshot) Bytes() []byte {
	if s == nil {
		return nil
	}
	return []byte(s.content)
}

// Version is 1 for the initial read and grows by one per publish.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

func (s *Snapshot) ReadAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.readAt
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.content)
}

func (s *Snapshot) Equal(content string) bool {
	return s.Content() == content
}

// Slot holds the current snapshot of a mirror. Read never blocks and never
// observes a partially built snapshot. The slot stays readable after the
// mirror is closed.
type Slot struct {
	current atomic.Pointer[Snapshot]
}

func newSlot(initial *Snapshot) *Slot {
	slot := &Slot{}
	slot.current.Store(initial)
	return slot
}

// Read returns the most recently published snapshot.
func (s *Slot) Read() *Snapshot {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

func (s *Slot) Version() uint64 {
	return s.Read().Version()
}

func (s *Slot) publish(snapshot *Snapshot) {
	s.current.Store(snapshot)
}
