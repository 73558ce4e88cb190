package logging

import (
	"sync"

	"filemirror/internal/buffer"
)

// LogBuffer retains the most recent log entries in memory.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.entries.Add(entry)
	b.mu.Unlock()
}

func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Matching returns retained entries at or above minLevel, optionally
// restricted to one category. An empty category matches every entry.
func (b *LogBuffer) Matching(minLevel Level, category string) []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Filter(func(entry LogEntry) bool {
		if !LevelAtLeast(entry.Level, minLevel) {
			return false
		}
		return category == "" || entry.Category() == category
	})
}

// Dropped counts entries evicted to make room for newer ones.
func (b *LogBuffer) Dropped() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Evicted()
}
