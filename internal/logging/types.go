package logging

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Rank orders levels from debug (0) to error (3). Unknown levels rank as info.
func (l Level) Rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// Category returns the subsystem that emitted the entry, if tagged.
func (e LogEntry) Category() string {
	return e.Context[CategoryField]
}

// Field returns a context value, or "" when the entry does not carry it.
func (e LogEntry) Field(key string) string {
	return e.Context[key]
}
