package logging

import (
	"encoding/json"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// CategoryField names the subsystem that produced an entry.
const CategoryField = "filemirror.category"

// Format selects how entries are written to the output stream.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures a root Logger. A nil Buffer gets a private one, a nil
// Output discards written lines.
type Options struct {
	Buffer *LogBuffer
	Level  Level
	Output io.Writer
	Format Format
}

// Logger records entries into a shared buffer and writes them to an output
// stream. Loggers derived with With share the buffer and the stream.
type Logger struct {
	sink   *sink
	fields map[string]string
}

type sink struct {
	buffer   *LogBuffer
	minLevel Level
	format   Format

	mu  sync.Mutex
	out io.Writer
}

func New(opts Options) *Logger {
	if opts.Buffer == nil {
		opts.Buffer = NewLogBuffer(DefaultBufferSize)
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	format, ok := ParseFormat(string(opts.Format))
	if !ok {
		format = FormatText
	}
	return &Logger{sink: &sink{
		buffer:   opts.Buffer,
		minLevel: normalizeLevel(opts.Level),
		format:   format,
		out:      opts.Output,
	}}
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return New(Options{Buffer: buffer, Level: minLevel, Output: os.Stdout})
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	return New(Options{Buffer: buffer, Level: minLevel, Output: output})
}

// NewDiscardLogger keeps entries in a private buffer and writes nothing.
// Components fall back to it when the caller supplies no logger.
func NewDiscardLogger() *Logger {
	return New(Options{Level: LevelInfo})
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.sink.buffer
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{sink: l.sink, fields: mergeFields(l.fields, fields)}
}

// WithComponent tags every entry with the emitting subsystem.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(map[string]string{CategoryField: component})
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return LevelAtLeast(level, l.sink.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	}
	l.sink.buffer.Add(entry)
	l.sink.write(entry)
}

func (s *sink) write(entry LogEntry) {
	var line []byte
	switch s.format {
	case FormatJSON:
		encoded, err := json.Marshal(entry)
		if err != nil {
			return
		}
		line = append(encoded, '\n')
	default:
		line = []byte(formatText(entry) + "\n")
	}
	s.mu.Lock()
	_, _ = s.out.Write(line)
	s.mu.Unlock()
}

func normalizeLevel(level Level) Level {
	if level.Valid() {
		return level
	}
	return LevelInfo
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// ParseFormat accepts text or json; an empty value means text.
func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return FormatText, true
	case "json":
		return FormatJSON, true
	default:
		return "", false
	}
}

func LevelAtLeast(level, minLevel Level) bool {
	if minLevel == "" {
		return true
	}
	return level.Rank() >= minLevel.Rank()
}

// mergeFields returns nil when there is nothing to merge so entries without
// context omit it.
func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	maps.Copy(merged, base)
	maps.Copy(merged, extra)
	return merged
}

// formatText renders an entry as logfmt with context keys sorted.
func formatText(entry LogEntry) string {
	var builder strings.Builder
	builder.WriteString("time=")
	builder.WriteString(entry.Timestamp.Format(time.RFC3339Nano))
	builder.WriteString(" level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))
	for _, key := range slices.Sorted(maps.Keys(entry.Context)) {
		builder.WriteByte(' ')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(strconv.Quote(entry.Context[key]))
	}
	return builder.String()
}
