package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filemirror/internal/config/tomlkeys"
	"filemirror/internal/logging"

	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override settings, e.g.
// FILEMIRROR_LOG_LEVEL for log.level.
const EnvPrefix = "FILEMIRROR_"

//go:embed defaults.toml
var DefaultsPayload []byte

type Settings struct {
	Log     LogSettings     `json:"log"`
	Mirror  MirrorSettings  `json:"mirror"`
	Watcher WatcherSettings `json:"watcher"`
	Metrics MetricsSettings `json:"metrics"`
}

type LogSettings struct {
	Level      string `json:"level" jsonschema:"enum=debug,enum=info,enum=warning,enum=warn,enum=error,description=Minimum level written to stderr"`
	Format     string `json:"format" jsonschema:"enum=text,enum=json,description=Output format for log lines"`
	BufferSize int64  `json:"buffer-size" jsonschema:"minimum=1,description=Entries kept in the in-memory log buffer"`
}

type MirrorSettings struct {
	FailureLogIntervalMS int64 `json:"failure-log-interval-ms" jsonschema:"minimum=1,description=Minimum interval between re-read failure warnings"`
}

type WatcherSettings struct {
	MaxWatches int64 `json:"max-watches" jsonschema:"minimum=1,description=Paths a watcher may register"`
}

type MetricsSettings struct {
	Addr string `json:"addr" jsonschema:"description=Listen address for the Prometheus endpoint; empty disables it"`
}

// FailureLogInterval returns the mirror failure log interval as a duration.
func (s Settings) FailureLogInterval() time.Duration {
	return time.Duration(s.Mirror.FailureLogIntervalMS) * time.Millisecond
}

// LogLevel returns the parsed log level, falling back to info.
func (s Settings) LogLevel() logging.Level {
	if level, ok := logging.ParseLevel(s.Log.Level); ok {
		return level
	}
	return logging.LevelInfo
}

// LogFormat returns the parsed log format, falling back to text.
func (s Settings) LogFormat() logging.Format {
	if format, ok := logging.ParseFormat(s.Log.Format); ok {
		return format
	}
	return logging.FormatText
}

// Validate rejects values no component can run with.
func (s Settings) Validate() error {
	if _, ok := logging.ParseLevel(s.Log.Level); !ok {
		return fmt.Errorf("log.level: unknown level %q", s.Log.Level)
	}
	if _, ok := logging.ParseFormat(s.Log.Format); !ok {
		return fmt.Errorf("log.format: unknown format %q", s.Log.Format)
	}
	if s.Log.BufferSize <= 0 {
		return fmt.Errorf("log.buffer-size: must be positive, got %d", s.Log.BufferSize)
	}
	if s.Mirror.FailureLogIntervalMS <= 0 {
		return fmt.Errorf("mirror.failure-log-interval-ms: must be positive, got %d", s.Mirror.FailureLogIntervalMS)
	}
	if s.Watcher.MaxWatches <= 0 {
		return fmt.Errorf("watcher.max-watches: must be positive, got %d", s.Watcher.MaxWatches)
	}
	return nil
}

// Load resolves settings from the built-in defaults, the optional file at
// path, FILEMIRROR_* environment variables and overrides, in that order.
func Load(path string, overrides map[string]any) (Settings, error) {
	return LoadWithEnv(path, overrides, os.Environ())
}

func LoadWithEnv(path string, overrides map[string]any, environ []string) (Settings, error) {
	defaults, err := tomlkeys.Decode(DefaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("built-in defaults: %w", err)
	}
	values := tomlkeys.FromRaw(nil)
	values.Merge(defaults.Flat())

	if strings.TrimSpace(path) != "" {
		raw, err := ReadFile(path)
		if err != nil {
			return Settings{}, err
		}
		values.Merge(tomlkeys.FromRaw(raw).Flat())
	}
	values.Merge(envOverrides(environ))
	values.Merge(overrides)

	settings := Settings{}
	settings.Log.Level = stringSetting(values, defaults, "log.level")
	settings.Log.Format = stringSetting(values, defaults, "log.format")
	settings.Log.BufferSize = intSetting(values, defaults, "log.buffer-size")
	settings.Mirror.FailureLogIntervalMS = intSetting(values, defaults, "mirror.failure-log-interval-ms")
	settings.Watcher.MaxWatches = intSetting(values, defaults, "watcher.max-watches")
	settings.Metrics.Addr, _ = values.String("metrics.addr")
	return settings, nil
}

// ReadFile decodes a settings file into a nested document. Files ending in
// .yaml or .yml are YAML, everything else is TOML.
func ReadFile(path string) (map[string]any, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw := map[string]any{}
		if err := yaml.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
		return raw, nil
	default:
		raw, err := tomlkeys.DecodeMap(payload)
		if err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
		return raw, nil
	}
}

// envOverrides maps FILEMIRROR_SECTION_SOME_KEY to section.some-key.
func envOverrides(environ []string) map[string]any {
	values := map[string]any{}
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.TrimPrefix(name, EnvPrefix), "_")
		if !ok || section == "" || key == "" {
			continue
		}
		values[tomlkeys.NormalizeKey(section+"."+key)] = value
	}
	return values
}

// intSetting falls back to the default when the layered value is missing,
// unparseable or not positive.
func intSetting(values, defaults tomlkeys.Store, key string) int64 {
	if value, ok := values.Int(key); ok && value > 0 {
		return value
	}
	fallback, _ := defaults.Int(key)
	return fallback
}

func stringSetting(values, defaults tomlkeys.Store, key string) string {
	if value, ok := values.String(key); ok && value != "" {
		return value
	}
	fallback, _ := defaults.String(key)
	return fallback
}
