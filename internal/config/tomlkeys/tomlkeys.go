// Package tomlkeys flattens decoded settings documents into dotted,
// normalized keys so TOML tables, dotted keys, YAML maps and environment
// overrides can be layered onto each other.
package tomlkeys

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store holds settings values keyed by normalized dotted key.
type Store struct {
	values map[string]any
}

// DecodeMap parses a TOML document, keeping its nesting. Parse errors carry
// the line of the offending token.
func DecodeMap(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("line %d: %s", parseErr.Position.Line, parseErr.Message)
		}
		return nil, err
	}
	return raw, nil
}

func Decode(data []byte) (Store, error) {
	raw, err := DecodeMap(data)
	if err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

// FromRaw flattens a nested document. When two keys normalize to the same
// name the first in sorted order wins.
func FromRaw(raw map[string]any) Store {
	store := Store{values: map[string]any{}}
	flatten("", NormalizeTree(raw), store.values)
	return store
}

// Merge layers values over the store. Keys are normalized first; later
// layers win.
func (s *Store) Merge(values map[string]any) {
	if s.values == nil {
		s.values = map[string]any{}
	}
	for key, value := range values {
		if normalized := NormalizeKey(key); normalized != "" {
			s.values[normalized] = value
		}
	}
}

// Flat returns a copy of every value by dotted key.
func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.values))
	for key, value := range s.values {
		flat[key] = value
	}
	return flat
}

// Int reads an integer setting. Strings are parsed, which lets environment
// overrides supply numbers.
func (s Store) Int(key string) (int64, bool) {
	switch typed := s.values[NormalizeKey(key)].(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// String reads a string setting with surrounding space trimmed.
func (s Store) String(key string) (string, bool) {
	typed, ok := s.values[NormalizeKey(key)].(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(typed), true
}

// NormalizeKey lowercases each dotted segment and maps underscores to
// dashes, so Log.BUFFER_SIZE and log.buffer-size name the same setting.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(part)), "_", "-")
	}
	return strings.Join(parts, ".")
}

// NormalizeTree returns a copy of a decoded document with every key
// normalized, keeping the nesting. Blank keys are dropped.
func NormalizeTree(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		normalized := NormalizeKey(key)
		if normalized == "" {
			continue
		}
		if _, exists := out[normalized]; exists {
			continue
		}
		value := raw[key]
		if nested, ok := value.(map[string]any); ok {
			value = NormalizeTree(nested)
		}
		out[normalized] = value
	}
	return out
}

func flatten(prefix string, tree map[string]any, out map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = value
	}
}
