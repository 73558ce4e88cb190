package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

const maxValueDetail = 64

// ValidationError describes the first schema violation found in a value.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidateObject checks a decoded document against s.
func ValidateObject(s *jsonschema.Schema, object map[string]any) error {
	return validateAt(s, object, "")
}

// ValidateValue checks a single decoded value against s.
func ValidateValue(s *jsonschema.Schema, value any) error {
	return validateAt(s, value, "")
}

func validateAt(s *jsonschema.Schema, value any, path string) error {
	if s == nil {
		return nil
	}
	if isFalseSchema(s) {
		return &ValidationError{Path: path, Message: "value is not allowed"}
	}

	if len(s.AnyOf) > 0 {
		matched := false
		for _, candidate := range s.AnyOf {
			if validateAt(candidate, value, path) == nil {
				matched = true
				break
			}
		}
		if !matched {
			return &ValidationError{Path: path, Message: "value does not match any allowed schema, got " + formatActualDetail(actualType(value), value)}
		}
	}
	if len(s.OneOf) > 0 {
		matches := 0
		for _, candidate := range s.OneOf {
			if validateAt(candidate, value, path) == nil {
				matches++
			}
		}
		if matches != 1 {
			return &ValidationError{Path: path, Message: fmt.Sprintf("value must match exactly one schema, matched %d", matches)}
		}
	}
	for _, candidate := range s.AllOf {
		if err := validateAt(candidate, value, path); err != nil {
			return err
		}
	}

	if s.Type != "" && !matchesType(s.Type, value) {
		return &ValidationError{Path: path, Message: fmt.Sprintf("expected %s, got %s", s.Type, formatActualDetail(actualType(value), value))}
	}
	if len(s.Enum) > 0 && !enumContains(s.Enum, value) {
		allowed := make([]string, 0, len(s.Enum))
		for _, entry := range s.Enum {
			allowed = append(allowed, formatValidationValue(entry))
		}
		return &ValidationError{Path: path, Message: fmt.Sprintf("value %s is not one of %s", formatValidationValue(value), strings.Join(allowed, ", "))}
	}
	if err := validateBounds(s, value, path); err != nil {
		return err
	}

	if object, ok := asStringMap(value); ok {
		return validateProperties(s, object, path)
	}
	if items, ok := asSlice(value); ok && s.Items != nil {
		for index, item := range items {
			if err := validateAt(s.Items, item, fmt.Sprintf("%s[%d]", path, index)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateProperties(s *jsonschema.Schema, object map[string]any, path string) error {
	for _, name := range s.Required {
		if _, ok := object[name]; !ok {
			return &ValidationError{Path: joinPath(path, name), Message: "missing required field"}
		}
	}

	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var property *jsonschema.Schema
		if s.Properties != nil {
			property, _ = s.Properties.Get(key)
		}
		if property == nil {
			if s.AdditionalProperties != nil && isFalseSchema(s.AdditionalProperties) {
				return &ValidationError{Path: joinPath(path, key), Message: "unknown field"}
			}
			property = s.AdditionalProperties
		}
		if err := validateAt(property, object[key], joinPath(path, key)); err != nil {
			return err
		}
	}
	return nil
}

func validateBounds(s *jsonschema.Schema, value any, path string) error {
	number, ok := asFloat(value)
	if !ok {
		return nil
	}
	if s.Minimum != "" {
		if minimum, err := s.Minimum.Float64(); err == nil && number < minimum {
			return &ValidationError{Path: path, Message: fmt.Sprintf("value %s is below minimum %s", formatValidationValue(value), s.Minimum)}
		}
	}
	if s.Maximum != "" {
		if maximum, err := s.Maximum.Float64(); err == nil && number > maximum {
			return &ValidationError{Path: path, Message: fmt.Sprintf("value %s is above maximum %s", formatValidationValue(value), s.Maximum)}
		}
	}
	return nil
}

func isFalseSchema(s *jsonschema.Schema) bool {
	payload, err := json.Marshal(s)
	if err != nil {
		return false
	}
	return string(payload) == "false"
}

func matchesType(expected string, value any) bool {
	actual := actualType(value)
	switch expected {
	case "number":
		return actual == "number" || actual == "integer"
	default:
		return actual == expected
	}
}

func enumContains(options []any, value any) bool {
	for _, option := range options {
		if reflect.DeepEqual(option, value) {
			return true
		}
		left, leftOK := asFloat(option)
		right, rightOK := asFloat(value)
		if leftOK && rightOK && left == right {
			return true
		}
	}
	return false
}

func actualType(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32:
		if float64(typed) == math.Trunc(float64(typed)) {
			return "integer"
		}
		return "number"
	case float64:
		if typed == math.Trunc(typed) {
			return "integer"
		}
		return "number"
	case json.Number:
		if _, err := typed.Int64(); err == nil {
			return "integer"
		}
		return "number"
	}
	if _, ok := asStringMap(value); ok {
		return "object"
	}
	if _, ok := asSlice(value); ok {
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

func asFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	}
	return 0, false
}

func asStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, entry := range typed {
			converted[fmt.Sprint(key)] = entry
		}
		return converted, true
	}
	return nil, false
}

func asSlice(value any) ([]any, bool) {
	if typed, ok := value.([]any); ok {
		return typed, true
	}
	return nil, false
}

func formatActualDetail(actualType string, value any) string {
	if value == nil {
		return actualType
	}
	if actualType == "object" || actualType == "array" {
		return actualType
	}
	return fmt.Sprintf("%s %s", actualType, formatValidationValue(value))
}

func formatValidationValue(value any) string {
	var detail string
	switch typed := value.(type) {
	case string:
		detail = fmt.Sprintf("%q", typed)
	default:
		detail = fmt.Sprintf("%v", typed)
	}
	if len(detail) > maxValueDetail {
		detail = detail[:maxValueDetail] + "..."
	}
	return detail
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
