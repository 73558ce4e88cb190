package config

import (
	"fmt"

	"filemirror/internal/config/tomlkeys"
	"filemirror/internal/schema"

	"github.com/invopop/jsonschema"
)

const SchemaName = "settings"

func init() {
	_ = schema.Register(SchemaName, SettingsSchema)
}

// SettingsSchema describes the settings file layout.
func SettingsSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := reflector.Reflect(&Settings{})
	s.Title = "filemirror settings"
	return s
}

// ValidateFile checks a settings file against the schema and then the
// resolved values against Validate.
func ValidateFile(path string) (Settings, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s, err := schema.Resolve(SchemaName)
	if err != nil {
		return Settings{}, err
	}
	if err := schema.ValidateObject(s, tomlkeys.NormalizeTree(raw)); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	settings, err := LoadWithEnv(path, nil, nil)
	if err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}
