package cli

import (
	"flag"
	"strings"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

// AddHelpVersionFlags registers -h/--help and -v/--version on fs.
func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	flags := &HelpVersionFlags{}
	if fs == nil {
		return flags
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	for _, name := range []string{"help", "h"} {
		fs.BoolVar(&flags.Help, name, false, helpDesc)
	}
	for _, name := range []string{"version", "v"} {
		fs.BoolVar(&flags.Version, name, false, versionDesc)
	}
	return flags
}

// SettingsFlags are the settings overrides every long-running command
// accepts. Empty values leave the loaded settings untouched.
type SettingsFlags struct {
	ConfigPath  string
	LogLevel    string
	MetricsAddr string

	withMetrics bool
}

// AddSettingsFlags registers --config and --log-level on fs, plus
// --metrics-addr when withMetrics is set.
func AddSettingsFlags(fs *flag.FlagSet, envPrefix string, withMetrics bool) *SettingsFlags {
	flags := &SettingsFlags{withMetrics: withMetrics}
	if fs == nil {
		return flags
	}
	fs.StringVar(&flags.ConfigPath, "config", "", "Settings file, TOML or YAML (env: "+envPrefix+"* overrides)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warning, error (default from settings)")
	if withMetrics {
		fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9100")
	}
	return flags
}

// Overrides returns the dotted settings keys set on the command line.
func (f *SettingsFlags) Overrides() map[string]any {
	overrides := map[string]any{}
	if f == nil {
		return overrides
	}
	if level := strings.TrimSpace(f.LogLevel); level != "" {
		overrides["log.level"] = level
	}
	if addr := strings.TrimSpace(f.MetricsAddr); f.withMetrics && addr != "" {
		overrides["metrics.addr"] = addr
	}
	return overrides
}
