package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"filemirror/internal/cli"
	"filemirror/internal/config"
)

var errVersionRequested = errors.New("version requested")

// commandConfig holds the flags shared by the watch, mirror and cat commands.
type commandConfig struct {
	Path       string
	ConfigPath string
	settings   *cli.SettingsFlags
}

func (cfg commandConfig) overrides() map[string]any {
	return cfg.settings.Overrides()
}

func parseCommandArgs(name string, args []string, errOut io.Writer, withMetrics bool) (commandConfig, error) {
	fs := flag.NewFlagSet("filemirror "+name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	settingsFlags := cli.AddSettingsFlags(fs, config.EnvPrefix, withMetrics)
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: filemirror %s [flags] <path>\n\nFlags:\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return commandConfig{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return commandConfig{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return commandConfig{}, errVersionRequested
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return commandConfig{}, fmt.Errorf("exactly one path is required")
	}
	path := strings.TrimSpace(fs.Arg(0))
	if path == "" {
		fs.Usage()
		return commandConfig{}, fmt.Errorf("path is required")
	}

	cfg := commandConfig{
		Path:       path,
		ConfigPath: strings.TrimSpace(settingsFlags.ConfigPath),
		settings:   settingsFlags,
	}
	return cfg, nil
}

// parseExitCode maps a parse failure to the exit code the command returns.
func parseExitCode(err error, out io.Writer, errOut io.Writer) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return exitCodeSuccess
	case errors.Is(err, errVersionRequested):
		printVersion(out)
		return exitCodeSuccess
	default:
		fmt.Fprintln(errOut, err)
		return exitCodeUsage
	}
}
