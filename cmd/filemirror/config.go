package main

import (
	"flag"
	"fmt"
	"io"

	"filemirror/internal/cli"
	"filemirror/internal/config"
	"filemirror/internal/schema"
)

func runConfigSchema(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("filemirror config schema", flag.ContinueOnError)
	fs.SetOutput(errOut)
	helpVersion := cli.AddHelpVersionFlags(fs, "", "")
	if err := fs.Parse(args); err != nil {
		return exitCodeUsage
	}
	if helpVersion.Help {
		fmt.Fprintln(fs.Output(), "Usage: filemirror config schema")
		return exitCodeSuccess
	}
	if helpVersion.Version {
		printVersion(out)
		return exitCodeSuccess
	}

	payload, err := schema.Document(config.SchemaName)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	fmt.Fprintln(out, string(payload))
	return exitCodeSuccess
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("filemirror config validate", flag.ContinueOnError)
	fs.SetOutput(errOut)
	helpVersion := cli.AddHelpVersionFlags(fs, "", "")
	if err := fs.Parse(args); err != nil {
		return exitCodeUsage
	}
	if helpVersion.Help {
		fmt.Fprintln(fs.Output(), "Usage: filemirror config validate <file>")
		return exitCodeSuccess
	}
	if helpVersion.Version {
		printVersion(out)
		return exitCodeSuccess
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "Usage: filemirror config validate <file>")
		return exitCodeUsage
	}

	path := fs.Arg(0)
	settings, err := config.ValidateFile(path)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	fmt.Fprintf(out, "%s: ok (log.level=%s watcher.max-watches=%d)\n", path, settings.Log.Level, settings.Watcher.MaxWatches)
	return exitCodeSuccess
}
