package main

import (
	"fmt"
	"io"
	"os"

	"filemirror/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	deps := defaultCommandDeps()
	deps.Stdout = out
	deps.Stderr = errOut
	cmd, cmdArgs := resolveCommand(args, deps)
	return cmd.Run(cmdArgs)
}

func runVersion(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(errOut, "version takes no arguments")
		return exitCodeUsage
	}
	printVersion(out)
	return exitCodeSuccess
}

func printVersion(out io.Writer) {
	for _, line := range version.GetVersionInfo().Lines("filemirror") {
		fmt.Fprintln(out, line)
	}
}

func runHelp(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) > 0 && args[0] != "help" && args[0] != "--help" && args[0] != "-h" {
		fmt.Fprintf(errOut, "unknown command %q\n\n", args[0])
		printUsage(errOut)
		return exitCodeUsage
	}
	printUsage(out)
	return exitCodeSuccess
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `Usage: filemirror <command> [flags] [args]

Commands:
  watch <path>            Print classified filesystem events for a file or directory tree
  mirror <path>           Print a file's content and every re-read snapshot
  cat <path>              Print a file's mirrored content once
  config schema           Print the settings JSON schema
  config validate <file>  Validate a settings file (TOML or YAML)
  version                 Print version and exit

Run "filemirror <command> --help" for command flags.
`)
}
