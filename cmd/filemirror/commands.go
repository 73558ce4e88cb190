package main

import (
	"io"
	"os"
)

type command interface {
	Run(args []string) int
}

type runFunc func(args []string, out io.Writer, errOut io.Writer) int

type commandDeps struct {
	Stdout            io.Writer
	Stderr            io.Writer
	RunWatch          runFunc
	RunMirror         runFunc
	RunCat            runFunc
	RunConfigSchema   runFunc
	RunConfigValidate runFunc
	RunVersion        runFunc
	RunHelp           runFunc
}

func defaultCommandDeps() commandDeps {
	return commandDeps{
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
		RunWatch:          runWatch,
		RunMirror:         runMirror,
		RunCat:            runCat,
		RunConfigSchema:   runConfigSchema,
		RunConfigValidate: runConfigValidate,
		RunVersion:        runVersion,
		RunHelp:           runHelp,
	}
}

type boundCommand struct {
	run  runFunc
	deps commandDeps
}

func (c boundCommand) Run(args []string) int {
	return c.run(args, c.deps.Stdout, c.deps.Stderr)
}

func resolveCommand(args []string, deps commandDeps) (command, []string) {
	if len(args) == 0 {
		return boundCommand{run: deps.RunHelp, deps: deps}, nil
	}
	switch args[0] {
	case "watch":
		return boundCommand{run: deps.RunWatch, deps: deps}, args[1:]
	case "mirror":
		return boundCommand{run: deps.RunMirror, deps: deps}, args[1:]
	case "cat":
		return boundCommand{run: deps.RunCat, deps: deps}, args[1:]
	case "version", "--version", "-v":
		return boundCommand{run: deps.RunVersion, deps: deps}, args[1:]
	case "config":
		if len(args) > 1 && args[1] == "schema" {
			return boundCommand{run: deps.RunConfigSchema, deps: deps}, args[2:]
		}
		if len(args) > 1 && args[1] == "validate" {
			return boundCommand{run: deps.RunConfigValidate, deps: deps}, args[2:]
		}
	}
	return boundCommand{run: deps.RunHelp, deps: deps}, args
}
