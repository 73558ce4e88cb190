package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"filemirror/internal/mirror"
)

func runCat(args []string, out io.Writer, errOut io.Writer) int {
	cfg, err := parseCommandArgs("cat", args, errOut, false)
	if err != nil {
		return parseExitCode(err, out, errOut)
	}
	rt, err := newRuntime(cfg, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	defer rt.close()

	m, slot, err := mirror.Open(cfg.Path, mirror.Options{
		Watch:   rt.watcher,
		Logger:  rt.logger,
		Metrics: rt.registry,
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		if errors.Is(err, mirror.ErrInvalidUTF8) {
			fmt.Fprintln(errOut, "only UTF-8 text files can be mirrored")
		}
		return exitCodeSetup
	}
	rt.shutdown.Add("mirror", func(context.Context) error {
		return m.Close()
	})

	fmt.Fprint(out, slot.Read().Content())
	return exitCodeSuccess
}
