package main

import (
	"context"
	"fmt"
	"io"

	"filemirror/internal/channel"
	"filemirror/internal/watcher"
)

func runWatch(args []string, out io.Writer, errOut io.Writer) int {
	cfg, err := parseCommandArgs("watch", args, errOut, true)
	if err != nil {
		return parseExitCode(err, out, errOut)
	}
	rt, err := newRuntime(cfg, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	defer rt.close()

	subscription, receiver, err := channel.Subscribe(cfg.Path, channel.Options{
		Watch:   rt.watcher,
		Logger:  rt.logger,
		Metrics: rt.registry,
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeSetup
	}
	rt.shutdown.Add("subscription", func(context.Context) error {
		return subscription.Close()
	})
	if err := rt.serveMetrics(); err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeSetup
	}

	for event := range receiver.Events(rt.ctx) {
		fmt.Fprintln(out, formatEvent(event))
	}
	return exitCodeSuccess
}

func formatEvent(event watcher.Event) string {
	if event.Kind == watcher.KindError {
		return fmt.Sprintf("%s %v", event.Type(), event.Err)
	}
	return fmt.Sprintf("%s %s %s", event.Type(), event.Path, event.Op)
}
