package main

import (
	"context"
	"fmt"
	"io"

	"filemirror/internal/event"
	"filemirror/internal/mirror"
)

func runMirror(args []string, out io.Writer, errOut io.Writer) int {
	cfg, err := parseCommandArgs("mirror", args, errOut, true)
	if err != nil {
		return parseExitCode(err, out, errOut)
	}
	rt, err := newRuntime(cfg, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	defer rt.close()

	bus := event.NewBus[event.MirrorEvent](rt.ctx, event.BusOptions{
		Name:     "mirror",
		Registry: rt.registry,
		Logger:   rt.logger,
	})
	published, cancelPublished := bus.SubscribeTypes(event.MirrorSnapshotPublished)
	defer cancelPublished()

	m, slot, err := mirror.Open(cfg.Path, mirror.Options{
		Watch:              rt.watcher,
		Logger:             rt.logger,
		Metrics:            rt.registry,
		Bus:                bus,
		FailureLogInterval: rt.settings.FailureLogInterval(),
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeSetup
	}
	rt.shutdown.Add("mirror", func(context.Context) error {
		err := m.Close()
		bus.Close()
		return err
	})
	if err := rt.serveMetrics(); err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeSetup
	}

	printed := printSnapshot(out, slot.Read(), 0)
	for {
		select {
		case <-rt.ctx.Done():
			return exitCodeSuccess
		case _, ok := <-published:
			if !ok {
				return exitCodeSuccess
			}
			// Several notifications may collapse into one newer snapshot.
			printed = printSnapshot(out, slot.Read(), printed)
		}
	}
}

// printSnapshot writes snapshot when it is newer than the last printed
// version and returns the version now on screen.
func printSnapshot(out io.Writer, snapshot *mirror.Snapshot, printed uint64) uint64 {
	if snapshot.Version() <= printed {
		return printed
	}
	fmt.Fprintf(out, "--- version %d, %d bytes ---\n", snapshot.Version(), snapshot.Len())
	fmt.Fprint(out, snapshot.Content())
	if snapshot.Len() > 0 && snapshot.Content()[snapshot.Len()-1] != '\n' {
		fmt.Fprintln(out)
	}
	return snapshot.Version()
}
