package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filemirror/internal/config"
	"filemirror/internal/logging"
	"filemirror/internal/metrics"
	"filemirror/internal/watcher"
)

const metricsShutdownTimeout = 5 * time.Second

// notifySignals is replaced in tests.
var notifySignals = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() {
		signal.Stop(ch)
	}
}

// commandRuntime bundles what every command shares: settings, the logger,
// a metrics registry and one watcher used by every subscription. Its
// context is canceled on SIGINT, SIGTERM or when the watcher gives up.
type commandRuntime struct {
	ctx      context.Context
	cancel   context.CancelFunc
	settings config.Settings
	logger   *logging.Logger
	registry *metrics.Registry
	watcher  *watcher.Watcher
	shutdown *shutdownCoordinator
}

func newRuntime(cfg commandConfig, errOut io.Writer) (*commandRuntime, error) {
	settings, err := config.Load(cfg.ConfigPath, cfg.overrides())
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Buffer: logging.NewLogBuffer(int(settings.Log.BufferSize)),
		Level:  settings.LogLevel(),
		Output: errOut,
		Format: settings.LogFormat(),
	})
	registry := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())

	shared, err := watcher.NewWithOptions(watcher.Options{
		Logger:     logger,
		Metrics:    registry,
		MaxWatches: int(settings.Watcher.MaxWatches),
		ErrorHandler: func(err error) {
			logger.Error("watcher failed permanently", map[string]string{
				"error": err.Error(),
			})
			cancel()
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	rt := &commandRuntime{
		ctx:      ctx,
		cancel:   cancel,
		settings: settings,
		logger:   logger,
		registry: registry,
		watcher:  shared,
		shutdown: newShutdownCoordinator(logger),
	}
	signals, stopNotify := notifySignals()
	stopWatching := watchShutdownSignals(logger, cancel, signals, forceExit)
	rt.shutdown.Add("signals", func(context.Context) error {
		stopWatching()
		stopNotify()
		return nil
	})
	return rt, nil
}

// serveMetrics starts the Prometheus endpoint when an address is configured
// and registers its shutdown.
func (rt *commandRuntime) serveMetrics() error {
	addr := rt.settings.Metrics.Addr
	if addr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.registry.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rt.logger.Info("metrics listening", map[string]string{
		"addr": listener.Addr().String(),
	})
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", map[string]string{
				"error": err.Error(),
			})
		}
	}()

	rt.shutdown.Add("metrics server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	return nil
}

// close runs the registered shutdown phases and then stops the watcher.
func (rt *commandRuntime) close() error {
	rt.shutdown.Add("watcher", func(context.Context) error {
		return rt.watcher.Close()
	})
	rt.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	return rt.shutdown.Run(ctx)
}
