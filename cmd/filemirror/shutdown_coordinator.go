package main

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"filemirror/internal/logging"
)

type shutdownPhase struct {
	name string
	stop func(context.Context) error
}

// shutdownCoordinator runs teardown phases once, in registration order,
// and keeps going when a phase fails.
type shutdownCoordinator struct {
	logger *logging.Logger
	mu     sync.Mutex
	once   sync.Once
	phases []shutdownPhase
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{
		logger: logger,
	}
}

func (coordinator *shutdownCoordinator) Add(name string, stop func(context.Context) error) {
	if coordinator == nil || stop == nil {
		return
	}
	coordinator.mu.Lock()
	coordinator.phases = append(coordinator.phases, shutdownPhase{
		name: name,
		stop: stop,
	})
	coordinator.mu.Unlock()
}

func (coordinator *shutdownCoordinator) Run(ctx context.Context) error {
	if coordinator == nil {
		return nil
	}
	var runErr error
	coordinator.once.Do(func() {
		coordinator.mu.Lock()
		phases := append([]shutdownPhase(nil), coordinator.phases...)
		coordinator.mu.Unlock()

		for _, phase := range phases {
			started := time.Now()
			err := phase.stop(ctx)
			fields := map[string]string{
				"phase":       phase.name,
				"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
			}
			if err != nil {
				runErr = errors.Join(runErr, err)
				fields["error"] = err.Error()
				coordinator.logger.Warn("shutdown phase failed", fields)
				continue
			}
			coordinator.logger.Debug("shutdown phase done", fields)
		}
	})
	return runErr
}
