// Package monitor runs the master's tick loop: it periodically invokes
// Maintain on every live instance in the WorkerRegistry, driving each
// Instance's own health-and-recovery state machine forward one step at a
// time.
package monitor

import (
	"context"
	"time"

	"github.com/cuemby/fleetwatch/pkg/log"
	"github.com/cuemby/fleetwatch/pkg/metrics"
	"github.com/cuemby/fleetwatch/pkg/registry"
	"github.com/rs/zerolog"
)

// DefaultInterval is a coarse cadence, on the order of seconds, that
// keeps up with reboot/comm timeouts measured in minutes without
// polling the cloud provider too aggressively.
const DefaultInterval = 10 * time.Second

// Loop iterates the WorkerRegistry at a fixed cadence and calls
// Maintain on every member.
type Loop struct {
	registry *registry.Registry
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New creates a Loop over reg. interval <= 0 selects DefaultInterval.
func New(reg *registry.Registry, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		registry: reg,
		interval: interval,
		logger:   log.WithComponent("monitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monitor loop in a background goroutine.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop signals the loop to exit after its current tick.
func (l *Loop) Stop() {
	close(l.stopCh)
}

func (l *Loop) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.interval).Msg("monitor loop started")

	for {
		select {
		case <-ticker.C:
			l.tick(ctx)
		case <-l.stopCh:
			l.logger.Info().Msg("monitor loop stopped")
			return
		case <-ctx.Done():
			l.logger.Info().Msg("monitor loop stopped (context cancelled)")
			return
		}
	}
}

// tick calls Maintain on a snapshot of the registry. A snapshot is used
// rather than the live map so a termination worker removing an instance
// mid-pass cannot disrupt the iteration.
func (l *Loop) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.MaintainTickDuration)
		metrics.RegistrySize.Set(float64(l.registry.Len()))
		metrics.UpdateComponent("monitor", true, "tick completed")
	}()

	for _, inst := range l.registry.Snapshot() {
		inst.Maintain(ctx)
	}
}
