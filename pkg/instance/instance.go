// Package instance implements the per-worker health-and-recovery state
// machine: the core this repository exists to supervise a fleet with.
// An Instance owns its health state, counters, and timestamps, and
// exposes Maintain, Reboot, Terminate, HandleMessage, GetMState, and
// GetCloudInstanceObject.
package instance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/fleetwatch/pkg/clock"
	"github.com/cuemby/fleetwatch/pkg/cloudadapter"
	"github.com/cuemby/fleetwatch/pkg/config"
	"github.com/cuemby/fleetwatch/pkg/log"
	"github.com/cuemby/fleetwatch/pkg/metrics"
	"github.com/rs/zerolog"
)

// Registry is the subset of pkg/registry.Registry an Instance needs to
// remove itself on successful termination or exhausted budget. Kept as a
// narrow interface here so pkg/registry can depend on pkg/instance
// without a cycle back.
type Registry interface {
	Remove(id string)
}

// TerminationTask is the handle returned by Terminate. It lets callers
// (mainly tests) wait for the background termination I/O to settle, since
// Terminate itself returns immediately and state settles later.
type TerminationTask struct {
	done chan struct{}
}

// Join blocks until the termination attempt has completed.
func (t *TerminationTask) Join() {
	<-t.done
}

// Instance is the stateful representation of one rented worker VM.
type Instance struct {
	id            string
	spotRequestID string

	clock    clock.Clock
	adapter  cloudadapter.Adapter
	registry Registry
	cfg      config.Config
	logger   zerolog.Logger

	mu                    sync.Mutex
	handle                cloudadapter.Handle
	mState                cloudadapter.PowerState
	lastMStateChange      time.Time
	timeRebooted          time.Time
	rebootCount           int
	terminateAttemptCount int

	// lastComm is written by the message-dispatch path without taking mu
	// so an inbound message is never blocked by a concurrent Maintain tick.
	lastComm atomic.Int64
}

// New creates an Instance for a worker already known to the cloud
// provider. handle may be nil if the instance has not yet been resolved;
// the first deep GetCloudInstanceObject/GetMState call will populate it.
func New(id string, handle cloudadapter.Handle, spotRequestID string, adapter cloudadapter.Adapter, clk clock.Clock, cfg config.Config, reg Registry) *Instance {
	i := &Instance{
		id:               id,
		spotRequestID:    spotRequestID,
		clock:            clk,
		adapter:          adapter,
		registry:         reg,
		cfg:              cfg,
		logger:           log.WithInstanceID(id),
		handle:           handle,
		mState:           cloudadapter.Unknown,
		lastMStateChange: clk.Now(),
		timeRebooted:     clock.FarPast,
	}
	i.lastComm.Store(clock.FarPast.UnixNano())
	return i
}

// ID returns the immutable cloud-assigned instance id.
func (i *Instance) ID() string { return i.id }

// GetCloudInstanceObject returns the cached handle, or resolves a fresh
// one from the CloudAdapter when deep is true.
func (i *Instance) GetCloudInstanceObject(ctx context.Context, deep bool) (cloudadapter.Handle, error) {
	if !deep {
		i.mu.Lock()
		defer i.mu.Unlock()
		return i.handle, nil
	}

	handle, err := i.adapter.Resolve(ctx, i.id)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.handle = handle
	i.mu.Unlock()
	return handle, nil
}

// GetMState performs a deep fetch and updates m_state/last_m_state_change
// when the observed state differs from the cached one. On adapter
// failure it leaves state unchanged and surfaces the error; callers
// (Maintain) may swallow it and retry next tick.
func (i *Instance) GetMState(ctx context.Context) (cloudadapter.PowerState, error) {
	handle, err := i.GetCloudInstanceObject(ctx, true)
	if err != nil {
		metrics.UpdateComponent("cloud_adapter", false, err.Error())
		return cloudadapter.Unknown, err
	}

	state, err := i.adapter.StateOf(ctx, handle)
	if err != nil {
		metrics.UpdateComponent("cloud_adapter", false, err.Error())
		return cloudadapter.Unknown, err
	}
	metrics.UpdateComponent("cloud_adapter", true, "last lookup succeeded")

	i.mu.Lock()
	defer i.mu.Unlock()
	if state != i.mState {
		i.mState = state
		i.lastMStateChange = i.clock.Now()
	}
	return i.mState, nil
}

// Reboot issues an asynchronous reboot through the CloudAdapter. The
// reboot count and timestamp are updated unconditionally, even if the
// adapter call itself fails, so repeated reboots during a stuck episode
// are still counted toward the reboot budget.
func (i *Instance) Reboot(ctx context.Context) {
	i.mu.Lock()
	handle := i.handle
	i.mu.Unlock()

	if handle != nil {
		if err := i.adapter.Reboot(ctx, handle); err != nil {
			i.logger.Warn().Err(err).Msg("reboot request rejected, will retry next tick")
		}
	}

	i.mu.Lock()
	i.timeRebooted = i.clock.Now()
	i.rebootCount++
	count := i.rebootCount
	i.mu.Unlock()

	metrics.InstanceRebootsTotal.Inc()
	i.logger.Info().Int("reboot_count", count).Msg("instance rebooted")
}

// Terminate launches a background task that calls the CloudAdapter to
// terminate this instance and returns immediately. On success the cached
// handle is cleared and the instance removes itself from the registry;
// on failure the instance stays intact and terminate_attempt_count is
// incremented so the next Maintain tick can retry or escalate to a
// registry drop once the termination budget is spent.
func (i *Instance) Terminate(ctx context.Context) *TerminationTask {
	task := &TerminationTask{done: make(chan struct{})}
	go i.runTermination(ctx, task)
	return task
}

func (i *Instance) runTermination(ctx context.Context, task *TerminationTask) {
	defer close(task.done)

	i.mu.Lock()
	i.terminateAttemptCount++
	attempt := i.terminateAttemptCount
	i.mu.Unlock()
	metrics.InstanceTerminateAttemptsTotal.Inc()

	ok, err := i.adapter.Terminate(ctx, i.id, i.spotRequestID)
	if err != nil || !ok {
		// get_m_state is used for logging on this failure path and must
		// tolerate a handle that is still live.
		state, stateErr := i.GetMState(ctx)
		logEvt := i.logger.Error().Int("terminate_attempt_count", attempt).Err(err)
		if stateErr == nil {
			logEvt = logEvt.Str("observed_state", string(state))
		}
		logEvt.Msg("termination attempt failed")
		metrics.InstanceTerminateFailuresTotal.Inc()
		return
	}

	i.mu.Lock()
	i.handle = nil
	i.mu.Unlock()

	i.registry.Remove(i.id)
	i.logger.Info().Int("terminate_attempt_count", attempt).Msg("instance terminated")
}

// HandleMessage records an inbound application-level message from this
// worker. The payload itself is opaque to the core.
func (i *Instance) HandleMessage(_ string) {
	i.lastComm.Store(i.clock.Now().UnixNano())
}

// Maintain performs one fresh observation and at most one corrective
// action, following a strict decision ladder: budget exhaustion first,
// then a stuck non-RUNNING state, then a silent RUNNING instance.
func (i *Instance) Maintain(ctx context.Context) {
	state, err := i.GetMState(ctx)
	if err != nil {
		metrics.CloudLookupFailuresTotal.Inc()
		i.logger.Debug().Err(err).Msg("could not observe instance state this tick")
		return
	}

	now := i.clock.Now()

	i.mu.Lock()
	rebootCount := i.rebootCount
	terminateAttemptCount := i.terminateAttemptCount
	lastMStateChange := i.lastMStateChange
	timeRebooted := i.timeRebooted
	i.mu.Unlock()
	lastComm := time.Unix(0, i.lastComm.Load())

	// Rule 1: terminal escalation past the reboot budget. This subsumes
	// rules 2/3 below — once the reboot budget is exhausted no further
	// reboot is ever issued, regardless of observed state.
	if rebootCount >= i.cfg.InstanceRebootAttempts {
		if terminateAttemptCount < i.cfg.InstanceTerminateAttempts {
			i.Terminate(ctx)
			return
		}
		i.logger.Warn().Msg("termination budget exhausted, dropping instance from registry")
		metrics.InstancesDroppedTotal.Inc()
		i.registry.Remove(i.id)
		return
	}

	// Rule 2: stuck in a non-RUNNING state.
	if state != cloudadapter.Running {
		pastStateChangeGrace := now.Sub(lastMStateChange) >= i.cfg.InstanceStateChangeWait || state == cloudadapter.StateError
		pastRebootCooldown := now.Sub(timeRebooted) >= i.cfg.InstanceRebootTimeout
		if pastStateChangeGrace && pastRebootCooldown {
			i.Reboot(ctx)
		}
		return
	}

	// Rule 3: silent RUNNING instance.
	if now.Sub(lastComm) >= i.cfg.InstanceCommTimeout {
		if now.Sub(timeRebooted) >= i.cfg.InstanceRebootTimeout {
			i.Reboot(ctx)
		}
	}

	// Rule 4: healthy, no action.
}

// RebootCount, TerminateAttemptCount, MState, TimeRebooted, and LastComm
// expose read-only snapshots of internal state for tests and metrics
// collection (pkg/metrics).
func (i *Instance) RebootCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rebootCount
}

func (i *Instance) TerminateAttemptCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.terminateAttemptCount
}

func (i *Instance) MState() cloudadapter.PowerState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mState
}

func (i *Instance) TimeRebooted() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.timeRebooted
}

func (i *Instance) LastComm() time.Time {
	return time.Unix(0, i.lastComm.Load())
}
