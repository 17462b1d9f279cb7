// Package cloudadapter defines the boundary between the supervisor core
// and whatever IaaS provider actually hosts a worker instance. The core
// (pkg/instance) only ever talks to the Adapter interface; concrete
// implementations live in the ec2 and mock subpackages.
package cloudadapter

import (
	"context"
	"errors"
)

// PowerState is the cloud-reported power state of an instance. The zero
// value, Unknown, represents "never polled".
type PowerState string

const (
	Unknown    PowerState = ""
	Pending    PowerState = "pending"
	Running    PowerState = "running"
	StateError PowerState = "error"
	Terminated PowerState = "terminated"
	Stopping   PowerState = "stopping"
	Stopped    PowerState = "stopped"
)

// ErrNotFound is returned by Resolve when the provider has no record of
// the instance id.
var ErrNotFound = errors.New("cloudadapter: instance not found")

// MutationError wraps a reboot/terminate rejection or timeout. Reboot
// failures are logged and swallowed by the
// caller; terminate failures propagate so the caller can count the
// attempt and retry on the next tick.
type MutationError struct {
	Op  string
	Err error
}

func (e *MutationError) Error() string { return "cloudadapter: " + e.Op + ": " + e.Err.Error() }
func (e *MutationError) Unwrap() error { return e.Err }

// Handle is an opaque reference to the provider's view of an instance.
// The core never inspects it beyond passing it back to the adapter.
type Handle interface {
	// ID returns the instance id as the provider reports it.
	ID() string
}

// Adapter is the abstract capability set the core needs from whatever
// IaaS provider hosts a worker instance. Calls may block on network I/O
// and must never panic into the core; failures are returned as errors,
// including for Reboot, which callers treat as fire-and-forget but which
// an Adapter may still fail to submit.
type Adapter interface {
	// Resolve fetches the provider's current handle for id. Returns
	// ErrNotFound if the provider cannot locate the instance.
	Resolve(ctx context.Context, id string) (Handle, error)

	// StateOf reads the cloud-reported power state of handle.
	StateOf(ctx context.Context, handle Handle) (PowerState, error)

	// Reboot issues an asynchronous reboot of handle. The adapter does
	// not wait for the reboot to complete.
	Reboot(ctx context.Context, handle Handle) error

	// Terminate requests termination of id, optionally cancelling an
	// associated spot request first. Returns whether the provider
	// accepted the termination; it never returns an error for a
	// provider-side rejection, only for transport-level failures.
	Terminate(ctx context.Context, id string, spotRequestID string) (bool, error)

	// UserData returns the provider's instance metadata/user-data
	// mapping, read once at startup.
	UserData(ctx context.Context) (map[string]string, error)
}
