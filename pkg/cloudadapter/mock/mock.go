// Package mock is an in-memory cloudadapter.Adapter used by pkg/instance's
// tests: a test seeds the next handle Resolve should return, flips its
// State field directly, and scripts whether Terminate calls for an id
// should succeed or fail.
package mock

import (
	"context"
	"sync"

	"github.com/cuemby/fleetwatch/pkg/cloudadapter"
)

// Handle is the mock's cloudadapter.Handle. Tests mutate State directly
// between Maintain calls to simulate the provider's observed state
// changing out from under the supervisor.
type Handle struct {
	IDValue      string
	State        cloudadapter.PowerState
	WasRebooted  bool
	RebootCount  int
}

func (h *Handle) ID() string { return h.IDValue }

// terminationExpectation scripts the outcome of every Terminate call for
// a given instance id until it is replaced.
type terminationExpectation struct {
	spotRequestID string
	success       bool
}

// Adapter is a goroutine-safe mock cloudadapter.Adapter.
type Adapter struct {
	mu           sync.Mutex
	handles      map[string]*Handle
	terminations map[string]terminationExpectation
	userData     map[string]string
}

// New creates an empty mock adapter.
func New() *Adapter {
	return &Adapter{
		handles:      make(map[string]*Handle),
		terminations: make(map[string]terminationExpectation),
		userData:     make(map[string]string),
	}
}

// Seed registers (or replaces) the handle Resolve returns for h.ID().
func (a *Adapter) Seed(h *Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handles[h.IDValue] = h
}

// ExpectTerminate scripts the result of every later Terminate(id, ...)
// call; the expectation is not consumed, and a later ExpectTerminate for
// the same id replaces it. spotRequestID is stored but not checked.
func (a *Adapter) ExpectTerminate(id string, spotRequestID string, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terminations[id] = terminationExpectation{spotRequestID: spotRequestID, success: success}
}

// SetUserData configures the mapping UserData returns.
func (a *Adapter) SetUserData(data map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userData = data
}

func (a *Adapter) Resolve(_ context.Context, id string) (cloudadapter.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[id]
	if !ok {
		return nil, cloudadapter.ErrNotFound
	}
	return h, nil
}

func (a *Adapter) StateOf(_ context.Context, handle cloudadapter.Handle) (cloudadapter.PowerState, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return cloudadapter.Unknown, cloudadapter.ErrNotFound
	}
	return h.State, nil
}

func (a *Adapter) Reboot(_ context.Context, handle cloudadapter.Handle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return cloudadapter.ErrNotFound
	}
	h.WasRebooted = true
	h.RebootCount++
	return nil
}

func (a *Adapter) Terminate(_ context.Context, id string, spotRequestID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	exp, ok := a.terminations[id]
	if !ok {
		// No expectation set: default to success, matching a provider
		// that simply accepts the request.
		return true, nil
	}
	_ = spotRequestID
	return exp.success, nil
}

func (a *Adapter) UserData(_ context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userData, nil
}
