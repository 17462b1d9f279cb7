// Package registry implements the WorkerRegistry: the master manager's
// mutable set of live worker instances. Membership is the single source
// of truth for "does this worker still count?" — the core mutates it
// only on successful termination and on exhausted-budget drop.
package registry

import (
	"sync"

	"github.com/cuemby/fleetwatch/pkg/instance"
)

// Registry is a thread-safe id -> *instance.Instance map. A new worker
// booting calls Add through an upstream provisioning collaborator; this
// package only needs to support the core's two removal paths and the
// monitor loop's iteration.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*instance.Instance
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{instances: make(map[string]*instance.Instance)}
}

// Add registers a live instance. Safe to call concurrently with Remove
// and Snapshot.
func (r *Registry) Add(inst *instance.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID()] = inst
}

// Remove drops an instance by id. A no-op if the id is not present,
// since a termination worker and a budget-exhaustion drop could race on
// the same instance.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// Get returns the instance for id, if still registered.
func (r *Registry) Get(id string) (*instance.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Len returns the number of currently registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// CountByState tallies current members by their last observed power
// state, keyed by cloudadapter.PowerState string value. Used by
// pkg/metrics.Collector to drive the InstancesByState gauge.
func (r *Registry) CountByState() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, inst := range r.instances {
		counts[string(inst.MState())]++
	}
	return counts
}

// Snapshot returns a point-in-time copy of the registered instances. The
// monitor loop iterates this copy rather than the live map so that a
// concurrent termination removing an instance mid-pass never corrupts
// the iteration.
func (r *Registry) Snapshot() []*instance.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}
