package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/fleetwatch/pkg/clock"
	"github.com/cuemby/fleetwatch/pkg/cloudadapter"
	"github.com/cuemby/fleetwatch/pkg/cloudadapter/mock"
	"github.com/cuemby/fleetwatch/pkg/config"
	"github.com/cuemby/fleetwatch/pkg/instance"
)

func newInstance(id string) *instance.Instance {
	adapter := mock.New()
	adapter.Seed(&mock.Handle{IDValue: id, State: cloudadapter.Running})
	vc := clock.NewVirtual(time.Now())
	cfg := config.Default()
	cfg.Role = config.RoleMaster
	return instance.New(id, nil, "", adapter, vc, cfg, New())
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	inst := newInstance("i-1")

	r.Add(inst)
	got, ok := r.Get("i-1")
	assert.True(t, ok)
	assert.Same(t, inst, got)
	assert.Equal(t, 1, r.Len())

	r.Remove("i-1")
	_, ok = r.Get("i-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.Remove("does-not-exist") })
}

func TestSnapshotIsIndependentOfLiveMap(t *testing.T) {
	r := New()
	r.Add(newInstance("i-1"))
	r.Add(newInstance("i-2"))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	r.Remove("i-1")
	// The snapshot already taken must be unaffected by the later removal.
	assert.Len(t, snap, 2)
	assert.Equal(t, 1, r.Len())
}
