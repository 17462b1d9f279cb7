package metrics

import (
	"time"
)

// StateCounter is implemented by pkg/registry.Registry. It is narrowed to
// an interface here, rather than importing pkg/registry directly, so this
// package stays free of internal dependencies: both pkg/instance and
// pkg/monitor import pkg/metrics, and neither may be imported back.
type StateCounter interface {
	CountByState() map[string]int
	Len() int
}

// Collector periodically snapshots a registry's per-state instance
// counts into InstancesByState and RegistrySize, for deployments that
// want those gauges refreshed on their own cadence rather than only as a
// side effect of each monitor tick.
type Collector struct {
	source StateCounter
	stopCh chan struct{}
}

// NewCollector creates a Collector over source.
func NewCollector(source StateCounter) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	RegistrySize.Set(float64(c.source.Len()))
	for state, count := range c.source.CountByState() {
		InstancesByState.WithLabelValues(state).Set(float64(count))
	}
}
