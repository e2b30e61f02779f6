package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// usageSampler derives process CPU load from the delta between two status
// snapshots.
type usageSampler struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newUsageSampler() *usageSampler {
	return &usageSampler{
		samples: []metrics.Sample{{Name: cpuSecondsMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

// Snapshot reads the current usage. The first call reports zero CPU.
func (u *usageSampler) Snapshot() ResourceUsage {
	if u == nil {
		return ResourceUsage{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.samples) == 0 {
		u.samples = []metrics.Sample{{Name: cpuSecondsMetric}}
	}
	metrics.Read(u.samples)

	now := time.Now()
	var cpuPercent float64
	if sample := u.samples[0]; sample.Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := sample.Value.Float64()
		if !u.lastSample.IsZero() {
			wall := now.Sub(u.lastSample).Seconds()
			if wall > 0 && u.numCPU > 0 {
				cpuPercent = (cpuSeconds - u.lastCPUSeconds) / wall / u.numCPU * 100
			}
		}
		u.lastCPUSeconds = cpuSeconds
	}
	u.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
