// Package probe samples host resource usage in the background and
// serves the dispatcher a cheap, non-blocking cached reading.
package probe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcore/dispatchcore/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultInterval is how often Probe refreshes its cached snapshot.
const DefaultInterval = time.Second

// Probe is the default contracts.SystemProbe: a background goroutine
// samples CPU/RAM/temperature on an interval and atomically publishes
// the result, so Snapshot never blocks on a syscall.
type Probe struct {
	interval time.Duration

	mu   sync.RWMutex
	last types.SystemSnapshot

	sampleCount atomic.Int64
}

// New creates a Probe. It does not start sampling until Start is called.
func New(interval time.Duration) *Probe {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Probe{interval: interval}
	p.mu.Lock()
	p.last = types.SystemSnapshot{SampledAt: time.Time{}}
	p.mu.Unlock()
	return p
}

// Start runs the sampling loop until ctx is canceled. Call it in its
// own goroutine.
func (p *Probe) Start(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Msg("resource probe started")

	p.sample(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("resource probe stopped")
			return
		case <-ticker.C:
			p.sample(ctx)
		}
	}
}

// Snapshot returns the most recently sampled reading. Cheap and
// non-blocking: it never itself issues a syscall.
func (p *Probe) Snapshot() types.SystemSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *Probe) sample(ctx context.Context) {
	snap := types.SystemSnapshot{SampledAt: time.Now()}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPct = pcts[0]
	} else if err != nil {
		log.Debug().Err(err).Msg("resource probe: cpu sample failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.RAMFreeBytes = vm.Available
		snap.RAMTotalBytes = vm.Total
	} else {
		log.Debug().Err(err).Msg("resource probe: memory sample failed")
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil && len(temps) > 0 {
		var max float64
		for _, t := range temps {
			if t.Temperature > max {
				max = t.Temperature
			}
		}
		snap.TemperatureC = max
	}

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()
	p.sampleCount.Add(1)
}

// SampleCount reports how many samples have been taken, for tests and
// health diagnostics.
func (p *Probe) SampleCount() int64 {
	return p.sampleCount.Load()
}
