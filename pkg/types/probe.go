package types

import "time"

// SnapshotClass classifies a SystemSnapshot into a coarse resource-pressure
// band, distinguishing degraded (elevated but serving) from critical
// (admission should be refused).
type SnapshotClass string

const (
	ClassNominal  SnapshotClass = "nominal"
	ClassDegraded SnapshotClass = "degraded"
	ClassCritical SnapshotClass = "critical"
)

// SystemSnapshot is an immutable, timestamped resource sample.
// GPU and temperature fields may legitimately be zero on platforms
// without sensors — callers must not treat zero as "cold".
type SystemSnapshot struct {
	CPUPct        float64   `json:"cpu_pct"`
	RAMFreeBytes  uint64    `json:"ram_free_bytes"`
	RAMTotalBytes uint64    `json:"ram_total_bytes"`
	TemperatureC  float64   `json:"temperature_c"`
	GPUPresent    bool      `json:"gpu_present"`
	GPULoadPct    float64   `json:"gpu_load_pct"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Classify buckets the snapshot per the Dispatcher's admission thresholds:
// critical at CPU >= 90%% or temperature >= 90C, degraded at CPU >= 80%%
// or temperature >= 80C, nominal otherwise.
func (s SystemSnapshot) Classify() SnapshotClass {
	if s.CPUPct >= 90 || s.TemperatureC >= 90 {
		return ClassCritical
	}
	if s.CPUPct >= 80 || s.TemperatureC >= 80 {
		return ClassDegraded
	}
	return ClassNominal
}
