package types

import "time"

// BackendState is a Backend's health-machine state.
type BackendState string

const (
	BackendOnline      BackendState = "online"
	BackendDegraded    BackendState = "degraded"
	BackendOffline     BackendState = "offline"
	BackendMaintenance BackendState = "maintenance"
)

// Backend is a reachable model-serving endpoint. BackendPool owns all
// mutation of this type; every other reader sees only snapshots.
type Backend struct {
	ID          string       `json:"id"`
	Address     string       `json:"address"`
	Weight      int          `json:"weight"`
	MaxInflight int          `json:"max_inflight"`
	State       BackendState `json:"state"`

	Inflight     int64 `json:"inflight"`
	Total        int64 `json:"total"`
	Failures     int64 `json:"failures"`
	SumLatencyMs int64 `json:"sum_latency_ms"`

	LastCheckAt     time.Time `json:"last_check_at"`
	ConsecutiveOK   int       `json:"consecutive_ok"`
	ConsecutiveFail int       `json:"consecutive_fail"`
}

// MeanLatencyMs returns the backend's rolling mean latency, or 0 if it
// has never completed a request.
func (b Backend) MeanLatencyMs() int64 {
	if b.Total == 0 {
		return 0
	}
	return b.SumLatencyMs / b.Total
}
