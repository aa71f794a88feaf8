// Package backendpool tracks the set of inference backends and their
// health state, reserving and releasing in-flight slots for the
// balancer and dispatcher.
package backendpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentcore/dispatchcore/pkg/types"
)

// DegradeAfter is the number of consecutive failures that moves a
// backend from online to degraded.
const DegradeAfter = 3

// OfflineAfter is the number of further consecutive failures (on top of
// DegradeAfter) that moves a backend from degraded to offline.
const OfflineAfter = 5

// RecoverAfter is the number of consecutive successes required to move
// a degraded backend back to online. An offline backend returns to
// degraded after a single success.
const RecoverAfter = 3

// ErrNoSuchBackend is returned by operations addressing an unknown ID.
type ErrNoSuchBackend struct{ ID string }

func (e *ErrNoSuchBackend) Error() string { return fmt.Sprintf("backendpool: no such backend %q", e.ID) }

// ErrAtCapacity is returned by Reserve when a backend has no free
// inflight slots.
type ErrAtCapacity struct{ ID string }

func (e *ErrAtCapacity) Error() string { return fmt.Sprintf("backendpool: backend %q is at capacity", e.ID) }

// Pool is the registry of known backends and their live health state.
// Safe for concurrent use.
type Pool struct {
	mu       sync.RWMutex
	backends map[string]*entry
}

type entry struct {
	mu sync.Mutex
	b  types.Backend
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{backends: make(map[string]*entry)}
}

// Add registers a backend in the Online state. Re-adding an existing ID
// replaces its static configuration but keeps its live counters.
func (p *Pool) Add(b types.Backend) {
	if b.State == "" {
		b.State = types.BackendOnline
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.backends[b.ID]; ok {
		existing.mu.Lock()
		existing.b.Address = b.Address
		existing.b.Weight = b.Weight
		existing.b.MaxInflight = b.MaxInflight
		existing.mu.Unlock()
		return
	}
	p.backends[b.ID] = &entry{b: b}
}

// Remove deregisters a backend.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.backends, id)
}

// Get returns a snapshot of a backend's current state.
func (p *Pool) Get(id string) (types.Backend, error) {
	p.mu.RLock()
	e, ok := p.backends[id]
	p.mu.RUnlock()
	if !ok {
		return types.Backend{}, &ErrNoSuchBackend{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b, nil
}

// List returns a snapshot of every registered backend.
func (p *Pool) List() []types.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Backend, 0, len(p.backends))
	for _, e := range p.backends {
		e.mu.Lock()
		out = append(out, e.b)
		e.mu.Unlock()
	}
	return out
}

// ListAvailable returns backends in the Online or Degraded state with a
// free inflight slot, the set the balancer is allowed to pick from.
func (p *Pool) ListAvailable() []types.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Backend, 0, len(p.backends))
	for _, e := range p.backends {
		e.mu.Lock()
		if (e.b.State == types.BackendOnline || e.b.State == types.BackendDegraded) &&
			(e.b.MaxInflight <= 0 || e.b.Inflight < int64(e.b.MaxInflight)) {
			out = append(out, e.b)
		}
		e.mu.Unlock()
	}
	return out
}

// Reserve claims an inflight slot on id. Callers must call Release
// exactly once for each successful Reserve.
func (p *Pool) Reserve(id string) error {
	p.mu.RLock()
	e, ok := p.backends[id]
	p.mu.RUnlock()
	if !ok {
		return &ErrNoSuchBackend{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.b.MaxInflight > 0 && e.b.Inflight >= int64(e.b.MaxInflight) {
		return &ErrAtCapacity{ID: id}
	}
	e.b.Inflight++
	return nil
}

// Release frees an inflight slot and records the outcome and latency of
// the call that held it, driving the health state machine.
func (p *Pool) Release(id string, success bool, latencyMs int64) error {
	p.mu.RLock()
	e, ok := p.backends[id]
	p.mu.RUnlock()
	if !ok {
		return &ErrNoSuchBackend{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.b.Inflight > 0 {
		e.b.Inflight--
	}
	e.b.Total++
	e.b.SumLatencyMs += latencyMs
	e.b.LastCheckAt = time.Now()

	if success {
		e.b.ConsecutiveOK++
		e.b.ConsecutiveFail = 0
	} else {
		e.b.ConsecutiveFail++
		e.b.Failures++
		e.b.ConsecutiveOK = 0
	}

	prev := e.b.State
	e.b.State = nextState(e.b.State, e.b.ConsecutiveOK, e.b.ConsecutiveFail)
	if e.b.State != prev {
		log.Info().Str("backend", id).Str("from", string(prev)).Str("to", string(e.b.State)).Msg("backend health state changed")
	}
	return nil
}

// nextState applies the health state machine. Maintenance is a manual
// override and is never left automatically.
func nextState(current types.BackendState, consecutiveOK, consecutiveFail int) types.BackendState {
	switch current {
	case types.BackendMaintenance:
		return current
	case types.BackendOnline:
		if consecutiveFail >= DegradeAfter {
			return types.BackendDegraded
		}
		return current
	case types.BackendDegraded:
		// ConsecutiveFail is not reset on the online->degraded transition,
		// so this threshold is OfflineAfter further failures on top of the
		// ones that already moved the backend to degraded.
		if consecutiveFail >= DegradeAfter+OfflineAfter {
			return types.BackendOffline
		}
		if consecutiveOK >= RecoverAfter {
			return types.BackendOnline
		}
		return current
	case types.BackendOffline:
		if consecutiveOK >= 1 {
			return types.BackendDegraded
		}
		return current
	default:
		return types.BackendOnline
	}
}

// SetState forces a backend into a state, e.g. Maintenance. It resets
// the consecutive counters so the state machine starts fresh on the
// next Release.
func (p *Pool) SetState(id string, state types.BackendState) error {
	p.mu.RLock()
	e, ok := p.backends[id]
	p.mu.RUnlock()
	if !ok {
		return &ErrNoSuchBackend{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.b.State = state
	e.b.ConsecutiveOK = 0
	e.b.ConsecutiveFail = 0
	return nil
}
