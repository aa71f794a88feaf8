// Package balancer orders and picks an available backend for a task,
// following one of several pluggable strategies.
package balancer

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/agentcore/dispatchcore/internal/backendpool"
	"github.com/agentcore/dispatchcore/pkg/types"
)

// Strategy names a backend-ordering algorithm.
type Strategy string

const (
	RoundRobin   Strategy = "round_robin"
	LeastInflight Strategy = "least_inflight"
	LeastLatency Strategy = "least_latency"
	IPHash       Strategy = "ip_hash"
	Weighted     Strategy = "weighted"
	Random       Strategy = "random"
)

// ErrNoBackend is returned by Pick when no available backend exists.
var ErrNoBackend = fmt.Errorf("balancer: no available backend")

// Balancer orders the live backends in a Pool according to a Strategy
// and hands the dispatcher the best candidate.
type Balancer struct {
	pool      *backendpool.Pool
	strategy  Strategy
	rrCounter uint64
}

// New creates a Balancer over pool using strategy. An empty or unknown
// strategy falls back to RoundRobin.
func New(pool *backendpool.Pool, strategy Strategy) *Balancer {
	switch strategy {
	case RoundRobin, LeastInflight, LeastLatency, IPHash, Weighted, Random:
	default:
		strategy = RoundRobin
	}
	return &Balancer{pool: pool, strategy: strategy}
}

// Pick returns the ID of the best available backend for clientIP under
// the balancer's configured strategy.
func (b *Balancer) Pick(clientIP string) (string, error) {
	candidates := b.pool.ListAvailable()
	if len(candidates) == 0 {
		return "", ErrNoBackend
	}

	ordered := b.order(candidates, clientIP)
	return ordered[0].ID, nil
}

// order sorts candidates best-first according to the balancer's
// strategy. It never mutates the input slice's backing array beyond
// the copy order makes for sorting.
func (b *Balancer) order(candidates []types.Backend, clientIP string) []types.Backend {
	ordered := make([]types.Backend, len(candidates))
	copy(ordered, candidates)
	// ListAvailable iterates a map, so its order varies between calls;
	// sorting by ID gives round_robin and ip_hash a stable list and
	// least_inflight its tie-break.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	switch b.strategy {
	case LeastInflight:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Inflight < ordered[j].Inflight
		})

	case LeastLatency:
		return b.orderLeastLatency(ordered)

	case IPHash:
		h := fnv.New32a()
		_, _ = h.Write([]byte(clientIP))
		idx := int(h.Sum32()) % len(ordered)
		if idx < 0 {
			idx += len(ordered)
		}
		rotated := make([]types.Backend, len(ordered))
		for i := range ordered {
			rotated[i] = ordered[(idx+i)%len(ordered)]
		}
		return rotated

	case Weighted:
		return weightedShuffle(ordered)

	case Random:
		rand.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })

	case RoundRobin:
		fallthrough
	default:
		idx := atomic.AddUint64(&b.rrCounter, 1)
		n := len(ordered)
		rotated := make([]types.Backend, n)
		for i := 0; i < n; i++ {
			rotated[i] = ordered[(int(idx)+i)%n]
		}
		return rotated
	}

	return ordered
}

// orderLeastLatency sorts backends with at least one latency sample
// ascending by mean latency, then appends the unsampled backends in
// round-robin order. Treating an unsampled backend's zero mean as the
// lowest latency would let it permanently starve every backend with
// real samples, so it falls back to round_robin instead of sorting as
// fastest.
func (b *Balancer) orderLeastLatency(candidates []types.Backend) []types.Backend {
	sampled := make([]types.Backend, 0, len(candidates))
	unsampled := make([]types.Backend, 0, len(candidates))
	for _, c := range candidates {
		if c.Total == 0 {
			unsampled = append(unsampled, c)
		} else {
			sampled = append(sampled, c)
		}
	}
	sort.Slice(sampled, func(i, j int) bool {
		return sampled[i].MeanLatencyMs() < sampled[j].MeanLatencyMs()
	})

	if len(unsampled) > 0 {
		idx := atomic.AddUint64(&b.rrCounter, 1)
		n := len(unsampled)
		rotated := make([]types.Backend, n)
		for i := 0; i < n; i++ {
			rotated[i] = unsampled[(int(idx)+i)%n]
		}
		unsampled = rotated
	}

	return append(sampled, unsampled...)
}

// weightedShuffle returns candidates ordered by successive weighted-random
// draws without replacement: each position is chosen from the remaining
// candidates with probability proportional to Weight (treating a
// non-positive weight as 1), so a weight-10 backend is ten times as
// likely to be drawn next as a weight-1 one.
func weightedShuffle(candidates []types.Backend) []types.Backend {
	pool := make([]types.Backend, len(candidates))
	copy(pool, candidates)
	out := make([]types.Backend, 0, len(pool))

	for len(pool) > 1 {
		total := 0
		for _, c := range pool {
			total += weightOf(c)
		}
		draw := rand.Intn(total)
		chosen := 0
		for i, c := range pool {
			draw -= weightOf(c)
			if draw < 0 {
				chosen = i
				break
			}
		}
		out = append(out, pool[chosen])
		pool = append(pool[:chosen], pool[chosen+1:]...)
	}
	if len(pool) == 1 {
		out = append(out, pool[0])
	}
	return out
}

func weightOf(b types.Backend) int {
	if b.Weight <= 0 {
		return 1
	}
	return b.Weight
}
