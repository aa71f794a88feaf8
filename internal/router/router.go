// Package router implements ModelRouter: it chooses the heaviest model
// variant the currently available RAM can support.
package router

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentcore/dispatchcore/pkg/types"
)

// ModelRouter holds an ordered list of ModelVariants, heaviest (largest
// min_ram_bytes) first, and chooses among them given a resource snapshot.
type ModelRouter struct {
	mu       sync.RWMutex
	variants []types.ModelVariant
}

// New creates a ModelRouter over variants, sorting them heaviest-first
// by MinRAMBytes regardless of input order.
func New(variants []types.ModelVariant) *ModelRouter {
	sorted := make([]types.ModelVariant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinRAMBytes > sorted[j].MinRAMBytes
	})
	return &ModelRouter{variants: sorted}
}

// Choose returns the first (heaviest) variant whose MinRAMBytes fits
// within snapshot.RAMFreeBytes. If none fit, it returns the lightest
// variant and logs ram_below_floor.
func (r *ModelRouter) Choose(snapshot types.SystemSnapshot) (types.ModelVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.variants) == 0 {
		return types.ModelVariant{}, errNoVariants
	}

	for _, v := range r.variants {
		if v.MinRAMBytes <= snapshot.RAMFreeBytes {
			return v, nil
		}
	}

	lightest := r.variants[len(r.variants)-1]
	log.Warn().
		Str("event", "ram_below_floor").
		Uint64("ram_free_bytes", snapshot.RAMFreeBytes).
		Uint64("lightest_min_ram_bytes", lightest.MinRAMBytes).
		Str("variant", lightest.Name).
		Msg("no variant fits available RAM; falling back to the lightest")
	return lightest, nil
}

// Variants returns a snapshot of the router's configured variants,
// heaviest first.
func (r *ModelRouter) Variants() []types.ModelVariant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ModelVariant, len(r.variants))
	copy(out, r.variants)
	return out
}

// SetVariants replaces the router's variant list, re-sorting it
// heaviest-first.
func (r *ModelRouter) SetVariants(variants []types.ModelVariant) {
	sorted := make([]types.ModelVariant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinRAMBytes > sorted[j].MinRAMBytes
	})
	r.mu.Lock()
	r.variants = sorted
	r.mu.Unlock()
}

type noVariantsError struct{}

func (noVariantsError) Error() string { return "router: no model variants configured" }

var errNoVariants = noVariantsError{}
