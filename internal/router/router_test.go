package router_test

import (
	"testing"

	"github.com/agentcore/dispatchcore/internal/router"
	"github.com/agentcore/dispatchcore/pkg/types"
)

func testVariants() []types.ModelVariant {
	return []types.ModelVariant{
		{Name: "small", MinRAMBytes: 2 << 30, QualityScore: 0.5},
		{Name: "large", MinRAMBytes: 16 << 30, QualityScore: 0.95},
		{Name: "medium", MinRAMBytes: 8 << 30, QualityScore: 0.8},
	}
}

func TestChoosePicksHeaviestThatFits(t *testing.T) {
	r := router.New(testVariants())
	v, err := r.Choose(types.SystemSnapshot{RAMFreeBytes: 10 << 30})
	if err != nil {
		t.Fatalf("Choose() error = %v", err)
	}
	if v.Name != "medium" {
		t.Fatalf("Choose() = %q, want 'medium' (largest variant that fits 10GiB)", v.Name)
	}
}

func TestChoosePicksLargestWhenAbundantRAM(t *testing.T) {
	r := router.New(testVariants())
	v, err := r.Choose(types.SystemSnapshot{RAMFreeBytes: 64 << 30})
	if err != nil {
		t.Fatalf("Choose() error = %v", err)
	}
	if v.Name != "large" {
		t.Fatalf("Choose() = %q, want 'large'", v.Name)
	}
}

func TestChooseFallsBackToLightestBelowFloor(t *testing.T) {
	r := router.New(testVariants())
	v, err := r.Choose(types.SystemSnapshot{RAMFreeBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Choose() error = %v", err)
	}
	if v.Name != "small" {
		t.Fatalf("Choose() below floor = %q, want the lightest variant 'small'", v.Name)
	}
}

func TestChooseWithNoVariantsErrors(t *testing.T) {
	r := router.New(nil)
	if _, err := r.Choose(types.SystemSnapshot{RAMFreeBytes: 1 << 30}); err == nil {
		t.Fatal("expected Choose() with no configured variants to error")
	}
}

func TestVariantsAreSortedHeaviestFirstRegardlessOfInputOrder(t *testing.T) {
	r := router.New(testVariants())
	vs := r.Variants()
	for i := 1; i < len(vs); i++ {
		if vs[i-1].MinRAMBytes < vs[i].MinRAMBytes {
			t.Fatalf("Variants() not sorted heaviest-first: %+v", vs)
		}
	}
}
