package vectorrecall_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/agentcore/dispatchcore/internal/vectorrecall"
)

func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestSearchReturnsExactMatchFirst(t *testing.T) {
	idx := vectorrecall.New(4)
	if err := idx.Upsert("1", unitVector(4, 0)); err != nil {
		t.Fatalf("Upsert(1) error = %v", err)
	}
	if err := idx.Upsert("2", unitVector(4, 1)); err != nil {
		t.Fatalf("Upsert(2) error = %v", err)
	}

	matches, err := idx.Search(unitVector(4, 0), 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "1" || matches[0].Distance != 0 {
		t.Fatalf("Search() = %+v, want [{1 0}]", matches)
	}
}

func TestDeleteTombstonesAndSearchSkipsIt(t *testing.T) {
	idx := vectorrecall.New(4)
	_ = idx.Upsert("1", unitVector(4, 0))
	_ = idx.Upsert("2", unitVector(4, 1))

	idx.Delete("1")

	matches, err := idx.Search(unitVector(4, 0), 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "2" {
		t.Fatalf("Search() = %+v, want a single match for id 2", matches)
	}
	wantDist := math.Sqrt(2)
	if math.Abs(matches[0].Distance-wantDist) > 1e-9 {
		t.Fatalf("Search() distance = %v, want %v", matches[0].Distance, wantDist)
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	idx := vectorrecall.New(4)
	err := idx.Upsert("1", []float32{1, 0})
	if err == nil {
		t.Fatal("expected Upsert() to reject a vector of the wrong dimension")
	}
}

func TestSearchCapsAtLiveSize(t *testing.T) {
	idx := vectorrecall.New(3)
	_ = idx.Upsert("1", unitVector(3, 0))

	matches, err := idx.Search(unitVector(3, 0), 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Search() returned %d matches, want min(5, 1) = 1", len(matches))
	}
}

func TestUpsertOfSameIDSupersedesPrior(t *testing.T) {
	idx := vectorrecall.New(3)
	_ = idx.Upsert("1", unitVector(3, 0))
	_ = idx.Upsert("1", unitVector(3, 1))

	matches, err := idx.Search(unitVector(3, 1), 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Distance != 0 {
		t.Fatalf("Search() = %+v, want a single exact match after re-upsert", matches)
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	idx := vectorrecall.New(3)
	_ = idx.Upsert("1", unitVector(3, 0))
	_ = idx.Upsert("2", unitVector(3, 1))
	idx.Delete("1")

	path := filepath.Join(t.TempDir(), "vector.index")
	if err := idx.Snapshot(path); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	restored := vectorrecall.New(3)
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("Len() after load = %d, want 1", restored.Len())
	}
	matches, err := restored.Search(unitVector(3, 1), 1)
	if err != nil {
		t.Fatalf("Search() after load error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "2" {
		t.Fatalf("Search() after load = %+v, want id 2", matches)
	}
}

func TestFallbackEmbedIsDeterministic(t *testing.T) {
	a := vectorrecall.FallbackEmbed("hello world", 8)
	b := vectorrecall.FallbackEmbed("hello world", 8)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("FallbackEmbed is not deterministic at index %d: %v != %v", i, a[i], b[i])
		}
	}
	c := vectorrecall.FallbackEmbed("goodbye world", 8)
	if len(c) != 8 {
		t.Fatalf("FallbackEmbed length = %d, want 8", len(c))
	}
}
