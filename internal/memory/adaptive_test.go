package memory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcore/dispatchcore/internal/memory"
	"github.com/agentcore/dispatchcore/pkg/types"
)

func TestAddRejectsBelowImportanceThreshold(t *testing.T) {
	m := memory.New(memory.Options{ImportanceThreshold: 0.5})
	ok := m.Add(types.Experience{ID: "e1", Kind: types.TaskGenerate}, 0.3)
	if ok {
		t.Fatal("expected Add() to reject an entry below the importance threshold")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
}

func TestAddAdmitsAtOrAboveThreshold(t *testing.T) {
	m := memory.New(memory.Options{ImportanceThreshold: 0.5})
	ok := m.Add(types.Experience{ID: "e1", Kind: types.TaskGenerate, Input: map[string]string{"a": "b"}}, 0.5)
	if !ok {
		t.Fatal("expected Add() to admit an entry at the importance threshold")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestTokenBudgetEnforcedByEviction(t *testing.T) {
	e1 := types.Experience{ID: "e1", Kind: types.TaskGenerate, Input: map[string]string{"x": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}}
	e1.TokenCost = memory.EstimateTokenCost(e1.Input)

	e2 := types.Experience{ID: "e2", Kind: types.TaskGenerate, Input: map[string]string{"y": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}}
	e2.TokenCost = memory.EstimateTokenCost(e2.Input)

	budget := e1.TokenCost + e2.TokenCost - 1
	m := memory.New(memory.Options{MaxTokens: budget, ImportanceThreshold: 0.5})

	if !m.Add(e1, 0.9) {
		t.Fatal("expected first Add() to succeed")
	}
	if !m.Add(e2, 0.9) {
		t.Fatal("expected second Add() to succeed by evicting the first")
	}

	if m.UsedTokens() > budget {
		t.Fatalf("UsedTokens() = %d, exceeds budget %d", m.UsedTokens(), budget)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want exactly one survivor", m.Len())
	}
}

func TestTopKFiltersByKindAndOrdersByRecency(t *testing.T) {
	m := memory.New(memory.Options{MaxTokens: 10000, ImportanceThreshold: 0})
	now := time.Now()

	m.Add(types.Experience{ID: "old", Kind: types.TaskGenerate, CreatedAt: now.Add(-time.Hour)}, 0.9)
	m.Add(types.Experience{ID: "new", Kind: types.TaskGenerate, CreatedAt: now}, 0.9)
	m.Add(types.Experience{ID: "other-kind", Kind: types.TaskEmbed, CreatedAt: now}, 0.9)

	top := m.TopK(types.TaskGenerate, 5)
	if len(top) != 2 {
		t.Fatalf("TopK() returned %d entries, want 2", len(top))
	}
	if top[0].ID != "new" {
		t.Fatalf("TopK()[0].ID = %q, want 'new' (most recent first)", top[0].ID)
	}
}

func TestScoreWeightsImportanceAgeAndAccess(t *testing.T) {
	now := time.Now()
	fresh := types.Experience{Importance: 0.9, CreatedAt: now, AccessCount: 0}
	stale := types.Experience{Importance: 0.9, CreatedAt: now.Add(-24 * time.Hour), AccessCount: 0}

	if memory.Score(fresh, now) <= memory.Score(stale, now) {
		t.Fatal("expected a fresher entry to score higher than an older one with equal importance")
	}
}

func TestRelevanceJaccardSimilarity(t *testing.T) {
	entry := types.Experience{Input: map[string]string{"topic": "go", "kind": "generate"}}
	identical := map[string]string{"topic": "go", "kind": "generate"}
	disjoint := map[string]string{"topic": "rust", "kind": "chat"}

	if got := memory.Relevance(entry, identical); got != 1.0 {
		t.Errorf("Relevance(identical) = %v, want 1.0", got)
	}
	if got := memory.Relevance(entry, disjoint); got != 0.0 {
		t.Errorf("Relevance(disjoint) = %v, want 0.0", got)
	}
}

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	m := memory.New(memory.Options{MaxTokens: 10000, ImportanceThreshold: 0})
	m.Add(types.Experience{ID: "e1", Kind: types.TaskGenerate, Input: map[string]string{"a": "b"}}, 0.8)
	m.Add(types.Experience{ID: "e2", Kind: types.TaskChat, Input: map[string]string{"c": "d"}}, 0.8)

	path := filepath.Join(t.TempDir(), "memory.log")
	if err := m.Checkpoint(context.Background(), path); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}

	restored := memory.New(memory.Options{MaxTokens: 10000, ImportanceThreshold: 0})
	if err := restored.Restore(context.Background(), path); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("Len() after restore = %d, want 2", restored.Len())
	}
}

func TestRestoreMissingFileIsNotAnError(t *testing.T) {
	m := memory.New(memory.Options{})
	if err := m.Restore(context.Background(), filepath.Join(t.TempDir(), "absent.log")); err != nil {
		t.Fatalf("Restore() of missing file error = %v, want nil", err)
	}
}
