package spatial

import (
	"sort"
	"testing"
)

func queryIDs(idx *Index, scene string, x, y, radius float64) []string {
	ids := idx.Query(scene, x, y, radius)
	sort.Strings(ids)
	return ids
}

func TestInsertQueryRemove(t *testing.T) {
	idx := NewIndex(64)
	idx.Update("s1", "t1", 100, 100, 50, 50)

	got := queryIDs(idx, "s1", 100, 100, 10)
	if len(got) != 1 || got[0] != "t1" {
		t.Fatalf("query after insert = %v, want [t1]", got)
	}

	idx.Remove("s1", "t1")
	if got := idx.Query("s1", 100, 100, 10); len(got) != 0 {
		t.Fatalf("query after remove = %v, want empty", got)
	}

	// Removing again is a no-op.
	idx.Remove("s1", "t1")
}

func TestMovePurgesStaleCells(t *testing.T) {
	idx := NewIndex(64)
	idx.Update("s1", "t1", 0, 0, 40, 40)
	idx.Update("s1", "t1", 640, 640, 40, 40)

	if got := idx.Query("s1", 20, 20, 10); len(got) != 0 {
		t.Fatalf("old location still indexed: %v", got)
	}
	got := queryIDs(idx, "s1", 660, 660, 10)
	if len(got) != 1 || got[0] != "t1" {
		t.Fatalf("new location query = %v, want [t1]", got)
	}
}

func TestBoxSpansMultipleCells(t *testing.T) {
	idx := NewIndex(64)
	// A 130x130 box starting at 60 crosses cell boundaries on both axes.
	idx.Update("s1", "big", 60, 60, 130, 130)

	for _, probe := range [][2]float64{{60, 60}, {190, 60}, {60, 190}, {190, 190}} {
		got := idx.Query("s1", probe[0], probe[1], 1)
		if len(got) != 1 || got[0] != "big" {
			t.Fatalf("probe %v = %v, want [big]", probe, got)
		}
	}
}

func TestQueryIsConservativeSuperset(t *testing.T) {
	idx := NewIndex(64)
	idx.Update("s1", "near-edge", 70, 0, 10, 10)

	// The entity is ~60px away but shares the adjacent cell ring, so a
	// coarse query may return it. It must never be missed when in range.
	got := queryIDs(idx, "s1", 0, 0, 80)
	if len(got) != 1 || got[0] != "near-edge" {
		t.Fatalf("in-range entity missing: %v", got)
	}
}

func TestScenesAreIsolated(t *testing.T) {
	idx := NewIndex(64)
	idx.Update("s1", "t1", 0, 0, 10, 10)
	idx.Update("s2", "t2", 0, 0, 10, 10)

	got := queryIDs(idx, "s1", 0, 0, 10)
	if len(got) != 1 || got[0] != "t1" {
		t.Fatalf("scene s1 query = %v, want [t1]", got)
	}

	idx.RemoveScene("s2")
	if got := idx.Query("s2", 0, 0, 10); len(got) != 0 {
		t.Fatalf("scene s2 should be empty after RemoveScene, got %v", got)
	}
	if !idx.Contains("s1", "t1") {
		t.Fatal("scene s1 should be untouched")
	}
}

func TestUnknownSceneReturnsEmpty(t *testing.T) {
	idx := NewIndex(64)
	if got := idx.Query("missing", 0, 0, 100); got != nil {
		t.Fatalf("unknown scene query = %v, want nil", got)
	}
}

func TestQueryDeduplicatesMultiCellEntities(t *testing.T) {
	idx := NewIndex(64)
	idx.Update("s1", "wide", 0, 0, 200, 200)

	got := idx.Query("s1", 100, 100, 100)
	if len(got) != 1 {
		t.Fatalf("entity reported %d times, want once: %v", len(got), got)
	}
}
