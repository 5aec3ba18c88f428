package cache

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSummaryRoundTrip(t *testing.T) {
	c := newTestCache(t)

	if _, ok := c.GetSummary("topic:0", "body"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	if err := c.PutSummary("topic:0", "body", "the summary"); err != nil {
		t.Fatalf("PutSummary: %v", err)
	}

	got, ok := c.GetSummary("topic:0", "body")
	if !ok || got != "the summary" {
		t.Errorf("GetSummary = %q, %v", got, ok)
	}
}

func TestSummaryBodyHashMismatchIsMiss(t *testing.T) {
	c := newTestCache(t)
	if err := c.PutSummary("topic:0", "original body", "summary"); err != nil {
		t.Fatal(err)
	}

	// Same entry ID, different content: reused IDs must not serve stale
	// summaries.
	if _, ok := c.GetSummary("topic:0", "edited body"); ok {
		t.Error("stale summary served after body change")
	}
}

func TestSummaryEntryIDSanitized(t *testing.T) {
	c := newTestCache(t)
	id := "topic/with:odd chars?"
	if err := c.PutSummary(id, "b", "s"); err != nil {
		t.Fatalf("PutSummary with unsafe ID: %v", err)
	}
	if got, ok := c.GetSummary(id, "b"); !ok || got != "s" {
		t.Errorf("GetSummary = %q, %v", got, ok)
	}
}

func TestCorruptSummaryIsMiss(t *testing.T) {
	c := newTestCache(t)
	if err := c.PutSummary("topic:1", "b", "s"); err != nil {
		t.Fatal(err)
	}
	// Truncate the stored file to simulate a torn write from a crash.
	path := c.summaryPath("topic:1")
	if err := os.WriteFile(path, []byte(`{"entry_id":"topic:1","bo`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.GetSummary("topic:1", "b"); ok {
		t.Error("corrupt cache file returned as hit")
	}
}

func TestThreadSummaryInvalidatedByEntryCount(t *testing.T) {
	c := newTestCache(t)
	if err := c.PutThreadSummary("alpha", 3, "three entries"); err != nil {
		t.Fatal(err)
	}

	if got, ok := c.GetThreadSummary("alpha", 3); !ok || got != "three entries" {
		t.Errorf("GetThreadSummary = %q, %v", got, ok)
	}
	if _, ok := c.GetThreadSummary("alpha", 4); ok {
		t.Error("thread summary served after entry count changed")
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c := newTestCache(t)
	vec := []float64{0.1, -0.2, 0.3}

	if _, ok := c.GetEmbedding("some text"); ok {
		t.Fatal("unexpected hit")
	}
	if err := c.PutEmbedding("some text", vec); err != nil {
		t.Fatal(err)
	}
	got, ok := c.GetEmbedding("some text")
	if !ok || !reflect.DeepEqual(got, vec) {
		t.Errorf("GetEmbedding = %v, %v", got, ok)
	}
}

func TestBatchEmbeddingLookup(t *testing.T) {
	c := newTestCache(t)
	if err := c.PutEmbedding("cached", []float64{1}); err != nil {
		t.Fatal(err)
	}

	results, missing := c.GetEmbeddings([]string{"cached", "miss-a", "miss-b"})
	if results[0] == nil {
		t.Error("cached text not returned")
	}
	if !reflect.DeepEqual(missing, []int{1, 2}) {
		t.Errorf("missing = %v, want [1 2]", missing)
	}
}

func TestDefaultDirEnvOverride(t *testing.T) {
	t.Setenv("WATERCOOLER_CACHE_DIR", filepath.Join(t.TempDir(), "custom"))
	if got := DefaultDir(); filepath.Base(got) != "custom" {
		t.Errorf("DefaultDir = %q", got)
	}
}
