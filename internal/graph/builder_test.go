package graph

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/steveyegge/watercooler/internal/chunk"
	"github.com/steveyegge/watercooler/internal/llm"
	"github.com/steveyegge/watercooler/internal/types"
)

const threadFixture = `Title: Cache rollout
Status: open
Updated: 2025-06-01T12:00:00Z

---
Entry: planner 2025-05-30T09:00:00Z
Role: planner
Type: Plan

We should stage the rollout in two phases.

---
Entry: critic 2025-05-31T10:30:00Z
Role: critic
Type: Note

Phase two needs a fallback story before sign off.
`

func writeThreadFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAddThreadAndChunk(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "cache-rollout.md", threadFixture)

	b := NewBuilder(BuilderConfig{})
	if err := b.AddThread(path); err != nil {
		t.Fatal(err)
	}

	if len(b.Graph.Threads) != 1 || len(b.Graph.Entries) != 2 {
		t.Fatalf("threads=%d entries=%d", len(b.Graph.Threads), len(b.Graph.Entries))
	}

	b.ChunkAllEntries()
	if len(b.Graph.Chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	for _, e := range b.Graph.EntryList() {
		if len(e.ChunkIDs) == 0 {
			t.Errorf("entry %s has no chunk IDs", e.EntryID)
		}
		for _, cid := range e.ChunkIDs {
			if _, ok := b.Graph.Chunks[cid]; !ok {
				t.Errorf("entry %s references unknown chunk %s", e.EntryID, cid)
			}
		}
	}

	// Chunking twice must not duplicate.
	before := len(b.Graph.Chunks)
	b.ChunkAllEntries()
	if len(b.Graph.Chunks) != before {
		t.Errorf("chunks grew from %d to %d on second pass", before, len(b.Graph.Chunks))
	}

	var containsEntry, containsChunk bool
	for _, edge := range b.Graph.Edges {
		if edge.Kind == types.EdgeContains {
			if _, ok := b.Graph.Entries[edge.Target]; ok {
				containsEntry = true
			}
			if _, ok := b.Graph.Chunks[edge.Target]; ok {
				containsChunk = true
			}
		}
	}
	if !containsEntry || !containsChunk {
		t.Errorf("missing CONTAINS edges: entry=%v chunk=%v", containsEntry, containsChunk)
	}
}

type stubClient struct {
	calls atomic.Int32
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	return "stub summary", nil
}

func TestGenerateSummariesFillsEntriesAndThreads(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "cache-rollout.md", threadFixture)

	client := &stubClient{}
	cfg := llm.DefaultSummarizerConfig()
	cfg.MinBodyChars = 10
	b := NewBuilder(BuilderConfig{
		Summarizer:    llm.NewSummarizer(client, nil, cfg),
		MaxConcurrent: 2,
	})
	if err := b.AddThread(path); err != nil {
		t.Fatal(err)
	}

	var lastDone, total int
	err := b.GenerateSummaries(context.Background(), func(done, tot int) {
		lastDone, total = done, tot
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range b.Graph.EntryList() {
		if e.Summary != "stub summary" {
			t.Errorf("entry %s summary = %q", e.EntryID, e.Summary)
		}
	}
	th := b.Graph.ThreadList()[0]
	// Two entries concatenate instead of calling the LLM again.
	if th.Summary != "stub summary stub summary" {
		t.Errorf("thread summary = %q", th.Summary)
	}
	if lastDone != total || total != 3 {
		t.Errorf("progress done=%d total=%d", lastDone, total)
	}
}

func TestGenerateEmbeddingsNilEmbedder(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	b.Graph.AddThreadNode(&types.Thread{ThreadID: "t", Summary: "thread summary"})
	b.Graph.AddEntryNode(&types.Entry{EntryID: "t:0", ThreadID: "t", Summary: "entry summary"})
	b.Graph.AddChunkNode(&types.Chunk{ChunkID: "c0", EntryID: "t:0", ThreadID: "t", Text: "chunk text"})

	// Nil embedder: no-op, no error.
	if err := b.GenerateEmbeddings(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(b.Graph.Threads["t"].Embedding) != 0 {
		t.Error("embedding set with nil embedder")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "cache-rollout.md", threadFixture)

	b := NewBuilder(BuilderConfig{ChunkConfig: chunk.WatercoolerConfig()})
	if err := b.AddThread(path); err != nil {
		t.Fatal(err)
	}
	b.ChunkAllEntries()
	b.Graph.Threads["cache-rollout"].Summary = "a summary"
	b.Graph.Threads["cache-rollout"].Embedding = []float64{0.1, 0.2}

	out := filepath.Join(t.TempDir(), "graph.json")
	if err := b.Graph.Save(out); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(loaded.ThreadList(), b.Graph.ThreadList()) {
		t.Error("threads differ after round trip")
	}
	if !reflect.DeepEqual(loaded.EntryList(), b.Graph.EntryList()) {
		t.Error("entries differ after round trip")
	}
	if !reflect.DeepEqual(loaded.ChunkList(), b.Graph.ChunkList()) {
		t.Error("chunks differ after round trip")
	}
	if !reflect.DeepEqual(loaded.Edges, b.Graph.Edges) {
		t.Error("edges differ after round trip")
	}
	if !reflect.DeepEqual(loaded.Chunker, b.Graph.Chunker) {
		t.Error("chunker info differs after round trip")
	}

	// Edge kinds serialize as strings.
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"kind": "CONTAINS"`) {
		t.Error("edge kind not serialized as a string")
	}
}

func TestPayloadsCarryManifestVersion(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	b.Graph.AddThreadNode(&types.Thread{ThreadID: "t"})

	if v := b.Graph.CorpusPayload().ManifestVersion; v != types.ManifestVersion {
		t.Errorf("corpus manifest = %q", v)
	}
	if v := b.Graph.ChunkPayload().ManifestVersion; v != types.ManifestVersion {
		t.Errorf("chunk manifest = %q", v)
	}
	if b.Graph.CorpusPayload().Chunker == nil {
		t.Error("chunker descriptor missing from corpus payload")
	}
}

func TestBuildFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeThreadFile(t, dir, "alpha.md", threadFixture)
	writeThreadFile(t, dir, "beta.md", threadFixture)
	writeThreadFile(t, dir, "index.md", "not a thread")
	writeThreadFile(t, dir, "_draft.md", "skipped")

	b := NewBuilder(BuilderConfig{})
	if err := b.Build(context.Background(), dir, nil); err != nil {
		t.Fatal(err)
	}
	if len(b.Graph.Threads) != 2 {
		t.Errorf("threads = %d, want 2 (index.md and _draft.md skipped)", len(b.Graph.Threads))
	}
	if len(b.Graph.Chunks) == 0 {
		t.Error("no chunks after Build")
	}
}
