package thread

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/steveyegge/watercooler/internal/types"
)

const sampleThread = `Title: Rollout plan for the cache layer
Status: IN_REVIEW
Ball: critic
Updated: 2025-06-01T12:00:00Z

Preamble text that belongs to the thread, not to any entry.

---
Entry: planner 2025-05-30T09:00:00Z
Role: planner
Type: Plan
Title: Initial plan

We should stage the rollout in two phases.

Phase one covers reads only.

---
<!-- Entry-ID: cache-rollout:custom-id -->
Entry: critic 2025-05-31T10:30:00Z
Role: critic
Type: Note

Phase two needs a fallback story before I sign off.
`

func writeThread(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseThread(t *testing.T) {
	dir := t.TempDir()
	path := writeThread(t, dir, "cache-rollout.md", sampleThread)

	res, err := ParseThread(path)
	if err != nil {
		t.Fatalf("ParseThread: %v", err)
	}

	th := res.Thread
	if th.ThreadID != "cache-rollout" {
		t.Errorf("ThreadID = %q", th.ThreadID)
	}
	if th.Title != "Rollout plan for the cache layer" {
		t.Errorf("Title = %q", th.Title)
	}
	if th.Status != types.StatusInReview {
		t.Errorf("Status = %q", th.Status)
	}
	if th.Ball != "critic" {
		t.Errorf("Ball = %q", th.Ball)
	}
	if got := th.UpdatedAt; !got.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", got)
	}

	if len(res.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(res.Entries))
	}

	e0, e1 := res.Entries[0], res.Entries[1]
	if e0.EntryID != "cache-rollout:0" {
		t.Errorf("entry 0 id = %q", e0.EntryID)
	}
	if e1.EntryID != "cache-rollout:custom-id" {
		t.Errorf("entry 1 id = %q (Entry-ID marker should win)", e1.EntryID)
	}
	if e0.Agent != "planner" || e0.Role != types.RolePlanner || e0.EntryType != types.EntryPlan {
		t.Errorf("entry 0 metadata: agent=%q role=%q type=%q", e0.Agent, e0.Role, e0.EntryType)
	}
	if e0.Title != "Initial plan" {
		t.Errorf("entry 0 title = %q", e0.Title)
	}
	if want := "We should stage the rollout in two phases.\n\nPhase one covers reads only."; e0.Body != want {
		t.Errorf("entry 0 body = %q, want %q", e0.Body, want)
	}

	// Indexes contiguous, chain wired both directions.
	if e0.Index != 0 || e1.Index != 1 {
		t.Errorf("indexes = %d, %d", e0.Index, e1.Index)
	}
	if e0.FollowingEntryID != e1.EntryID || e1.PrecedingEntryID != e0.EntryID {
		t.Error("preceding/following chain not wired")
	}

	wantEdges := []types.Edge{
		{Kind: types.EdgeContains, Source: "cache-rollout", Target: e0.EntryID},
		{Kind: types.EdgeFollows, Source: e0.EntryID, Target: e1.EntryID},
		{Kind: types.EdgeContains, Source: "cache-rollout", Target: e1.EntryID},
	}
	if len(res.Edges) != len(wantEdges) {
		t.Fatalf("edges = %d, want %d: %v", len(res.Edges), len(wantEdges), res.Edges)
	}
	for _, want := range wantEdges {
		found := false
		for _, got := range res.Edges {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing edge %v", want)
		}
	}

	if len(res.Hyperedges) != 1 || len(res.Hyperedges[0].Targets) != 2 {
		t.Errorf("hyperedges = %v", res.Hyperedges)
	}
}

func TestParseThreadDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeThread(t, dir, "alpha.md", sampleThread)

	r1, err := ParseThread(path)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := ParseThread(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r1.Entries, r2.Entries) {
		t.Error("two parses of identical bytes produced different entries")
	}
}

func TestParseThreadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeThread(t, dir, "empty.md", "")

	res, err := ParseThread(path)
	if err != nil {
		t.Fatalf("ParseThread on empty file: %v", err)
	}
	if res.Thread.Title != "empty" || res.Thread.Status != types.StatusOpen {
		t.Errorf("defaults not applied: title=%q status=%q", res.Thread.Title, res.Thread.Status)
	}
	if len(res.Entries) != 0 || len(res.Edges) != 0 || len(res.Hyperedges) != 0 {
		t.Errorf("empty file produced entries=%d edges=%d hyperedges=%d",
			len(res.Entries), len(res.Edges), len(res.Hyperedges))
	}
}

func TestParseThreadSkipsBadEntry(t *testing.T) {
	content := `Title: Has a bad entry
Status: OPEN
Ball: tester
Updated: 2025-06-01T12:00:00Z

---
Entry: tester not-a-timestamp

This entry should be skipped.

---
Entry: tester 2025-06-01T13:00:00Z

This entry survives.
`
	dir := t.TempDir()
	path := writeThread(t, dir, "bad.md", content)

	res, err := ParseThread(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1 (bad entry skipped)", len(res.Entries))
	}
	if res.Entries[0].Body != "This entry survives." {
		t.Errorf("body = %q", res.Entries[0].Body)
	}
	if res.Entries[0].EntryID != "bad:0" {
		t.Errorf("surviving entry id = %q, want bad:0", res.Entries[0].EntryID)
	}
}

func TestParseThreadLegacyFormat(t *testing.T) {
	content := `Title: Legacy
Status: OPEN
Ball: pm
Updated: 2025-01-15T08:00:00Z

---
- Updated: 2025-01-15T08:00:00Z by pm

Legacy body line.
`
	dir := t.TempDir()
	path := writeThread(t, dir, "legacy.md", content)

	res, err := ParseThread(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(res.Entries))
	}
	e := res.Entries[0]
	if e.Agent != "pm" {
		t.Errorf("agent = %q", e.Agent)
	}
	if e.Body != "Legacy body line." {
		t.Errorf("body = %q", e.Body)
	}
}

func TestParseThreads(t *testing.T) {
	dir := t.TempDir()
	writeThread(t, dir, "alpha.md", sampleThread)
	writeThread(t, dir, "beta.md", sampleThread)
	writeThread(t, dir, "_draft.md", sampleThread)
	writeThread(t, dir, "index.md", sampleThread)
	writeThread(t, dir, "notes.txt", "not markdown")

	results, err := ParseThreads(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("parsed %d threads, want 2", len(results))
	}
	if results[0].Thread.ThreadID != "alpha" || results[1].Thread.ThreadID != "beta" {
		t.Errorf("topics = %q, %q", results[0].Thread.ThreadID, results[1].Thread.ThreadID)
	}

	filtered, err := ParseThreads(dir, func(topic string) bool { return topic == "beta" })
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Thread.ThreadID != "beta" {
		t.Errorf("filter returned %d results", len(filtered))
	}
}
