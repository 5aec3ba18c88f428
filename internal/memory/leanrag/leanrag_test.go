package leanrag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

const builtEntities = `[{"entity_name":"AuthService","description":"handles login","embedding":[1,0],"parent":"Services"},{"entity_name":"Database","description":"stores users","embedding":[0,1],"parent":"Infra"}]
[{"entity_name":"Services","description":"service layer"},{"entity_name":"Infra","description":"infrastructure"}]
`

const builtRelations = `{"source":"AuthService","target":"Database","description":"auth reads users"}
{"source":"Database","target":"AuthService","description":"reverse duplicate"}
{"source":"Services","target":"Infra","description":"layer dependency"}
`

// queryEmbedServer answers every embedding request with [1, 0].
func queryEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		var data []item
		for i := range req.Input {
			data = append(data, item{Index: i, Embedding: []float64{1, 0}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func builtBackend(t *testing.T, embedURL string) *Backend {
	t.Helper()
	work := t.TempDir()
	processed := filepath.Join(work, "graph", "processed")
	if err := os.MkdirAll(processed, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(processed, allEntitiesFile), []byte(builtEntities), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(processed, relationsFile), []byte(builtRelations), 0o600); err != nil {
		t.Fatal(err)
	}

	opts := map[string]string{"work_dir": work}
	if embedURL != "" {
		opts["embedding_api_base"] = embedURL
		opts["embedding_model"] = "test-embed"
	}
	b, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewRequiresWorkDir(t *testing.T) {
	_, err := New(nil)
	var cerr *memory.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v", err)
	}
}

func TestPrepareWritesExportLayout(t *testing.T) {
	work := t.TempDir()
	b, err := New(map[string]string{"work_dir": work})
	if err != nil {
		t.Fatal(err)
	}

	payload := &types.CorpusPayload{
		ManifestVersion: types.ManifestVersion,
		Threads:         []*types.Thread{{ThreadID: "alpha", Title: "Alpha", Status: types.StatusOpen}},
		Entries: []*types.Entry{
			{EntryID: "alpha:0", ThreadID: "alpha", Agent: "planner", Body: "raw body", Summary: "the summary"},
			{EntryID: "alpha:1", ThreadID: "alpha", Agent: "critic", Body: "only a body"},
		},
	}
	res, err := b.Prepare(context.Background(), payload)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if res.PreparedCount != 2 {
		t.Errorf("prepared_count = %d", res.PreparedCount)
	}
	if res.ManifestVersion != types.ManifestVersion {
		t.Errorf("manifest = %q", res.ManifestVersion)
	}

	for _, name := range []string{"documents.json", "threads.json", "manifest.json"} {
		if _, err := os.Stat(filepath.Join(work, "export", name)); err != nil {
			t.Errorf("missing export file %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(work, "export", "documents.json"))
	if err != nil {
		t.Fatal(err)
	}
	var docs []document
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatal(err)
	}
	if docs[0].Content != "the summary" {
		t.Errorf("doc 0 content = %q, want the summary preferred", docs[0].Content)
	}
	if docs[1].Content != "only a body" {
		t.Errorf("doc 1 content = %q, want body fallback", docs[1].Content)
	}

	manifest, err := os.ReadFile(filepath.Join(work, "export", "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(manifest), `"manifest_version": "`+types.ManifestVersion+`"`) {
		t.Errorf("manifest missing version: %s", manifest)
	}
}

func TestSearchNodesRanksBySimilarity(t *testing.T) {
	srv := queryEmbedServer(t)
	b := builtBackend(t, srv.URL)

	results, err := b.SearchNodes(context.Background(), "who handles login", memory.SearchOptions{MaxResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	// Query vector [1,0] matches AuthService's [1,0] exactly.
	if results[0].ID != "AuthService" {
		t.Errorf("top result = %q", results[0].ID)
	}
	if results[0].Score == nil || *results[0].Score <= *results[1].Score {
		t.Errorf("scores not descending: %v %v", results[0].Score, results[1].Score)
	}
	for _, r := range results {
		if r.Backend != BackendName {
			t.Errorf("backend tag = %q", r.Backend)
		}
		for k := range r.Extra {
			if types.CoreResultKeys[k] {
				t.Errorf("extra key %q shadows a core key", k)
			}
		}
	}
}

func TestSearchNodesWithoutEmbedder(t *testing.T) {
	b := builtBackend(t, "")
	_, err := b.SearchNodes(context.Background(), "q", memory.SearchOptions{})
	var cerr *memory.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestSearchFactsDeduplicatesBidirectional(t *testing.T) {
	srv := queryEmbedServer(t)
	b := builtBackend(t, srv.URL)

	results, err := b.SearchFacts(context.Background(), "login storage", memory.SearchOptions{MaxResults: 10})
	if err != nil {
		t.Fatal(err)
	}
	// AuthService<->Database collapses to one fact; the ancestor layers
	// contribute Services->Infra.
	if len(results) != 2 {
		t.Fatalf("facts = %d, want 2: %+v", len(results), results)
	}
	var sawPair bool
	for _, r := range results {
		if r.SourceNodeID == "AuthService" && r.TargetNodeID == "Database" {
			sawPair = true
			if r.ID != "AuthService||Database" {
				t.Errorf("edge id = %q", r.ID)
			}
		}
	}
	if !sawPair {
		t.Errorf("AuthService/Database fact missing: %+v", results)
	}
}

func TestSearchFactsCenterNode(t *testing.T) {
	srv := queryEmbedServer(t)
	b := builtBackend(t, srv.URL)

	results, err := b.SearchFacts(context.Background(), "anything",
		memory.SearchOptions{MaxResults: 10, CenterNodeID: "AuthService"})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.SourceNodeID != "AuthService" && r.TargetNodeID != "AuthService" {
			t.Errorf("fact does not involve the center node: %+v", r)
		}
	}
	if len(results) == 0 {
		t.Error("no facts for center node")
	}
}

func TestGetNodeRejectsUUIDShapes(t *testing.T) {
	b := builtBackend(t, "")

	_, err := b.GetNode(context.Background(), "550e8400-e29b-41d4-a716-446655440000", "")
	var iderr *memory.IdNotSupportedError
	if !errors.As(err, &iderr) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "entity names") || !strings.Contains(err.Error(), "UUID") {
		t.Errorf("message not actionable: %v", err)
	}

	got, err := b.GetNode(context.Background(), "AuthService", "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "AuthService" || got.Summary != "handles login" {
		t.Errorf("node = %+v", got)
	}

	missing, err := b.GetNode(context.Background(), "NoSuchEntity", "")
	if err != nil || missing != nil {
		t.Errorf("missing node = %+v, %v", missing, err)
	}
}

func TestGetEdgeSyntheticIDs(t *testing.T) {
	b := builtBackend(t, "")

	if _, err := b.GetEdge(context.Background(), "not-synthetic", ""); err == nil {
		t.Error("malformed edge id accepted")
	}

	// Reverse direction resolves to the same stored fact.
	got, err := b.GetEdge(context.Background(), "Database||AuthService", "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.SourceNodeID != "AuthService" || got.TargetNodeID != "Database" {
		t.Errorf("edge = %+v", got)
	}
}

func TestSearchEpisodesUnsupported(t *testing.T) {
	b := builtBackend(t, "")
	_, err := b.SearchEpisodes(context.Background(), "q", memory.SearchOptions{})
	var uerr *memory.UnsupportedOperationError
	if !errors.As(err, &uerr) {
		t.Fatalf("err = %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	b := builtBackend(t, "")
	caps := b.Capabilities()
	if caps.NodeIDType != types.IDTypeName || caps.EdgeIDType != types.IDTypeSynthetic {
		t.Errorf("id types = %q/%q", caps.NodeIDType, caps.EdgeIDType)
	}
	if !caps.SupportsNodes || !caps.SupportsFacts || caps.SupportsEpisodes {
		t.Errorf("capability flags = %+v", caps)
	}
	if !caps.SupportsSchema(types.ManifestVersion) {
		t.Errorf("schema versions = %v", caps.SchemaVersions)
	}
}

func TestAncestorsCutsCycles(t *testing.T) {
	s := &store{byName: map[string]*entity{
		"a": {EntityName: "a", Parent: "b"},
		"b": {EntityName: "b", Parent: "a"},
	}}
	chain := s.ancestors("a")
	if len(chain) != 2 {
		t.Errorf("chain = %v", chain)
	}
}
