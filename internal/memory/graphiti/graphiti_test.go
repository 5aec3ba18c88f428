package graphiti

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

func unconfigured(t *testing.T) *Backend {
	t.Helper()
	t.Setenv("FALKORDB_ADDR", "")
	t.Setenv("OPENAI_API_KEY", "")
	b, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestUnconfiguredOperationsFailWithConfigError(t *testing.T) {
	b := unconfigured(t)
	ctx := context.Background()

	_, err := b.Index(ctx, &types.ChunkPayload{ManifestVersion: types.ManifestVersion})
	var cerr *memory.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("Index err = %v, want ConfigError", err)
	}
	if !strings.Contains(err.Error(), "falkordb_addr") || !strings.Contains(err.Error(), "openai_api_key") {
		t.Errorf("message does not name the missing settings: %v", err)
	}

	if _, err := b.Query(ctx, &types.QueryPayload{ManifestVersion: types.ManifestVersion}); !errors.As(err, &cerr) {
		t.Errorf("Query err = %v", err)
	}

	if hs := b.Healthcheck(ctx); hs.OK {
		t.Error("healthcheck OK without configuration")
	}
}

func TestEpisodesFromEntries(t *testing.T) {
	ts := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)
	entries := []*types.Entry{
		{
			EntryID: "alpha:0", ThreadID: "alpha", Agent: "planner",
			Role: types.RolePlanner, EntryType: types.EntryPlan, Title: "Kickoff",
			Timestamp: ts, Body: "raw body", Summary: "condensed summary",
		},
		{EntryID: "alpha:1", ThreadID: "alpha", Agent: "critic", Body: "body only"},
		{EntryID: "alpha:2", ThreadID: "alpha", Agent: "scribe"},
	}

	eps := EpisodesFromEntries(entries)
	if len(eps) != 2 {
		t.Fatalf("episodes = %d, want 2 (empty entry dropped)", len(eps))
	}

	ep := eps[0]
	if ep.Name != "alpha:0" || ep.GroupID != "alpha" {
		t.Errorf("episode = %+v", ep)
	}
	if ep.EpisodeBody != "condensed summary" {
		t.Errorf("body = %q, want the summary preferred", ep.EpisodeBody)
	}
	if !ep.ReferenceTime.Equal(ts) {
		t.Errorf("reference time = %v", ep.ReferenceTime)
	}
	for _, want := range []string{"Plan", "planner", "Kickoff"} {
		if !strings.Contains(ep.SourceDescription, want) {
			t.Errorf("source description %q missing %q", ep.SourceDescription, want)
		}
	}

	if eps[1].ReferenceTime.IsZero() {
		t.Error("zero timestamp not defaulted")
	}
	if eps[1].EpisodeBody != "body only" {
		t.Errorf("body = %q", eps[1].EpisodeBody)
	}
}

func TestEpisodeFilter(t *testing.T) {
	f := episodeFilter("Cache Layer", []string{"alpha"})
	for _, want := range []string{
		"toLower(e.body) CONTAINS 'cache'",
		"toLower(e.body) CONTAINS 'layer'",
		"e.group_id IN ['alpha']",
	} {
		if !strings.Contains(f, want) {
			t.Errorf("filter %q missing %q", f, want)
		}
	}
	if f := episodeFilter("", nil); f != "true" {
		t.Errorf("empty filter = %q", f)
	}
}

func TestEscape(t *testing.T) {
	if got := escape(`it's a \ test`); got != `it\'s a \\ test` {
		t.Errorf("escape = %q", got)
	}
}

func TestGetNodeRequiresUUID(t *testing.T) {
	b := unconfigured(t)
	_, err := b.GetNode(context.Background(), "not-a-uuid", "")
	var iderr *memory.IdNotSupportedError
	if !errors.As(err, &iderr) {
		t.Fatalf("err = %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	b := unconfigured(t)
	caps := b.Capabilities()
	if !caps.SupportsEpisodes || !caps.SupportsNodes || !caps.SupportsFacts {
		t.Errorf("flags = %+v", caps)
	}
	if caps.NodeIDType != types.IDTypeUUID {
		t.Errorf("node_id_type = %q", caps.NodeIDType)
	}
	if !caps.SupportsSchema(types.ManifestVersion) {
		t.Errorf("schema versions = %v", caps.SchemaVersions)
	}
}

func TestNewBuildsExtractionClient(t *testing.T) {
	t.Setenv("OPENAI_API_BASE", "")
	b, err := New(map[string]string{
		"falkordb_addr":  "db:6379",
		"openai_api_key": "sk-test-abcdefghij0123456789",
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.extract == nil {
		t.Error("extraction client not built from the API key")
	}
	if b.cfg.Model == "" || b.cfg.BaseURL == "" {
		t.Errorf("extraction defaults missing: %+v", b.cfg)
	}

	if b := unconfigured(t); b.extract != nil {
		t.Error("extraction client built without a key")
	}
}

func TestParseTriples(t *testing.T) {
	raw := "Here are the relations:\n```json\n[" +
		`{"source": "AuthService", "relation": "uses", "target": "Redis", "fact": "AuthService caches sessions in Redis."},` +
		`{"source": "", "relation": "uses", "target": "Redis"},` +
		`{"source": "Redis", "relation": "runs on", "target": "node-7"}` +
		"]\n```"

	triples, err := parseTriples(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(triples) != 2 {
		t.Fatalf("triples = %d, want 2 (endpoint-less triple dropped)", len(triples))
	}
	if triples[0].Fact != "AuthService caches sessions in Redis." {
		t.Errorf("fact = %q", triples[0].Fact)
	}
	if triples[1].Fact != "Redis runs on node-7" {
		t.Errorf("synthesized fact = %q", triples[1].Fact)
	}

	if _, err := parseTriples("no entities found"); err == nil {
		t.Error("prose without a JSON array accepted")
	}
}

func TestTripleCypher(t *testing.T) {
	stmts := tripleCypher(triple{
		Source: "O'Brien", Relation: "maintains", Target: "Deep Space 9",
		Fact: "O'Brien maintains the station.",
	}, "alpha")
	if len(stmts) != 3 {
		t.Fatalf("statements = %d, want 2 entity merges + 1 edge", len(stmts))
	}
	if !strings.Contains(stmts[0], `MERGE (n:Entity {name: 'O\'Brien'})`) {
		t.Errorf("source merge = %q", stmts[0])
	}
	if !strings.Contains(stmts[0], "'alpha'") {
		t.Errorf("group id missing: %q", stmts[0])
	}
	if !strings.Contains(stmts[2], ":RELATES_TO") || !strings.Contains(stmts[2], `O\'Brien maintains the station.`) {
		t.Errorf("edge merge = %q", stmts[2])
	}
}

func TestClassify(t *testing.T) {
	if !memory.IsTransient(classify(errors.New("dial tcp: connection refused"))) {
		t.Error("connection refused not transient")
	}
	var berr *memory.BackendError
	if !errors.As(classify(errors.New("syntax error in query")), &berr) {
		t.Error("query error not a BackendError")
	}
}
