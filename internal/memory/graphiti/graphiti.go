// Package graphiti adapts an episodic-temporal graph engine to the memory
// backend contract. Every entry becomes an episode with a reference time;
// episodes are ingested sequentially into a FalkorDB graph reached over the
// Redis protocol. Ingestion extracts entities and relations from each
// episode through an OpenAI-compatible LLM, and retrieval walks the episode
// and entity nodes that extraction maintains.
package graphiti

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/llm"
	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

// BackendName is the registry key.
const BackendName = "graphiti"

const defaultGraph = "watercooler"

func init() {
	memory.Register(BackendName, func(opts map[string]string) (memory.Backend, error) {
		return New(opts)
	})
}

// Config holds the adapter settings resolved from the options map.
type Config struct {
	FalkorAddr string // host:port of the Redis-protocol endpoint
	Graph      string
	APIKey     string // OpenAI-compatible key used for entity extraction
	BaseURL    string // extraction endpoint base URL
	Model      string // extraction model
	MaxResults int
}

// Backend implements the memory contract over a FalkorDB graph.
type Backend struct {
	cfg     Config
	extract llm.Client

	mu     sync.Mutex
	client *redis.Client
}

// New builds the adapter. The FalkorDB address comes from the falkordb_addr
// option or FALKORDB_ADDR; the extraction key from openai_api_key or
// OPENAI_API_KEY. Both are required before Index or Query can run, but
// construction succeeds without them so the registry can always resolve the
// name and Healthcheck can report what is missing.
func New(opts map[string]string) (*Backend, error) {
	cfg := Config{
		FalkorAddr: opts["falkordb_addr"],
		Graph:      opts["graph"],
		APIKey:     opts["openai_api_key"],
		BaseURL:    opts["openai_api_base"],
		Model:      opts["openai_model"],
		MaxResults: 10,
	}
	if cfg.FalkorAddr == "" {
		cfg.FalkorAddr = os.Getenv("FALKORDB_ADDR")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_API_BASE")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Graph == "" {
		cfg.Graph = defaultGraph
	}

	b := &Backend{cfg: cfg}
	if cfg.APIKey != "" {
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		}, nil)
		if err != nil {
			return nil, err
		}
		b.extract = c
	}
	return b, nil
}

func (b *Backend) Name() string { return BackendName }

// configured returns a ConfigError naming what is missing, or nil.
func (b *Backend) configured() error {
	var missing []string
	if b.cfg.FalkorAddr == "" {
		missing = append(missing, "falkordb_addr (or FALKORDB_ADDR)")
	}
	if b.cfg.APIKey == "" {
		missing = append(missing, "openai_api_key (or OPENAI_API_KEY)")
	}
	if len(missing) > 0 {
		return &memory.ConfigError{
			Msg: "graphiti: missing required settings: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

func (b *Backend) conn() *redis.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		b.client = redis.NewClient(&redis.Options{Addr: b.cfg.FalkorAddr})
	}
	return b.client
}

// graphQuery runs one Cypher statement through GRAPH.QUERY.
func (b *Backend) graphQuery(ctx context.Context, cypher string) (any, error) {
	res, err := b.conn().Do(ctx, "GRAPH.QUERY", b.cfg.Graph, cypher).Result()
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// classify maps transport failures to TransientError and everything else to
// BackendError.
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "broken pipe") {
		return &memory.TransientError{Err: err}
	}
	return &memory.BackendError{Backend: BackendName, Op: "graph.query", Err: err}
}

// Prepare registers threads as group nodes so later episodes attach to them.
func (b *Backend) Prepare(ctx context.Context, payload *types.CorpusPayload) (*types.PrepareResult, error) {
	if err := memory.ValidateCorpus(payload); err != nil {
		return nil, err
	}
	if err := b.configured(); err != nil {
		return nil, err
	}

	for _, th := range payload.Threads {
		cypher := fmt.Sprintf(
			"MERGE (t:Thread {thread_id: '%s'}) SET t.title = '%s', t.status = '%s'",
			escape(th.ThreadID), escape(th.Title), escape(string(th.Status)),
		)
		if _, err := b.graphQuery(ctx, cypher); err != nil {
			return nil, err
		}
	}
	return &types.PrepareResult{
		ManifestVersion: payload.ManifestVersion,
		PreparedCount:   len(payload.Entries),
		Message:         fmt.Sprintf("registered %d threads in graph %s", len(payload.Threads), b.cfg.Graph),
	}, nil
}

// Index maps each entry to an episode and ingests them one at a time, in
// entry order. The engine's temporal model depends on sequential ingestion,
// so there is no worker pool here.
func (b *Backend) Index(ctx context.Context, payload *types.ChunkPayload) (*types.IndexResult, error) {
	if err := memory.ValidateChunks(payload); err != nil {
		return nil, err
	}
	if err := b.configured(); err != nil {
		return nil, err
	}

	episodes := EpisodesFromEntries(payload.Entries)
	var relations int
	for i, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.addEpisode(ctx, ep); err != nil {
			return nil, fmt.Errorf("episode %d (%s): %w", i, ep.Name, err)
		}
		// A failed extraction degrades to an episode without entities
		// rather than failing the whole ingest.
		n, err := b.extractEpisode(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			debug.Warnf("graphiti: episode %s: %v\n", ep.Name, err)
		}
		relations += n
		debug.Logf("graphiti: ingested episode %s (%d relations)\n", ep.Name, n)
	}

	return &types.IndexResult{
		ManifestVersion: payload.ManifestVersion,
		IndexedCount:    len(episodes),
		Message:         fmt.Sprintf("ingested %d episodes, %d extracted relations", len(episodes), relations),
	}, nil
}

func (b *Backend) addEpisode(ctx context.Context, ep Episode) error {
	id := uuid.NewString()
	cypher := fmt.Sprintf(
		"CREATE (e:Episode {uuid: '%s', name: '%s', body: '%s', source_description: '%s', reference_time: '%s', group_id: '%s'})",
		id, escape(ep.Name), escape(ep.EpisodeBody), escape(ep.SourceDescription),
		ep.ReferenceTime.UTC().Format(time.RFC3339), escape(ep.GroupID),
	)
	if _, err := b.graphQuery(ctx, cypher); err != nil {
		return err
	}
	link := fmt.Sprintf(
		"MATCH (t:Thread {thread_id: '%s'}), (e:Episode {uuid: '%s'}) MERGE (t)-[:CONTAINS]->(e)",
		escape(ep.GroupID), id,
	)
	_, err := b.graphQuery(ctx, link)
	return err
}

// Query runs the engine's hybrid search for each query and flattens the
// results.
func (b *Backend) Query(ctx context.Context, payload *types.QueryPayload) (*types.QueryResult, error) {
	if err := b.configured(); err != nil {
		return nil, err
	}
	res := &types.QueryResult{ManifestVersion: payload.ManifestVersion}
	for _, q := range payload.Queries {
		limit := q.Limit
		if limit <= 0 {
			limit = b.cfg.MaxResults
		}
		items, err := b.SearchEpisodes(ctx, q.Query, memory.SearchOptions{
			MaxResults: limit,
			GroupIDs:   q.GroupIDs,
		})
		if err != nil {
			return nil, err
		}
		res.Results = append(res.Results, items...)
	}
	return res, nil
}

// Healthcheck pings the graph store. Never returns an error.
func (b *Backend) Healthcheck(ctx context.Context) types.HealthStatus {
	if err := b.configured(); err != nil {
		return types.HealthStatus{OK: false, Details: err.Error()}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := b.conn().Ping(pingCtx).Err(); err != nil {
		return types.HealthStatus{OK: false, Details: fmt.Sprintf("falkordb unreachable: %v", err)}
	}
	return types.HealthStatus{OK: true}
}

func (b *Backend) Capabilities() types.Capabilities {
	return types.Capabilities{
		Embeddings:       true,
		EntityExtraction: true,
		GraphQuery:       true,
		SchemaVersions:   []string{types.ManifestVersion},
		StorageBackends:  []string{"falkor", "neo4j"},
		SupportsNodes:    true,
		SupportsFacts:    true,
		SupportsEpisodes: true,
		SupportsChunks:   false,
		SupportsEdges:    true,
		NodeIDType:       types.IDTypeUUID,
		EdgeIDType:       types.IDTypeUUID,
	}
}

// escape makes a string safe inside a single-quoted Cypher literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
