package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/watercooler/internal/types"
)

// NullBackendName is the registry key of the echo backend.
const NullBackendName = "null"

func init() {
	Register(NullBackendName, func(opts map[string]string) (Backend, error) {
		return NewNullBackend(), nil
	})
}

// NullBackend stores payloads in memory and echoes them back from Query. It
// exists for contract tests and dry runs; it extracts nothing and answers
// every query with the full stored chunk set.
type NullBackend struct {
	mu     sync.Mutex
	corpus *types.CorpusPayload
	chunks *types.ChunkPayload
}

// NewNullBackend returns an empty echo backend.
func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

func (b *NullBackend) Name() string { return NullBackendName }

// Prepare stores the corpus and reports how many entries it holds.
func (b *NullBackend) Prepare(ctx context.Context, payload *types.CorpusPayload) (*types.PrepareResult, error) {
	if err := ValidateCorpus(payload); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.corpus = payload
	b.mu.Unlock()
	return &types.PrepareResult{
		ManifestVersion: payload.ManifestVersion,
		PreparedCount:   len(payload.Entries),
		Message:         fmt.Sprintf("stored %d threads, %d entries", len(payload.Threads), len(payload.Entries)),
	}, nil
}

// Index stores the chunks and reports how many it holds.
func (b *NullBackend) Index(ctx context.Context, payload *types.ChunkPayload) (*types.IndexResult, error) {
	if err := ValidateChunks(payload); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.chunks = payload
	b.mu.Unlock()
	return &types.IndexResult{
		ManifestVersion: payload.ManifestVersion,
		IndexedCount:    len(payload.Chunks),
	}, nil
}

// Query returns every stored chunk once per payload, tagged with the query
// list so callers can see what was asked.
func (b *NullBackend) Query(ctx context.Context, payload *types.QueryPayload) (*types.QueryResult, error) {
	b.mu.Lock()
	chunks := b.chunks
	b.mu.Unlock()

	res := &types.QueryResult{ManifestVersion: payload.ManifestVersion}
	if chunks == nil {
		return res, nil
	}

	queries := make([]string, 0, len(payload.Queries))
	for _, q := range payload.Queries {
		queries = append(queries, q.Query)
	}
	for _, c := range chunks.Chunks {
		res.Results = append(res.Results, types.CoreResult{
			ID:      c.ChunkID,
			Content: c.Text,
			Source:  c.EntryID,
			Backend: NullBackendName,
			Extra:   map[string]any{"queries": queries},
		})
	}
	return res, nil
}

// Healthcheck always succeeds; there is nothing to reach.
func (b *NullBackend) Healthcheck(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true, Details: "null backend is always healthy"}
}

func (b *NullBackend) Capabilities() types.Capabilities {
	return types.Capabilities{
		SchemaVersions: []string{types.ManifestVersion},
		NodeIDType:     types.IDTypePassthrough,
		EdgeIDType:     types.IDTypePassthrough,
	}
}

func (b *NullBackend) SearchNodes(ctx context.Context, query string, opts SearchOptions) ([]types.CoreResult, error) {
	return nil, &UnsupportedOperationError{Backend: NullBackendName, Op: "search_nodes"}
}

func (b *NullBackend) SearchFacts(ctx context.Context, query string, opts SearchOptions) ([]types.CoreResult, error) {
	return nil, &UnsupportedOperationError{Backend: NullBackendName, Op: "search_facts"}
}

func (b *NullBackend) SearchEpisodes(ctx context.Context, query string, opts SearchOptions) ([]types.CoreResult, error) {
	return nil, &UnsupportedOperationError{Backend: NullBackendName, Op: "search_episodes"}
}

func (b *NullBackend) GetNode(ctx context.Context, nodeID, groupID string) (*types.CoreResult, error) {
	return nil, &UnsupportedOperationError{Backend: NullBackendName, Op: "get_node"}
}

func (b *NullBackend) GetEdge(ctx context.Context, edgeID, groupID string) (*types.CoreResult, error) {
	return nil, &UnsupportedOperationError{Backend: NullBackendName, Op: "get_edge"}
}
