// Package memory defines the pluggable backend contract that decouples the
// ingestion pipeline from any particular graph or vector engine, plus the
// process-wide registry that resolves backend names to factories.
package memory

import (
	"context"
	"fmt"

	"github.com/steveyegge/watercooler/internal/types"
)

// SearchOptions tunes the extended retrieval operations.
type SearchOptions struct {
	GroupIDs     []string
	MaxResults   int
	EntityTypes  []string
	CenterNodeID string
}

// Backend is the contract every memory engine implements. Prepare, Index,
// and Query are the required pipeline operations; the Search and Get
// operations are optional and callers must feature-detect them through
// Capabilities rather than by probing. An adapter that does not implement an
// optional operation returns UnsupportedOperationError.
//
// Healthcheck and Capabilities never return an error; trouble is reported
// through HealthStatus.OK.
type Backend interface {
	Name() string

	Prepare(ctx context.Context, payload *types.CorpusPayload) (*types.PrepareResult, error)
	Index(ctx context.Context, payload *types.ChunkPayload) (*types.IndexResult, error)
	Query(ctx context.Context, payload *types.QueryPayload) (*types.QueryResult, error)
	Healthcheck(ctx context.Context) types.HealthStatus
	Capabilities() types.Capabilities

	SearchNodes(ctx context.Context, query string, opts SearchOptions) ([]types.CoreResult, error)
	SearchFacts(ctx context.Context, query string, opts SearchOptions) ([]types.CoreResult, error)
	SearchEpisodes(ctx context.Context, query string, opts SearchOptions) ([]types.CoreResult, error)
	GetNode(ctx context.Context, nodeID, groupID string) (*types.CoreResult, error)
	GetEdge(ctx context.Context, edgeID, groupID string) (*types.CoreResult, error)
}

// ValidateCorpus checks the structural requirements of a corpus payload
// before it crosses the backend boundary.
func ValidateCorpus(p *types.CorpusPayload) error {
	var fields []string
	if p.ManifestVersion == "" {
		fields = append(fields, "manifest_version: empty")
	}
	for i, th := range p.Threads {
		if th.ThreadID == "" {
			fields = append(fields, fmt.Sprintf("threads[%d].thread_id: empty", i))
		}
	}
	seen := make(map[string]bool, len(p.Entries))
	for i, e := range p.Entries {
		if e.EntryID == "" {
			fields = append(fields, fmt.Sprintf("entries[%d].entry_id: empty", i))
			continue
		}
		if seen[e.EntryID] {
			fields = append(fields, fmt.Sprintf("entries[%d].entry_id: duplicate %s", i, e.EntryID))
		}
		seen[e.EntryID] = true
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidateChunks checks the structural requirements of a chunk payload.
func ValidateChunks(p *types.ChunkPayload) error {
	var fields []string
	if p.ManifestVersion == "" {
		fields = append(fields, "manifest_version: empty")
	}
	for i, c := range p.Chunks {
		if c.ChunkID == "" {
			fields = append(fields, fmt.Sprintf("chunks[%d].chunk_id: empty", i))
		}
		if c.EntryID == "" {
			fields = append(fields, fmt.Sprintf("chunks[%d].entry_id: empty", i))
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
