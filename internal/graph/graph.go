// Package graph materializes threads, entries, chunks, and edges into an
// in-memory graph and serializes it to the canonical payloads handed to
// memory backends.
package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/steveyegge/watercooler/internal/types"
	"github.com/steveyegge/watercooler/internal/utils"
)

// Graph is an arena of flat maps keyed by node ID. Nodes reference each
// other by ID only, so the whole structure round-trips through JSON without
// cycles. Insertion order is tracked separately because payload ordering
// must be deterministic.
type Graph struct {
	Threads map[string]*types.Thread
	Entries map[string]*types.Entry
	Chunks  map[string]*types.Chunk

	Edges      []types.Edge
	Hyperedges []types.Hyperedge
	Chunker    *types.ChunkerInfo

	threadOrder []string
	entryOrder  []string
	chunkOrder  []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Threads: make(map[string]*types.Thread),
		Entries: make(map[string]*types.Entry),
		Chunks:  make(map[string]*types.Chunk),
	}
}

// AddThreadNode inserts a thread, replacing any previous node with the same ID.
func (g *Graph) AddThreadNode(th *types.Thread) {
	if _, exists := g.Threads[th.ThreadID]; !exists {
		g.threadOrder = append(g.threadOrder, th.ThreadID)
	}
	g.Threads[th.ThreadID] = th
}

// AddEntryNode inserts an entry, replacing any previous node with the same ID.
func (g *Graph) AddEntryNode(e *types.Entry) {
	if _, exists := g.Entries[e.EntryID]; !exists {
		g.entryOrder = append(g.entryOrder, e.EntryID)
	}
	g.Entries[e.EntryID] = e
}

// AddChunkNode inserts a chunk, replacing any previous node with the same ID.
func (g *Graph) AddChunkNode(c *types.Chunk) {
	if _, exists := g.Chunks[c.ChunkID]; !exists {
		g.chunkOrder = append(g.chunkOrder, c.ChunkID)
	}
	g.Chunks[c.ChunkID] = c
}

// ThreadList returns threads in insertion order.
func (g *Graph) ThreadList() []*types.Thread {
	out := make([]*types.Thread, 0, len(g.threadOrder))
	for _, id := range g.threadOrder {
		out = append(out, g.Threads[id])
	}
	return out
}

// EntryList returns entries in insertion order.
func (g *Graph) EntryList() []*types.Entry {
	out := make([]*types.Entry, 0, len(g.entryOrder))
	for _, id := range g.entryOrder {
		out = append(out, g.Entries[id])
	}
	return out
}

// ChunkList returns chunks in insertion order.
func (g *Graph) ChunkList() []*types.Chunk {
	out := make([]*types.Chunk, 0, len(g.chunkOrder))
	for _, id := range g.chunkOrder {
		out = append(out, g.Chunks[id])
	}
	return out
}

// CorpusPayload builds the canonical payload for Backend.Prepare.
func (g *Graph) CorpusPayload() *types.CorpusPayload {
	return &types.CorpusPayload{
		ManifestVersion: types.ManifestVersion,
		Threads:         g.ThreadList(),
		Entries:         g.EntryList(),
		Edges:           g.Edges,
		Hyperedges:      g.Hyperedges,
		Chunker:         g.Chunker,
	}
}

// ChunkPayload builds the canonical payload for Backend.Index.
func (g *Graph) ChunkPayload() *types.ChunkPayload {
	return &types.ChunkPayload{
		ManifestVersion: types.ManifestVersion,
		Chunks:          g.ChunkList(),
		Threads:         g.ThreadList(),
		Entries:         g.EntryList(),
		Edges:           g.Edges,
	}
}

// graphFile is the serialized form. Node lists carry insertion order so a
// load reproduces the same payload ordering as the original build.
type graphFile struct {
	ManifestVersion string             `json:"manifest_version"`
	Threads         []*types.Thread    `json:"threads"`
	Entries         []*types.Entry     `json:"entries"`
	Chunks          []*types.Chunk     `json:"chunks"`
	Edges           []types.Edge       `json:"edges"`
	Hyperedges      []types.Hyperedge  `json:"hyperedges,omitempty"`
	Chunker         *types.ChunkerInfo `json:"chunker,omitempty"`
}

// Save writes the graph as JSON via a temp file plus rename.
func (g *Graph) Save(path string) error {
	f := graphFile{
		ManifestVersion: types.ManifestVersion,
		Threads:         g.ThreadList(),
		Entries:         g.EntryList(),
		Chunks:          g.ChunkList(),
		Edges:           g.Edges,
		Hyperedges:      g.Hyperedges,
		Chunker:         g.Chunker,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// Load reads a graph previously written by Save.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	var f graphFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode graph file: %w", err)
	}

	g := NewGraph()
	for _, th := range f.Threads {
		g.AddThreadNode(th)
	}
	for _, e := range f.Entries {
		g.AddEntryNode(e)
	}
	for _, c := range f.Chunks {
		g.AddChunkNode(c)
	}
	g.Edges = f.Edges
	g.Hyperedges = f.Hyperedges
	g.Chunker = f.Chunker
	return g, nil
}
