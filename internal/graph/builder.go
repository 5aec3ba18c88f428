package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/watercooler/internal/chunk"
	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/embed"
	"github.com/steveyegge/watercooler/internal/llm"
	"github.com/steveyegge/watercooler/internal/thread"
	"github.com/steveyegge/watercooler/internal/types"
)

const defaultMaxConcurrent = 4

// ProgressFunc reports items completed out of a known total.
type ProgressFunc func(done, total int)

// BuilderConfig wires the builder's collaborators. Summarizer and Embedder
// may be nil; the corresponding fields are then left empty.
type BuilderConfig struct {
	ChunkConfig   chunk.Config
	Summarizer    *llm.Summarizer
	Embedder      *embed.Embedder
	MaxConcurrent int
}

// Builder drives parser, chunker, summarizer, and embedder to produce a
// fully materialized Graph. A failed summary or embedding never fails the
// build: the field stays empty and a warning is recorded.
type Builder struct {
	Graph *Graph
	cfg   BuilderConfig

	mu       sync.Mutex
	warnings []string
}

// NewBuilder creates a Builder over an empty graph.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.ChunkConfig.MaxTokens == 0 {
		cfg.ChunkConfig = chunk.WatercoolerConfig()
	}
	g := NewGraph()
	g.Chunker = cfg.ChunkConfig.Info()
	return &Builder{Graph: g, cfg: cfg}
}

// AddThread parses one thread file and incorporates its nodes and edges.
func (b *Builder) AddThread(path string) error {
	res, err := thread.ParseThread(path)
	if err != nil {
		return err
	}
	b.addParsed(res)
	return nil
}

func (b *Builder) addParsed(res *thread.ParseResult) {
	b.Graph.AddThreadNode(res.Thread)
	for _, e := range res.Entries {
		b.Graph.AddEntryNode(e)
	}
	b.Graph.Edges = append(b.Graph.Edges, res.Edges...)
	b.Graph.Hyperedges = append(b.Graph.Hyperedges, res.Hyperedges...)
}

// ChunkAllEntries produces chunks for every entry, wires CONTAINS edges, and
// records chunk IDs back on the entries. Safe to call more than once; entries
// already chunked are skipped.
func (b *Builder) ChunkAllEntries() {
	for _, e := range b.Graph.EntryList() {
		if len(e.ChunkIDs) > 0 {
			continue
		}
		chunks, edges := chunk.ChunkEntry(b.cfg.ChunkConfig, e)
		for _, c := range chunks {
			b.Graph.AddChunkNode(c)
			e.ChunkIDs = append(e.ChunkIDs, c.ChunkID)
		}
		b.Graph.Edges = append(b.Graph.Edges, edges...)
	}
}

// GenerateSummaries fills in missing entry summaries on a bounded worker
// pool, then thread summaries from the completed entry summaries. Cache hits
// resolve inside the summarizer without an LLM call.
func (b *Builder) GenerateSummaries(ctx context.Context, progress ProgressFunc) error {
	if b.cfg.Summarizer == nil {
		return nil
	}

	entries := b.Graph.EntryList()
	var pending []*types.Entry
	for _, e := range entries {
		if e.Summary == "" && e.Body != "" {
			pending = append(pending, e)
		}
	}

	total := len(pending) + len(b.Graph.threadOrder)
	var done int
	var doneMu sync.Mutex
	tick := func() {
		if progress == nil {
			return
		}
		doneMu.Lock()
		done++
		d := done
		doneMu.Unlock()
		progress(d, total)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.cfg.MaxConcurrent)
	for _, e := range pending {
		e := e
		eg.Go(func() error {
			summary, err := b.cfg.Summarizer.SummarizeEntry(egCtx, e)
			if err != nil {
				return err
			}
			e.Summary = summary
			tick()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("summarize entries: %w", err)
	}

	for _, th := range b.Graph.ThreadList() {
		if th.Summary != "" {
			tick()
			continue
		}
		var entrySummaries []string
		for _, id := range th.EntryIDs {
			if e, ok := b.Graph.Entries[id]; ok {
				entrySummaries = append(entrySummaries, e.Summary)
			}
		}
		summary, err := b.cfg.Summarizer.SummarizeThread(ctx, th, entrySummaries)
		if err != nil {
			return fmt.Errorf("summarize thread %s: %w", th.ThreadID, err)
		}
		th.Summary = summary
		tick()
	}
	return nil
}

// GenerateEmbeddings collects texts for nodes that have content but no
// vector, in the order thread summaries, entry summaries, chunk texts, and
// batches them through the embedder. An embedding failure leaves the vectors
// empty and records a warning.
func (b *Builder) GenerateEmbeddings(ctx context.Context) error {
	if b.cfg.Embedder == nil {
		return nil
	}

	type target struct {
		text  string
		apply func([]float64)
	}
	var targets []target

	for _, th := range b.Graph.ThreadList() {
		if len(th.Embedding) == 0 && th.Summary != "" {
			th := th
			targets = append(targets, target{th.Summary, func(v []float64) { th.Embedding = v }})
		}
	}
	for _, e := range b.Graph.EntryList() {
		if len(e.Embedding) == 0 && e.Summary != "" {
			e := e
			targets = append(targets, target{e.Summary, func(v []float64) { e.Embedding = v }})
		}
	}
	for _, c := range b.Graph.ChunkList() {
		if len(c.Embedding) == 0 && c.Text != "" {
			c := c
			targets = append(targets, target{c.Text, func(v []float64) { c.Embedding = v }})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	texts := make([]string, len(targets))
	for i, t := range targets {
		texts[i] = t.text
	}

	vectors, err := b.cfg.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.warn("embedding generation failed, vectors left empty: %v", err)
		return nil
	}
	for i, t := range targets {
		t.apply(vectors[i])
	}
	return nil
}

// Build composes the full pipeline over a directory of thread files.
func (b *Builder) Build(ctx context.Context, threadsDir string, progress ProgressFunc) error {
	results, err := thread.ParseThreads(threadsDir, nil)
	if err != nil {
		return err
	}
	for _, res := range results {
		b.addParsed(res)
	}
	b.ChunkAllEntries()
	if err := b.GenerateSummaries(ctx, progress); err != nil {
		return err
	}
	return b.GenerateEmbeddings(ctx)
}

func (b *Builder) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	debug.Warnf("%s\n", msg)
	b.mu.Lock()
	b.warnings = append(b.warnings, msg)
	b.mu.Unlock()
}

// Warnings returns build warnings plus any accumulated by the summarizer.
func (b *Builder) Warnings() []string {
	b.mu.Lock()
	out := append([]string(nil), b.warnings...)
	b.mu.Unlock()
	if b.cfg.Summarizer != nil {
		out = append(out, b.cfg.Summarizer.Warnings()...)
	}
	return out
}
