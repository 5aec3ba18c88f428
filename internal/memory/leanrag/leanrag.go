// Package leanrag adapts the hierarchical-cluster knowledge graph engine to
// the memory backend contract. Prepare exports the corpus into the engine's
// document layout, Index shells out to its extraction and graph-build tools,
// and the search operations answer from the built artifacts.
//
// The engine keys nodes by entity name and edges by SOURCE||TARGET synthetic
// IDs. Episode retrieval is not part of its model.
package leanrag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/embed"
	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
	"github.com/steveyegge/watercooler/internal/utils"
)

// BackendName is the registry key.
const BackendName = "leanrag"

const (
	extractTimeout = 30 * time.Minute
	buildTimeout   = 30 * time.Minute

	defaultPython = "python3"
)

// chdirMu serializes working-directory changes. The graph-build tool resolves
// its cluster config relative to the process working directory, so the switch
// has to be process-wide exclusive.
var chdirMu sync.Mutex

func init() {
	memory.Register(BackendName, func(opts map[string]string) (memory.Backend, error) {
		return New(opts)
	})
}

// Config holds the adapter settings resolved from the options map.
type Config struct {
	WorkDir    string // per-run work directory
	EngineDir  string // checkout of the engine's tools (LEANRAG_DIR)
	Python     string
	MaxResults int
}

// Backend implements the memory contract on top of the engine's file layout.
type Backend struct {
	cfg      Config
	embedder *embed.Embedder

	mu    sync.Mutex
	store *store // lazily loaded built artifacts
}

// New builds the adapter. Required options: work_dir. The engine directory
// falls back to LEANRAG_DIR. An embedder is wired from the embedding_*
// options when present; without one the search operations fail with a
// ConfigError rather than at construction, so Prepare and Index remain
// usable offline.
func New(opts map[string]string) (*Backend, error) {
	cfg := Config{
		WorkDir:   opts["work_dir"],
		EngineDir: opts["leanrag_dir"],
		Python:    opts["python"],
	}
	if cfg.WorkDir == "" {
		return nil, &memory.ConfigError{Msg: "leanrag: work_dir option required"}
	}
	if cfg.EngineDir == "" {
		cfg.EngineDir = os.Getenv("LEANRAG_DIR")
	}
	if cfg.Python == "" {
		cfg.Python = defaultPython
	}
	if raw := opts["max_results"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &memory.ConfigError{Msg: "leanrag: bad max_results", Err: err}
		}
		cfg.MaxResults = n
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}

	b := &Backend{cfg: cfg}
	if base := opts["embedding_api_base"]; base != "" {
		e, err := embed.New(embed.Config{
			BaseURL: base,
			Model:   opts["embedding_model"],
			APIKey:  opts["embedding_api_key"],
		}, nil, nil)
		if err != nil {
			return nil, &memory.ConfigError{Msg: "leanrag: embedder setup", Err: err}
		}
		b.embedder = e
	}
	return b, nil
}

func (b *Backend) Name() string { return BackendName }

// Prepare exports the corpus into the engine's document layout under the
// work directory: documents.json, threads.json, threads_chunk.json, and a
// manifest describing the export.
func (b *Backend) Prepare(ctx context.Context, payload *types.CorpusPayload) (*types.PrepareResult, error) {
	if err := memory.ValidateCorpus(payload); err != nil {
		return nil, err
	}
	if err := b.writeExport(payload, nil); err != nil {
		return nil, &memory.BackendError{Backend: BackendName, Op: "prepare", Err: err}
	}
	return &types.PrepareResult{
		ManifestVersion: payload.ManifestVersion,
		PreparedCount:   len(payload.Entries),
		Message:         fmt.Sprintf("exported %d documents to %s", len(payload.Entries), b.exportDir()),
	}, nil
}

// Index writes the chunk records, then runs the engine's triple extraction
// and graph build. Both are long-running external processes; each gets its
// own wall-clock timeout and is killed as a process group on expiry.
func (b *Backend) Index(ctx context.Context, payload *types.ChunkPayload) (*types.IndexResult, error) {
	if err := memory.ValidateChunks(payload); err != nil {
		return nil, err
	}
	if b.cfg.EngineDir == "" {
		return nil, &memory.ConfigError{Msg: "leanrag: engine directory not set (set LEANRAG_DIR)"}
	}
	if err := b.writeChunks(payload); err != nil {
		return nil, &memory.BackendError{Backend: BackendName, Op: "index", Err: err}
	}

	if err := b.runExtraction(ctx); err != nil {
		return nil, err
	}
	if err := b.runGraphBuild(ctx); err != nil {
		return nil, err
	}

	// Built artifacts changed; drop the loaded snapshot.
	b.mu.Lock()
	b.store = nil
	b.mu.Unlock()

	return &types.IndexResult{
		ManifestVersion: payload.ManifestVersion,
		IndexedCount:    len(payload.Chunks),
	}, nil
}

// Query runs each query through node search and flattens the results.
func (b *Backend) Query(ctx context.Context, payload *types.QueryPayload) (*types.QueryResult, error) {
	res := &types.QueryResult{ManifestVersion: payload.ManifestVersion}
	for _, q := range payload.Queries {
		limit := q.Limit
		if limit <= 0 {
			limit = b.cfg.MaxResults
		}
		items, err := b.SearchNodes(ctx, q.Query, memory.SearchOptions{MaxResults: limit})
		if err != nil {
			return nil, err
		}
		res.Results = append(res.Results, items...)
	}
	return res, nil
}

// Healthcheck verifies the work directory is writable and the engine
// directory exists. It never returns an error.
func (b *Backend) Healthcheck(ctx context.Context) types.HealthStatus {
	if err := os.MkdirAll(b.cfg.WorkDir, 0o750); err != nil {
		return types.HealthStatus{OK: false, Details: fmt.Sprintf("work dir: %v", err)}
	}
	if b.cfg.EngineDir != "" {
		if _, err := os.Stat(b.cfg.EngineDir); err != nil {
			return types.HealthStatus{OK: false, Details: fmt.Sprintf("engine dir: %v", err)}
		}
	}
	return types.HealthStatus{OK: true}
}

func (b *Backend) Capabilities() types.Capabilities {
	return types.Capabilities{
		Embeddings:       true,
		EntityExtraction: true,
		GraphQuery:       true,
		SchemaVersions:   []string{types.ManifestVersion},
		StorageBackends:  []string{"milvus"},
		SupportsNodes:    true,
		SupportsFacts:    true,
		SupportsEpisodes: false,
		SupportsChunks:   true,
		SupportsEdges:    true,
		NodeIDType:       types.IDTypeName,
		EdgeIDType:       types.IDTypeSynthetic,
	}
}

// SearchEpisodes is not part of the hierarchical-cluster model.
func (b *Backend) SearchEpisodes(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	return nil, &memory.UnsupportedOperationError{Backend: BackendName, Op: "search_episodes"}
}

func (b *Backend) exportDir() string  { return filepath.Join(b.cfg.WorkDir, "export") }
func (b *Backend) extractDir() string { return filepath.Join(b.cfg.WorkDir, "extract", "kg_working") }
func (b *Backend) processedDir() string {
	return filepath.Join(b.cfg.WorkDir, "graph", "processed")
}

func (b *Backend) runExtraction(ctx context.Context) error {
	if err := os.MkdirAll(b.extractDir(), 0o750); err != nil {
		return &memory.BackendError{Backend: BackendName, Op: "index", Err: err}
	}
	script := filepath.Join(b.cfg.EngineDir, "extract_triples.py")
	debug.Logf("leanrag: running extraction %s\n", script)
	res, err := utils.RunProcess(ctx, utils.ProcSpec{
		Name:    b.cfg.Python,
		Args:    []string{script, "--input", filepath.Join(b.exportDir(), "documents.json"), "--output", b.extractDir()},
		Dir:     b.cfg.EngineDir,
		Timeout: extractTimeout,
	})
	if err != nil {
		return &memory.BackendError{Backend: BackendName, Op: "extract", Err: err}
	}
	if res.ExitCode != 0 {
		return &memory.BackendError{Backend: BackendName, Op: "extract",
			Err: fmt.Errorf("extraction exited %d", res.ExitCode)}
	}
	return nil
}

func (b *Backend) runGraphBuild(ctx context.Context) error {
	if err := os.MkdirAll(b.processedDir(), 0o750); err != nil {
		return &memory.BackendError{Backend: BackendName, Op: "index", Err: err}
	}
	script := filepath.Join(b.cfg.EngineDir, "build_graph.py")
	debug.Logf("leanrag: running graph build %s\n", script)

	// The build tool resolves its cluster config relative to the process
	// working directory, so the switch is serialized process-wide.
	var res *utils.ProcResult
	err := withWorkingDir(b.cfg.EngineDir, func() error {
		var runErr error
		res, runErr = utils.RunProcess(ctx, utils.ProcSpec{
			Name:    b.cfg.Python,
			Args:    []string{script, "--working", b.extractDir(), "--output", b.processedDir()},
			Timeout: buildTimeout,
		})
		return runErr
	})
	if err != nil {
		return &memory.BackendError{Backend: BackendName, Op: "build", Err: err}
	}
	if res.ExitCode != 0 {
		return &memory.BackendError{Backend: BackendName, Op: "build",
			Err: fmt.Errorf("graph build exited %d", res.ExitCode)}
	}
	return nil
}

// withWorkingDir runs fn with the process working directory switched to dir,
// restoring it afterwards. All callers share one mutex.
func withWorkingDir(dir string, fn func() error) error {
	chdirMu.Lock()
	defer chdirMu.Unlock()

	prev, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(dir); err != nil {
		return err
	}
	defer func() {
		if err := os.Chdir(prev); err != nil {
			debug.Warnf("restore working directory: %v\n", err)
		}
	}()
	return fn()
}
