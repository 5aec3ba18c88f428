package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/watercooler/internal/graph"
	"github.com/steveyegge/watercooler/internal/types"
	"github.com/steveyegge/watercooler/internal/utils"
)

// exportStage parses, chunks, summarizes, and embeds the thread corpus,
// writes the export artifacts, and hands the corpus to the backend.
type exportStage struct{}

func (s *exportStage) Name() StageName { return StageExport }

func (s *exportStage) ValidateInputs(r *Run) []error {
	var errs []error
	if r.Opts.ThreadsDir == "" {
		errs = append(errs, fmt.Errorf("threads directory not set"))
	} else if info, err := os.Stat(r.Opts.ThreadsDir); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Errorf("threads directory %s not readable", r.Opts.ThreadsDir))
	}
	return errs
}

func (s *exportStage) Run(ctx context.Context, r *Run) (map[string]any, error) {
	var changedCount = -1 // -1 means full run
	if r.Incremental != nil {
		ch, err := r.Incremental.Detect(r.Opts.ThreadsDir, nil)
		if err != nil {
			return nil, err
		}
		r.Changes = ch
		changedCount = len(ch.Changed)
		r.Logf("incremental: changed=%d cached=%d deleted=%d",
			len(ch.Changed), len(ch.Cached), len(ch.Deleted))
	}

	b := graph.NewBuilder(graph.BuilderConfig{
		ChunkConfig:   r.Opts.ChunkConfig,
		Summarizer:    r.Opts.Summarizer,
		Embedder:      r.Opts.Embedder,
		MaxConcurrent: r.Opts.MaxConcurrent,
	})
	if err := b.Build(ctx, r.Opts.ThreadsDir, func(done, total int) {
		if done == total || done%50 == 0 {
			r.Logf("summarization: %d/%d", done, total)
		}
	}); err != nil {
		return nil, err
	}
	for _, w := range b.Warnings() {
		r.Warn("%s", w)
	}
	r.Graph = b.Graph

	exportDir := filepath.Join(r.Opts.WorkDir, "export")
	paths, err := writeExportFiles(exportDir, b.Graph)
	if err != nil {
		return nil, err
	}

	if r.Incremental != nil {
		for _, th := range b.Graph.ThreadList() {
			if err := r.Incremental.Record(r.Opts.ThreadsDir, th.ThreadID, len(th.EntryIDs)); err != nil {
				r.Warn("incremental record %s: %v", th.ThreadID, err)
			}
		}
	}

	if r.Opts.Backend != nil {
		prep, err := r.Opts.Backend.Prepare(ctx, b.Graph.CorpusPayload())
		if err != nil {
			return nil, fmt.Errorf("backend prepare: %w", err)
		}
		r.Logf("backend %s prepared %d items", r.Opts.Backend.Name(), prep.PreparedCount)
	}

	processed := len(b.Graph.Entries)
	if changedCount >= 0 {
		processed = changedCount
	}
	outputs := map[string]any{
		"documents":         paths.documents,
		"threads":           paths.threads,
		"manifest":          paths.manifest,
		"graph":             paths.graph,
		"threads_processed": len(b.Graph.Threads),
		"entries_processed": len(b.Graph.Entries),
		"total_items":       len(b.Graph.Entries),
		"processed_items":   processed,
	}
	return outputs, nil
}

type exportPaths struct {
	documents, threads, manifest, graph string
}

// exportDocument is the per-entry record external extraction tools consume.
type exportDocument struct {
	DocID     string `json:"doc_id"`
	ThreadID  string `json:"thread_id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Agent     string `json:"agent,omitempty"`
	Role      string `json:"role,omitempty"`
	EntryType string `json:"entry_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type exportThread struct {
	ThreadID string   `json:"thread_id"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Summary  string   `json:"summary,omitempty"`
	EntryIDs []string `json:"entry_ids"`
}

type exportManifest struct {
	ManifestVersion string             `json:"manifest_version"`
	CreatedAt       string             `json:"created_at"`
	ThreadCount     int                `json:"thread_count"`
	DocumentCount   int                `json:"document_count"`
	Chunker         *types.ChunkerInfo `json:"chunker,omitempty"`
}

func writeExportFiles(dir string, g *graph.Graph) (*exportPaths, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	var docs []exportDocument
	for _, e := range g.EntryList() {
		content := e.Summary
		if content == "" {
			content = e.Body
		}
		var ts string
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.UTC().Format(time.RFC3339)
		}
		docs = append(docs, exportDocument{
			DocID:     e.EntryID,
			ThreadID:  e.ThreadID,
			Title:     e.Title,
			Content:   content,
			Agent:     e.Agent,
			Role:      string(e.Role),
			EntryType: string(e.EntryType),
			Timestamp: ts,
		})
	}

	var threads []exportThread
	for _, th := range g.ThreadList() {
		threads = append(threads, exportThread{
			ThreadID: th.ThreadID,
			Title:    th.Title,
			Status:   string(th.Status),
			Summary:  th.Summary,
			EntryIDs: th.EntryIDs,
		})
	}

	manifest := exportManifest{
		ManifestVersion: types.ManifestVersion,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		ThreadCount:     len(threads),
		DocumentCount:   len(docs),
		Chunker:         g.Chunker,
	}

	p := &exportPaths{
		documents: filepath.Join(dir, "documents.json"),
		threads:   filepath.Join(dir, "threads.json"),
		manifest:  filepath.Join(dir, "manifest.json"),
		graph:     filepath.Join(dir, "graph.json"),
	}
	for _, w := range []struct {
		path string
		v    any
	}{
		{p.documents, docs},
		{p.threads, threads},
		{p.manifest, manifest},
	} {
		data, err := json.MarshalIndent(w.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", filepath.Base(w.path), err)
		}
		if err := utils.WriteFileAtomic(w.path, data, 0o644); err != nil {
			return nil, err
		}
	}
	if err := g.Save(p.graph); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureGraph loads the graph written by EXPORT when a later stage resumes
// in a fresh process.
func (r *Run) ensureGraph() (*graph.Graph, error) {
	if r.Graph != nil {
		return r.Graph, nil
	}
	g, err := graph.Load(filepath.Join(r.Opts.WorkDir, "export", "graph.json"))
	if err != nil {
		return nil, fmt.Errorf("load exported graph (did EXPORT run?): %w", err)
	}
	r.Graph = g
	return g, nil
}

// subprocessStage shells out to an external tool with a wall-clock timeout,
// killing the whole process group on expiry. An empty command makes the
// stage a recorded no-op so backends that do their own extraction still get
// a completed stage chain.
type subprocessStage struct {
	name    StageName
	cmd     []string
	timeout time.Duration
}

func newSubprocessStage(name StageName, cmd []string, timeout time.Duration) *subprocessStage {
	return &subprocessStage{name: name, cmd: cmd, timeout: timeout}
}

func (s *subprocessStage) Name() StageName { return s.name }

// stageInput names the artifact each subprocess stage consumes.
func (s *subprocessStage) stageInput(r *Run) string {
	switch s.name {
	case StageExtract:
		return filepath.Join(r.Opts.WorkDir, "export", "documents.json")
	case StageDedupe:
		return filepath.Join(r.Opts.WorkDir, "extract", "kg_working", "entity.jsonl")
	case StageBuild:
		return filepath.Join(r.Opts.WorkDir, "graph", "processed", "entity.jsonl")
	}
	return ""
}

func (s *subprocessStage) outputDir(r *Run) string {
	switch s.name {
	case StageExtract:
		return filepath.Join(r.Opts.WorkDir, "extract", "kg_working")
	default:
		return filepath.Join(r.Opts.WorkDir, "graph", "processed")
	}
}

func (s *subprocessStage) ValidateInputs(r *Run) []error {
	if len(s.cmd) == 0 {
		return nil
	}
	var errs []error
	if input := s.stageInput(r); input != "" {
		if info, err := os.Stat(input); err != nil || info.Size() == 0 {
			errs = append(errs, fmt.Errorf("input %s missing or empty", input))
		}
	}
	return errs
}

func (s *subprocessStage) Run(ctx context.Context, r *Run) (map[string]any, error) {
	outDir := s.outputDir(r)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if len(s.cmd) == 0 {
		r.Logf("stage %s: no command configured, nothing to do", s.name)
		return map[string]any{"output_dir": outDir, "noop": true}, nil
	}

	res, err := s.exec(ctx, r, outDir)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s command exited %d", s.name, res.ExitCode)
	}
	return map[string]any{"output_dir": outDir, "duration_ms": res.Duration.Milliseconds()}, nil
}

// exec runs the stage command with stdout/stderr streamed through the
// redaction filter into the per-stage log. The final environment is never
// logged.
func (s *subprocessStage) exec(ctx context.Context, r *Run, outDir string) (*utils.ProcResult, error) {
	stageLog, err := r.StageLog(s.name)
	if err != nil {
		return nil, err
	}
	defer stageLog.Close()
	redacted := NewRedactingWriter(stageLog)
	defer redacted.Flush()

	env := append([]string{
		"WC_WORK_DIR=" + r.Opts.WorkDir,
		"WC_STAGE_OUTPUT_DIR=" + outDir,
	}, r.Opts.StageEnv...)

	r.Logf("stage %s: exec %s (timeout %s)", s.name, s.cmd[0], s.timeout)
	res, err := utils.RunProcess(ctx, utils.ProcSpec{
		Name:    s.cmd[0],
		Args:    s.cmd[1:],
		Dir:     r.Opts.WorkDir,
		Env:     env,
		Timeout: s.timeout,
		Stdout:  redacted,
		Stderr:  redacted,
	})
	if err != nil {
		return nil, fmt.Errorf("%s subprocess: %w", s.name, err)
	}
	return res, nil
}

// buildStage runs the graph build subprocess, then applies the essential
// outputs rule: the stage succeeds when all_entities.json and the vector
// index exist non-empty even if the process exited non-zero, because
// secondary stores may be unreachable while the artifacts are complete.
// On success the chunk payload is handed to the backend's Index.
type buildStage struct {
	*subprocessStage
}

const (
	allEntitiesFile = "all_entities.json"
	vectorIndexFile = "vector_index.faiss"
)

func (s *buildStage) Run(ctx context.Context, r *Run) (map[string]any, error) {
	outDir := s.outputDir(r)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	outputs := map[string]any{"output_dir": outDir}
	if len(s.cmd) > 0 {
		res, err := s.exec(ctx, r, outDir)
		if err != nil {
			return nil, err
		}
		outputs["duration_ms"] = res.Duration.Milliseconds()
		if res.ExitCode != 0 {
			if !essentialOutputsPresent(outDir) {
				return nil, fmt.Errorf("build command exited %d and essential outputs are missing", res.ExitCode)
			}
			r.Warn("build command exited %d but essential outputs are present, continuing", res.ExitCode)
			outputs["exit_code"] = res.ExitCode
		}
	} else {
		r.Logf("stage build: no command configured")
		outputs["noop"] = true
	}

	if r.Opts.Backend != nil {
		g, err := r.ensureGraph()
		if err != nil {
			return nil, err
		}
		idx, err := r.Opts.Backend.Index(ctx, g.ChunkPayload())
		if err != nil {
			return nil, fmt.Errorf("backend index: %w", err)
		}
		r.Logf("backend %s indexed %d items", r.Opts.Backend.Name(), idx.IndexedCount)
		outputs["indexed_count"] = idx.IndexedCount
	}
	return outputs, nil
}

func essentialOutputsPresent(dir string) bool {
	for _, name := range []string{allEntitiesFile, vectorIndexFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}
