package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/watercooler/internal/chunk"
	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/embed"
	"github.com/steveyegge/watercooler/internal/graph"
	"github.com/steveyegge/watercooler/internal/incremental"
	"github.com/steveyegge/watercooler/internal/llm"
	"github.com/steveyegge/watercooler/internal/memory"
)

// Options configures one pipeline run.
type Options struct {
	WorkDir    string
	ThreadsDir string
	RunID      string // empty generates a fresh ULID

	Force       bool // rerun completed stages
	Fresh       bool // delete the work directory before starting
	Incremental bool // reuse cached artifacts for unchanged threads
	TestMode    bool // mark the run as a test run in its state file

	MaxConcurrent int
	ChunkConfig   chunk.Config

	Backend    memory.Backend
	Summarizer *llm.Summarizer
	Embedder   *embed.Embedder
	LLMStats   *llm.CallStats

	// External tool commands per subprocess stage. An empty command makes
	// the stage a recorded no-op, which is how backends that do their own
	// extraction (or none) run the pipeline.
	ExtractCmd []string
	DedupeCmd  []string
	BuildCmd   []string

	// StageEnv is appended to each subprocess environment. Values may hold
	// credentials; they are never logged.
	StageEnv []string
}

// Run is the live context shared by the stage runners of one invocation.
type Run struct {
	Opts  Options
	State *State
	Graph *graph.Graph // populated by EXPORT

	Incremental *incremental.State
	Changes     *incremental.Changes

	logFile *os.File
	log     *RedactingWriter

	mu       sync.Mutex
	warnings []string
}

// Orchestrator executes stages in order against one Run.
type Orchestrator struct {
	run    *Run
	stages map[StageName]Stage
}

// New prepares a run: resolves the run ID, optionally wipes the work
// directory, loads or creates state, and opens the redacted run log.
func New(opts Options) (*Orchestrator, error) {
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("pipeline: work directory required")
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.ChunkConfig.MaxTokens == 0 {
		opts.ChunkConfig = chunk.WatercoolerConfig()
	}

	if opts.Fresh {
		if err := os.RemoveAll(opts.WorkDir); err != nil {
			return nil, fmt.Errorf("fresh start: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(opts.WorkDir, "logs"), 0o750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	state, err := LoadOrCreateState(opts.WorkDir, opts.RunID)
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(opts.WorkDir, "logs", opts.RunID+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	r := &Run{
		Opts:    opts,
		State:   state,
		logFile: logFile,
		log:     NewRedactingWriter(logFile),
	}
	if state.ThreadsDir != "" && opts.ThreadsDir != "" && state.ThreadsDir != opts.ThreadsDir {
		r.Warn("resuming run %s: threads_dir changed from %s to %s",
			state.RunID, state.ThreadsDir, opts.ThreadsDir)
	}
	state.ThreadsDir = opts.ThreadsDir
	state.WorkDir = opts.WorkDir
	state.TestMode = opts.TestMode
	if opts.Incremental {
		r.Incremental = incremental.Load(opts.WorkDir)
	}

	return &Orchestrator{
		run: r,
		stages: map[StageName]Stage{
			StageExport:  &exportStage{},
			StageExtract: newSubprocessStage(StageExtract, opts.ExtractCmd, ExtractTimeout),
			StageDedupe:  newSubprocessStage(StageDedupe, opts.DedupeCmd, DedupeTimeout),
			StageBuild:   &buildStage{subprocessStage: newSubprocessStage(StageBuild, opts.BuildCmd, BuildTimeout)},
		},
	}, nil
}

// Run returns the live run context, mostly for inspection in tests and
// reporting.
func (o *Orchestrator) Run() *Run { return o.run }

// Close flushes and closes the run log.
func (o *Orchestrator) Close() error {
	_ = o.run.log.Flush()
	return o.run.logFile.Close()
}

// RunAll executes every stage in order, resuming from durable state. A
// completed stage is skipped unless Force is set. The first failure stops
// the run.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	for _, name := range StageOrder {
		if err := o.RunStage(ctx, name); err != nil {
			return err
		}
	}
	if o.run.Incremental != nil {
		if o.run.Changes != nil {
			o.run.Incremental.Prune(o.run.Changes.Deleted)
		}
		if err := o.run.Incremental.Save(); err != nil {
			o.run.Warn("save incremental state: %v", err)
		}
	}
	return nil
}

// RunStage executes one stage with the full transition protocol: skip when
// already complete, refuse when prior stages are not, validate, run,
// persist every transition.
func (o *Orchestrator) RunStage(ctx context.Context, name StageName) error {
	r := o.run
	stage, ok := o.stages[name]
	if !ok {
		return fmt.Errorf("unknown stage %q (valid: %v)", name, StageOrder)
	}
	ss := r.State.Stage(name)

	if ss.Done() && !r.Opts.Force {
		ss.Status = StatusSkipped
		r.Logf("stage %s: already complete, skipping", name)
		return r.State.Save()
	}

	if !r.Opts.Force && !r.State.PriorStagesComplete(name) {
		return fmt.Errorf("stage %s: prior stages not complete (first pending: %s)",
			name, r.State.FirstPending())
	}

	if errs := stage.ValidateInputs(r); len(errs) > 0 {
		msg := fmt.Sprintf("stage %s: inputs invalid: %v", name, errs)
		r.failStage(ss, msg)
		return fmt.Errorf("%s", msg)
	}

	now := time.Now().UTC()
	ss.Status = StatusRunning
	ss.StartedAt = &now
	ss.Error = ""
	if err := r.State.Save(); err != nil {
		return err
	}
	r.Logf("stage %s: running", name)

	outputs, err := stage.Run(ctx, r)
	finished := time.Now().UTC()
	ss.FinishedAt = &finished

	if err != nil {
		if ctx.Err() != nil {
			r.failStage(ss, "cancelled")
			return fmt.Errorf("stage %s: cancelled: %w", name, ctx.Err())
		}
		r.failStage(ss, Redact(err.Error()))
		return fmt.Errorf("stage %s: %w", name, err)
	}

	ss.Status = StatusCompleted
	ss.Outputs = outputs
	if n, ok := outputs["total_items"].(int); ok {
		ss.TotalItems = n
	}
	if n, ok := outputs["processed_items"].(int); ok {
		ss.ProcessedItems = n
	}
	if n, ok := outputs["failed_items"].(int); ok {
		ss.FailedItems = n
	}
	if err := r.State.Save(); err != nil {
		return err
	}
	r.Logf("stage %s: completed in %s", name, finished.Sub(now).Round(time.Millisecond))
	return nil
}

func (r *Run) failStage(ss *StageState, msg string) {
	ss.Status = StatusFailed
	ss.Error = msg
	r.Logf("%s", msg)
	if err := r.State.Save(); err != nil {
		r.Warn("save state after failure: %v", err)
	}
}

// Logf writes one redacted line to the run log and the debug stream.
func (r *Run) Logf(format string, args ...interface{}) {
	line := Redact(fmt.Sprintf(format, args...))
	debug.Logf("%s\n", line)
	fmt.Fprintf(r.log, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
}

// Warn records a non-fatal problem for the run report.
func (r *Run) Warn(format string, args ...interface{}) {
	msg := Redact(fmt.Sprintf(format, args...))
	debug.Warnf("%s\n", msg)
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
	fmt.Fprintf(r.log, "%s warning: %s\n", time.Now().UTC().Format(time.RFC3339), msg)
}

// Warnings returns the run's accumulated warnings.
func (r *Run) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// StageLog opens the per-stage log file for subprocess output.
func (r *Run) StageLog(name StageName) (io.WriteCloser, error) {
	path := filepath.Join(r.Opts.WorkDir, "logs", fmt.Sprintf("%s.%s.log", r.Opts.RunID, name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return f, nil
}
