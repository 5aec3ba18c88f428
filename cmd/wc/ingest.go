package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/watercooler/internal/chunk"
	"github.com/steveyegge/watercooler/internal/config"
	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/llm"
	"github.com/steveyegge/watercooler/internal/pipeline"
)

var (
	ingestForce       bool
	ingestFresh       bool
	ingestIncremental bool
	ingestTestMode    bool
	ingestRunID       string
	ingestStage       string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline (export, extract, dedupe, build)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if issues := cfg.Validate(); len(issues) > 0 {
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "  %s\n", issue)
			}
			return fmt.Errorf("configuration invalid")
		}
		creds, err := config.LoadCredentials("")
		if err != nil {
			return err
		}

		backend, err := openBackend(cfg, creds)
		if err != nil {
			return err
		}

		c := openCache()
		stats := &llm.CallStats{}
		o, err := pipeline.New(pipeline.Options{
			WorkDir:       cfg.WorkDir,
			ThreadsDir:    cfg.ThreadsDir,
			RunID:         ingestRunID,
			Force:         ingestForce,
			Fresh:         ingestFresh,
			Incremental:   ingestIncremental || cfg.Incremental,
			TestMode:      ingestTestMode,
			MaxConcurrent: cfg.MaxConcurrent,
			ChunkConfig: chunk.Config{
				MaxTokens: cfg.Chunk.MaxTokens,
				Overlap:   cfg.Chunk.Overlap,
				Preset:    chunk.PresetWatercooler,
			},
			Backend:    backend,
			Summarizer: buildSummarizer(cfg, creds, c, stats),
			Embedder:   buildEmbedder(cfg, creds, c, stats),
			LLMStats:   stats,
			ExtractCmd: cfg.Stages.Extract,
			DedupeCmd:  cfg.Stages.Dedupe,
			BuildCmd:   cfg.Stages.Build,
			StageEnv:   stageEnv(cfg, creds),
		})
		if err != nil {
			return err
		}
		defer o.Close()

		debug.PrintNormal("run %s against backend %s\n", o.Run().State.RunID, backend.Name())

		var runErr error
		if ingestStage != "" {
			runErr = o.RunStage(rootCtx, pipeline.StageName(ingestStage))
		} else {
			runErr = o.RunAll(rootCtx)
		}

		if !debug.IsQuiet() {
			pipeline.BuildReport(o.Run()).Write(os.Stdout)
		}
		return runErr
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "rerun stages even when already completed")
	ingestCmd.Flags().BoolVar(&ingestFresh, "fresh", false, "delete the work directory before starting")
	ingestCmd.Flags().BoolVar(&ingestIncremental, "incremental", false, "reprocess only changed threads")
	ingestCmd.Flags().BoolVar(&ingestTestMode, "test-mode", false, "mark the run as a test run in its state file")
	ingestCmd.Flags().StringVar(&ingestRunID, "run-id", "", "resume an existing run")
	ingestCmd.Flags().StringVar(&ingestStage, "stage", "", "run a single stage (export|extract|dedupe|build)")
	rootCmd.AddCommand(ingestCmd)
}
