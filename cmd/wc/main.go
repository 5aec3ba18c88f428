// Command wc ingests watercooler thread files into a hierarchical knowledge
// graph and queries it through pluggable memory backends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/telemetry"

	// Registered memory backends. The null backend registers through the
	// memory package itself, pulled in by setup.go.
	_ "github.com/steveyegge/watercooler/internal/memory/graphiti"
	_ "github.com/steveyegge/watercooler/internal/memory/leanrag"
)

// Version and Build are set via -ldflags at release time.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	configDir   string
	threadsDir  string
	workDir     string
	backendName string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "wc",
	Short: "wc - thread knowledge graph ingestion",
	Long:  `Turns append-only markdown thread logs into a queryable knowledge graph through a staged, resumable ingestion pipeline.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("wc version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		if err := telemetry.Init(rootCtx, "wc", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing watercooler.yaml")
	rootCmd.PersistentFlags().StringVar(&threadsDir, "threads", "", "threads directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "pipeline work directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "memory backend (overrides config and WC_MEMORY_BACKEND)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	rootCmd.Flags().Bool("version", false, "print version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
