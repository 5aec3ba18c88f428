package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/watercooler/internal/config"
	"github.com/steveyegge/watercooler/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, backend health, and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		issues := cfg.Validate()
		if len(issues) == 0 {
			fmt.Println("configuration: ok")
		} else {
			fmt.Println("configuration issues:")
			for _, issue := range issues {
				fmt.Printf("  %s\n", issue)
			}
		}

		creds, err := config.LoadCredentials("")
		if err != nil {
			fmt.Printf("credentials: %v\n", err)
		} else {
			backend, berr := openBackend(cfg, creds)
			if berr != nil {
				fmt.Printf("backend: %v\n", berr)
			} else {
				hs := backend.Healthcheck(rootCtx)
				if hs.OK {
					fmt.Printf("backend %s: healthy\n", backend.Name())
				} else {
					fmt.Printf("backend %s: unhealthy (%s)\n", backend.Name(), hs.Details)
				}
			}
		}

		if cfg.WorkDir != "" {
			printRuns(cfg.WorkDir)
		}
		return nil
	},
}

// printRuns lists recent pipeline runs from the durable state directory.
func printRuns(workDir string) {
	entries, err := os.ReadDir(filepath.Join(workDir, "state"))
	if err != nil {
		return
	}
	var runIDs []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			runIDs = append(runIDs, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	// ULIDs sort chronologically; newest last.
	sort.Strings(runIDs)
	if len(runIDs) > 5 {
		runIDs = runIDs[len(runIDs)-5:]
	}
	if len(runIDs) == 0 {
		return
	}

	fmt.Println("recent runs:")
	for _, id := range runIDs {
		data, err := os.ReadFile(filepath.Join(workDir, "state", id+".json"))
		if err != nil {
			continue
		}
		var s pipeline.State
		if err := json.Unmarshal(data, &s); err != nil {
			fmt.Printf("  %s: unreadable state\n", id)
			continue
		}
		var parts []string
		for _, name := range pipeline.StageOrder {
			if ss := s.Stages[name]; ss != nil {
				parts = append(parts, fmt.Sprintf("%s=%s", name, ss.Status))
			}
		}
		fmt.Printf("  %s  %s\n", id, strings.Join(parts, " "))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
