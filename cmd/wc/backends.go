package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/watercooler/internal/config"
	"github.com/steveyegge/watercooler/internal/memory"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered memory backends and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		resolved := memory.ResolveName(cfg.Backend)

		if jsonOutput {
			out := map[string]any{
				"registered": memory.Registered(),
				"resolved":   resolved,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		creds, _ := config.LoadCredentials("")
		if creds == nil {
			creds = &config.Credentials{}
		}
		for _, name := range memory.Registered() {
			marker := " "
			if name == resolved {
				marker = "*"
			}
			b, err := memory.Open(name, backendOptions(cfg, creds))
			if err != nil {
				fmt.Printf("%s %-10s (unavailable: %v)\n", marker, name, err)
				continue
			}
			caps := b.Capabilities()
			var supports []string
			if caps.SupportsNodes {
				supports = append(supports, "nodes")
			}
			if caps.SupportsFacts {
				supports = append(supports, "facts")
			}
			if caps.SupportsEpisodes {
				supports = append(supports, "episodes")
			}
			if caps.SupportsChunks {
				supports = append(supports, "chunks")
			}
			if caps.SupportsEdges {
				supports = append(supports, "edges")
			}
			fmt.Printf("%s %-10s ids=%s/%s supports=%v\n",
				marker, name, caps.NodeIDType, caps.EdgeIDType, supports)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wc version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wc version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(versionCmd)
}
