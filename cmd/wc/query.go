package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/watercooler/internal/config"
	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

var (
	queryLimit  int
	queryGroups []string
	queryScope  string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Query the configured memory backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		creds, err := config.LoadCredentials("")
		if err != nil {
			return err
		}
		backend, err := openBackend(cfg, creds)
		if err != nil {
			return err
		}

		var results []types.CoreResult
		opts := memory.SearchOptions{GroupIDs: queryGroups, MaxResults: queryLimit}
		caps := backend.Capabilities()

		switch queryScope {
		case "nodes":
			if !caps.SupportsNodes {
				return fmt.Errorf("backend %s does not support node search", backend.Name())
			}
			results, err = backend.SearchNodes(rootCtx, args[0], opts)
		case "facts":
			if !caps.SupportsFacts {
				return fmt.Errorf("backend %s does not support fact search", backend.Name())
			}
			results, err = backend.SearchFacts(rootCtx, args[0], opts)
		case "episodes":
			if !caps.SupportsEpisodes {
				return fmt.Errorf("backend %s does not support episode search", backend.Name())
			}
			results, err = backend.SearchEpisodes(rootCtx, args[0], opts)
		case "":
			var queries []types.Query
			for _, arg := range args {
				queries = append(queries, types.Query{Query: arg, Limit: queryLimit, GroupIDs: queryGroups})
			}
			var res *types.QueryResult
			res, err = backend.Query(rootCtx, &types.QueryPayload{
				ManifestVersion: types.ManifestVersion,
				Queries:         queries,
			})
			if res != nil {
				results = res.Results
			}
		default:
			return fmt.Errorf("unknown scope %q (valid: nodes, facts, episodes)", queryScope)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for _, r := range results {
			line := r.ID
			if r.Name != "" && r.Name != r.ID {
				line += "  " + r.Name
			}
			if r.Score != nil {
				line += fmt.Sprintf("  (%.3f)", *r.Score)
			}
			fmt.Println(line)
			if r.Summary != "" {
				fmt.Printf("    %s\n", r.Summary)
			} else if r.Content != "" {
				fmt.Printf("    %s\n", r.Content)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum results")
	queryCmd.Flags().StringSliceVar(&queryGroups, "group", nil, "restrict to group IDs")
	queryCmd.Flags().StringVar(&queryScope, "scope", "", "search scope: nodes, facts, or episodes (default: backend query)")
	rootCmd.AddCommand(queryCmd)
}
