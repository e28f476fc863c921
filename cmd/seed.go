package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/newsagent/internal/ingest"
	"github.com/Yates-Labs/newsagent/internal/orchestrator"
)

var referencesFile string

var seedRouterCmd = &cobra.Command{
	Use:   "seed-router",
	Short: "Load topic reference texts into the router partition",
	Long: `Load topic reference texts into the router partition.

The router classifies text by its nearest reference, so questions and
events cannot be routed until the partition holds references. Without
--file the router.references file, or else a built-in set, is used.
With the in-memory store the pipeline seeds itself at startup, so this
command only matters for Milvus. The file holds one JSON
object per line: {"namespace": "sports", "text": "..."}.`,
	Args: cobra.NoArgs,
	RunE: runSeedRouter,
}

func init() {
	rootCmd.AddCommand(seedRouterCmd)
	seedRouterCmd.Flags().StringVarP(&referencesFile, "file", "f", "", "JSONL file of references")
}

func runSeedRouter(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path := referencesFile
	if path == "" {
		path = cfg.Router.References
	}
	refs := ingest.DefaultReferences()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening references: %w", err)
		}
		defer f.Close()
		if refs, err = ingest.ReadReferences(f); err != nil {
			return err
		}
	}

	pipeline, err := orchestrator.NewPipeline(ctx, cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer pipeline.Close()

	n, err := pipeline.SeedRouter(ctx, refs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d references\n", n)
	return nil
}
