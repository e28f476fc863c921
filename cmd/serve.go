package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/newsagent/internal/orchestrator"
	"github.com/Yates-Labs/newsagent/internal/server"
)

var (
	serveAddr   string
	serveEvents string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API",
	Long: `Serve the chat API over HTTP.

Endpoints:
  POST /api/chat   {"question": "...", "thread_id": "..."} streams a plain-text answer
  GET  /healthz    liveness probe

With vector_store.type memory the index lives in this process only: the
router is seeded at startup and --events loads a JSONL file of events
before the server starts listening.

The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.address)")
	serveCmd.Flags().StringVar(&serveEvents, "events", "", "JSONL file of events to ingest before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Server.Address = serveAddr
	}

	pipeline, err := orchestrator.NewPipeline(ctx, cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if serveEvents != "" {
		if err := loadEvents(cmd, pipeline, serveEvents); err != nil {
			return err
		}
	}

	return server.Serve(ctx, cfg.Server.Address, server.NewHandler(pipeline.Graph, logger), logger)
}
