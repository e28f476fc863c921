package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/newsagent/internal/orchestrator"
)

var (
	verbose   bool
	askEvents string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the ingested news",
	Long: `Ask a natural language question about the ingested news.

This command:
1. Routes the question to a topic (sports, tech, business or world)
2. Retrieves the most relevant contextual chunks from that topic
3. Streams an answer generated from those chunks

Examples:
  newsagent ask "Who won the final?"
  newsagent ask "What did the central bank decide?" --verbose
  newsagent ask "Who won the final?" --events events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&verbose, "verbose", false, "Show the routed topic")
	askCmd.Flags().StringVar(&askEvents, "events", "", "JSONL file of events to ingest before asking (for the in-memory store)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := args[0]
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// Styling
	var (
		headerColor   = lipgloss.Color("#F780FF") // Bright pink
		questionColor = lipgloss.Color("#8BE9FD") // Cyan
		answerColor   = lipgloss.Color("#E9E9F4")
		contextColor  = lipgloss.Color("#6272A4") // Muted purple
		errorColor    = lipgloss.Color("#FF5555") // Red
	)

	headerStyle := lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	questionStyle := lipgloss.NewStyle().Foreground(questionColor).Italic(true)
	answerStyle := lipgloss.NewStyle().Foreground(answerColor)
	contextStyle := lipgloss.NewStyle().Foreground(contextColor).Italic(true)
	errorStyle := lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), orchestrator.ErrEmptyQuestion)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Question:"))
	fmt.Fprintln(out, questionStyle.Render(question))
	fmt.Fprintln(out)

	pipeline, err := orchestrator.NewPipeline(ctx, cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("%s failed to create pipeline: %w", errorStyle.Render("Error:"), err)
	}
	defer pipeline.Close()

	if askEvents != "" {
		if err := loadEvents(cmd, pipeline, askEvents); err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
	}

	ns, err := pipeline.Graph.Route(ctx, question)
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}
	if verbose {
		fmt.Fprintln(out, contextStyle.Render(fmt.Sprintf("→ Routed to %s", ns)))
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, headerStyle.Render("Answer:"))
	for fragment, err := range pipeline.Graph.AnswerIn(ctx, question, ns) {
		if err != nil {
			fmt.Fprintln(out)
			return fmt.Errorf("%s failed to generate answer: %w", errorStyle.Render("Error:"), err)
		}
		fmt.Fprint(out, answerStyle.Render(fragment))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out)
	return nil
}
