// Command vocabweaved runs the vocabulary enrichment service: an SQS
// consumer that drives each request through the quality-gated enrichment
// graph, and a WebSocket endpoint clients subscribe to for live progress.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "vocabweaved",
		Short:   "Vocabulary enrichment service",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Long: `vocabweaved consumes enrichment requests from a queue, runs them through
validation, classification, translation, a sequential quality gate, a
parallel fan-out (media, examples, synonyms, conjugation, pronunciation),
and a final quality check, persisting the result and broadcasting progress
to subscribed WebSocket clients.`,
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
