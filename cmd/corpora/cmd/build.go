package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/config"
	"github.com/corpora-dev/corpora/internal/ingest"
	"github.com/corpora-dev/corpora/internal/output"
	"github.com/corpora-dev/corpora/pkg/datastore"
)

// buildOptions holds CLI flags for build.
type buildOptions struct {
	collection string
	docsJSON   string
	provider   string
	model      string
}

func newBuildCmd() *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build or update a collection from a JSON document file",
		Long: `Build a collection from a JSON array of documents. Each document
needs a unique doc_key and non-empty text; metadata is optional.

Unchanged documents (same doc_key and text) are skipped, changed
ones are re-embedded, and failures are reported per document
without aborting the rest of the build.

Examples:
  corpora build --collection handbook --docs-json docs.json
  corpora build --collection handbook --docs-json docs.json --provider ollama`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Collection name (required)")
	cmd.Flags().StringVar(&opts.docsJSON, "docs-json", "", "Path to the JSON document file (required)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Embedding provider: gemini, ollama, static (default: auto-detect)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model name (default: provider default)")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("docs-json")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, opts buildOptions) error {
	docs, err := ingest.LoadDocumentsJSON(opts.docsJSON)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, func(cfg *config.Config) {
		if opts.provider != "" {
			cfg.Embeddings.Provider = opts.provider
		}
		if opts.model != "" {
			cfg.Embeddings.Model = opts.model
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summary, err := store.Build(ctx, opts.collection, docs)
	if err != nil {
		return err
	}

	printBuildSummary(output.New(cmd.OutOrStdout()), summary)
	return nil
}

// printBuildSummary renders a build result. Partial failures are
// warnings, not errors: the documents that worked are searchable.
func printBuildSummary(out *output.Writer, s *datastore.BuildSummary) {
	out.Successf("built %q in %s", s.Collection, s.Duration.Round(time.Millisecond))
	out.Field("documents", s.Total)
	out.Field("indexed", s.Indexed)
	out.Field("skipped", s.Skipped)
	out.Field("provider", fmt.Sprintf("%s (%s, %d dims)", s.Provider, s.Model, s.Dimension))
	if s.Compacted {
		out.Dimf("vector index compacted")
	}

	if s.Failed > 0 {
		out.Warningf("%d document(s) failed:", s.Failed)
		for _, f := range s.FailedDocuments {
			out.Printf("  %s: %s", f.DocKey, strings.TrimSpace(f.Reason))
		}
		slog.Warn("build_partial_failure", slog.Int("failed", s.Failed))
	}
}
