package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/output"
	"github.com/corpora-dev/corpora/pkg/datastore"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	collection string
	query      string
	method     string
	alpha      float64
	topK       int
	format     string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a collection",
		Long: `Search a collection by keyword relevance, embedding similarity,
or a hybrid of both. Hybrid fusion min-max normalizes each side's
scores and blends them: alpha 0.0 is pure keyword ranking,
alpha 1.0 is pure embedding ranking.

Examples:
  corpora search --collection handbook --query "vacation policy"
  corpora search -c handbook -q "error budget" --method keyword
  corpora search -c handbook -q "oncall" --alpha 0.8 --top-k 3 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearchCmd(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Collection to search (required)")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Query text (required)")
	cmd.Flags().StringVarP(&opts.method, "method", "m", "hybrid", "Search method: hybrid, keyword, embedding")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 0.5, "Hybrid fusion weight: 0.0 = keyword, 1.0 = embedding")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runSearchCmd(ctx context.Context, cmd *cobra.Command, opts searchOptions) error {
	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	results, err := store.Search(ctx, opts.collection, opts.query, opts.method, opts.topK, opts.alpha)
	if err != nil {
		return err
	}
	slog.Info("search_completed",
		slog.String("collection", opts.collection),
		slog.String("method", opts.method),
		slog.Int("results", len(results)))

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return out.JSON(results)
	}
	return printResults(out, opts, results)
}

func printResults(out *output.Writer, opts searchOptions, results []*datastore.Result) error {
	if len(results) == 0 {
		out.Dimf("no results for %q in %q", opts.query, opts.collection)
		return nil
	}

	out.Headerf("%d result(s) for %q", len(results), opts.query)
	for i, r := range results {
		out.Printf("%d. %s (score: %.3f)", i+1, r.DocKey, r.Score)
		if opts.method == "hybrid" || opts.method == "" {
			out.Dimf("   keyword: %.3f | embedding: %.3f", r.KeywordScore, r.EmbeddingScore)
		}
		out.Printf("   %s", snippet(r.Text, 200))
	}
	return nil
}

// snippet truncates text to limit runes on a best-effort word boundary.
func snippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return fmt.Sprintf("%s…", string(runes[:limit]))
}
