package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/output"
)

func newInfoCmd() *cobra.Command {
	var collection string
	var format string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a collection's documents, provenance, and artifact sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.Context(), cmd, collection, format)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name (required)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func runInfo(ctx context.Context, cmd *cobra.Command, name, format string) error {
	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	info, err := store.Info(ctx, name)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		return out.JSON(info)
	}

	out.Headerf("%s", info.Name)
	out.Field("documents", info.DocumentCount)
	if p := info.Provenance; p != nil {
		out.Field("provider", fmt.Sprintf("%s (%s, %d dims)", p.Provider, p.Model, p.Dimension))
	} else {
		out.Field("provider", "never built")
	}
	out.Field("keyword index", fmt.Sprintf("%s (%s)", info.KeywordPath, humanBytes(info.KeywordBytes)))
	out.Field("vector index", fmt.Sprintf("%s (%s)", info.VectorPath, humanBytes(info.VectorBytes)))
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
