package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/output"
)

func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runList(ctx context.Context, cmd *cobra.Command, format string) error {
	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.List(ctx)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		return out.JSON(stats)
	}
	if len(stats) == 0 {
		out.Dimf("no collections yet (try: corpora quickbuild --name docs --from-folder .)")
		return nil
	}

	out.Headerf("%d collection(s)", len(stats))
	for _, s := range stats {
		if s.Provenance != nil {
			out.Printf("%-24s %6d docs  %s/%s", s.Collection, s.DocumentCount, s.Provenance.Provider, s.Provenance.Model)
		} else {
			out.Printf("%-24s %6d docs", s.Collection, s.DocumentCount)
		}
	}
	return nil
}
