package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/config"
	"github.com/corpora-dev/corpora/internal/output"
)

// quickbuildOptions holds CLI flags for quickbuild.
type quickbuildOptions struct {
	name     string
	folder   string
	provider string
	model    string
}

func newQuickbuildCmd() *cobra.Command {
	var opts quickbuildOptions

	cmd := &cobra.Command{
		Use:   "quickbuild",
		Short: "Build a collection from a folder, one document per file",
		Long: `Build a collection directly from a folder of text files. Each
readable UTF-8 file becomes one document keyed by its relative
path; hidden files, binaries, and files over 10 MB are skipped.

Example:
  corpora quickbuild --name handbook --from-folder ./docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuickbuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Collection name (required)")
	cmd.Flags().StringVar(&opts.folder, "from-folder", "", "Folder to ingest (required)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Embedding provider: gemini, ollama, static (default: auto-detect)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model name (default: provider default)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("from-folder")

	return cmd
}

func runQuickbuild(ctx context.Context, cmd *cobra.Command, opts quickbuildOptions) error {
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

	summary, err := store.BuildFolder(ctx, opts.name, opts.folder)
	if err != nil {
		return err
	}

	printBuildSummary(output.New(cmd.OutOrStdout()), summary)
	return nil
}
