package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/output"
)

func newSyncHFCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-hf",
		Short: "Publish collections to or fetch them from Hugging Face Hub",
	}
	cmd.AddCommand(newSyncUploadCmd())
	cmd.AddCommand(newSyncDownloadCmd())
	return cmd
}

func newSyncUploadCmd() *cobra.Command {
	var collection string
	var repo string
	var private bool

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Bundle a collection and upload it to a Hub dataset repo",
		Long: `Package a collection's indexes and documents into a tar.gz bundle
and upload it, with a checksummed manifest, to a Hugging Face Hub
dataset repo. Requires a token via HF_TOKEN or sync.token.

Without --repo the target is <username>/corpora-<collection>,
created on first upload.

Examples:
  corpora sync-hf upload --collection handbook
  corpora sync-hf upload --collection handbook --repo acme/corpora-handbook --private=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncUpload(cmd.Context(), cmd, collection, repo, private)
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to publish (required)")
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Target dataset repo, e.g. user/corpora-handbook")
	cmd.Flags().BoolVar(&private, "private", true, "Create the repo as private")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runSyncUpload(ctx context.Context, cmd *cobra.Command, collection, repo string, private bool) error {
	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manifest, err := store.Publish(ctx, collection, repo, private)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("published %q", collection)
	out.Field("documents", manifest.DocumentCount)
	out.Field("provider", manifest.Provider)
	out.Field("checksum", manifest.Checksum)
	return nil
}

func newSyncDownloadCmd() *cobra.Command {
	var repo string
	var collection string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a published collection and install it locally",
		Long: `Download a collection bundle from a Hub dataset repo, verify its
checksum against the manifest, and install it under the cache
root. An existing local collection with the same name is never
overwritten unless --overwrite is set.

Example:
  corpora sync-hf download --repo acme/corpora-handbook --collection handbook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncDownload(cmd.Context(), cmd, repo, collection, overwrite)
		},
	}

	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Source dataset repo (required)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name inside the repo (required)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing local collection")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runSyncDownload(ctx context.Context, cmd *cobra.Command, repo, collection string, overwrite bool) error {
	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manifest, err := store.Fetch(ctx, repo, collection, overwrite)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("installed %q from %s", collection, repo)
	out.Field("documents", manifest.DocumentCount)
	out.Field("provider", manifest.Provider)
	out.Dimf("search it with: corpora search -c %s -q \"...\"", collection)
	return nil
}
