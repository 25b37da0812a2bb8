package cmd

import (
	"bufio"
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/output"
)

func newDeleteCmd() *cobra.Command {
	var collection string
	var force bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a collection's local indexes and catalog rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, collection, force)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name (required)")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, name string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if !force {
		out.Printf("delete collection %q and all its local artifacts? [y/N] ", name)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, _ := reader.ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			out.Dimf("aborted")
			return nil
		}
	}

	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(ctx, name); err != nil {
		return err
	}
	out.Successf("deleted %q", name)
	return nil
}
