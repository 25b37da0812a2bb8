package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/output"
	"github.com/corpora-dev/corpora/internal/watcher"
	"github.com/corpora-dev/corpora/pkg/datastore"
)

func newWatchCmd() *cobra.Command {
	var name string
	var folder string
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a folder and rebuild its collection on changes",
		Long: `Build a collection from a folder, then keep watching it. File
changes are debounced and coalesced, and each settled batch
triggers an incremental rebuild: unchanged documents are skipped,
changed ones re-embedded, deleted files removed on the next full
pass. Stop with Ctrl-C.

Example:
  corpora watch --name handbook --from-folder ./docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, name, folder, debounce)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Collection name (required)")
	cmd.Flags().StringVar(&folder, "from-folder", "", "Folder to watch (required)")
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounceWindow, "Quiet period before a rebuild")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("from-folder")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, name, folder string, debounce time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := output.New(cmd.OutOrStdout())

	summary, _, err := store.SyncFolder(ctx, name, folder)
	if err != nil {
		return err
	}
	printBuildSummary(out, summary)

	w := watcher.NewFolderWatcher(debounce)
	if err := w.Start(ctx, folder); err != nil {
		return err
	}
	defer w.Stop()

	out.Dimf("watching %s (Ctrl-C to stop)", folder)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			out.Warningf("watch error: %v", err)
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			slog.Info("watch_rebuild", slog.Int("events", len(events)), slog.String("collection", name))
			rebuild(ctx, out, store, name, folder, events)
		}
	}
}

// rebuild re-ingests the folder after a settled change batch. A failed
// rebuild keeps the watch alive; the previous indexes stay searchable.
func rebuild(ctx context.Context, out *output.Writer, store *datastore.Store, name, folder string, events []watcher.FileEvent) {
	for _, ev := range events {
		out.Dimf("%s %s", ev.Op, ev.Path)
	}

	summary, pruned, err := store.SyncFolder(ctx, name, folder)
	if err != nil {
		out.Warningf("rebuild failed: %v", err)
		slog.Warn("watch_rebuild_failed", slog.String("error", err.Error()))
		return
	}
	out.Successf("rebuilt %q: %d indexed, %d skipped, %d removed", name, summary.Indexed, summary.Skipped, pruned)
}
