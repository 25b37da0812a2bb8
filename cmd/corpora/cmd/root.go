// Package cmd provides the CLI commands for corpora.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/config"
	"github.com/corpora-dev/corpora/internal/logging"
	"github.com/corpora-dev/corpora/internal/profiling"
	"github.com/corpora-dev/corpora/pkg/datastore"
	"github.com/corpora-dev/corpora/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the corpora CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpora",
		Short: "Build, search, and share embedding corpora",
		Long: `corpora turns folders and JSON document sets into named,
searchable collections: a BM25 keyword index plus an HNSW vector
index over the same documents, queried separately or fused.

Collections live under ~/.corpora and can be published to and
fetched from Hugging Face Hub dataset repos.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("corpora version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.corpora/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentPreRunE = startDiagnostics
	cmd.PersistentPostRunE = stopDiagnostics

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newQuickbuildCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSyncHFCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startDiagnostics routes slog to the rotating log file so stdout
// stays clean for command output, and starts profiling when the
// corresponding flags are set.
func startDiagnostics(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cfg.WriteToStderr = debugMode

	// Logging is best-effort; commands still work without a log file.
	if logger, cleanup, err := logging.Setup(cfg); err == nil {
		loggingCleanup = cleanup
		slog.SetDefault(logger)
	}

	var err error
	if profileCPU != "" {
		if cpuCleanup, err = profiler.StartCPU(profileCPU); err != nil {
			return err
		}
	}
	if profileTrace != "" {
		if traceCleanup, err = profiler.StartTrace(profileTrace); err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return err
		}
	}
	return nil
}

func stopDiagnostics(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return err
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// openStore loads config, applies per-command overrides, and opens
// the datastore handle.
func openStore(ctx context.Context, mutate func(*config.Config)) (*datastore.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	return datastore.Open(ctx, cfg)
}
