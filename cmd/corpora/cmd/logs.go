package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpora-dev/corpora/internal/logging"
	"github.com/corpora-dev/corpora/internal/output"
)

// logsOptions holds CLI flags for logs.
type logsOptions struct {
	follow bool
	lines  int
	level  string
	file   string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View corpora log entries",
		Long: `Show the tail of the corpora log file (~/.corpora/logs/corpora.log).
Entries are structured JSON; this renders them one per line.

Examples:
  corpora logs                 # last 50 entries
  corpora logs -n 200          # last 200 entries
  corpora logs --level warn    # warnings and errors only
  corpora logs -f              # follow new entries (Ctrl-C to stop)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file path (default: ~/.corpora/logs/corpora.log)")

	return cmd
}

// logEntry is the subset of a slog JSON record the viewer renders.
type logEntry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

func runLogs(ctx context.Context, cmd *cobra.Command, opts logsOptions) error {
	path := opts.file
	if path == "" {
		path = logging.DefaultLogPath()
	}
	minLevel := strings.ToUpper(strings.TrimSpace(opts.level))
	if minLevel != "" {
		if _, ok := levelRank[minLevel]; !ok {
			return fmt.Errorf("unknown level %q (use debug, info, warn, or error)", opts.level)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no log file at %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	out := output.New(cmd.OutOrStdout())

	entries, offset, err := tailEntries(f, opts.lines, minLevel)
	if err != nil {
		return err
	}
	for _, e := range entries {
		printEntry(out, e)
	}
	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return followEntries(ctx, out, f, offset, minLevel)
}

// tailEntries returns the last n matching entries and the offset where
// following should resume.
func tailEntries(f *os.File, n int, minLevel string) ([]logEntry, int64, error) {
	var entries []logEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if e, ok := parseEntry(scanner.Bytes(), minLevel); ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, offset, nil
}

// followEntries polls the file for appended lines. Truncation (log
// rotation) resets the offset to the new start.
func followEntries(ctx context.Context, out *output.Writer, f *os.File, offset int64, minLevel string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.Size() < offset {
				offset = 0
			}
			if info.Size() == offset {
				continue
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return err
			}
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				if e, ok := parseEntry(scanner.Bytes(), minLevel); ok {
					printEntry(out, e)
				}
			}
			if offset, err = f.Seek(0, io.SeekCurrent); err != nil {
				return err
			}
		}
	}
}

func parseEntry(line []byte, minLevel string) (logEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return logEntry{}, false
	}

	e := logEntry{Attrs: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				e.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "level":
			e.Level, _ = v.(string)
		case "msg":
			e.Msg, _ = v.(string)
		default:
			e.Attrs[k] = v
		}
	}
	if minLevel != "" && levelRank[e.Level] < levelRank[minLevel] {
		return logEntry{}, false
	}
	return e, true
}

func printEntry(out *output.Writer, e logEntry) {
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var attrs strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&attrs, " %s=%v", k, e.Attrs[k])
	}

	line := fmt.Sprintf("%s %-5s %s%s", e.Time.Format("15:04:05"), e.Level, e.Msg, attrs.String())
	if e.Level == "DEBUG" {
		out.Dimf("%s", line)
		return
	}
	out.Printf("%s", line)
}
