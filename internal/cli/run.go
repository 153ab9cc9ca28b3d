package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
)

// maxEventLine bounds one NDJSON event line.
const maxEventLine = 1 << 20

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Env      EnvOptions
	Database string
	Events   string // NDJSON file; empty or "-" reads stdin
	Metrics  bool

	// IDGenerator overrides event id generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator

	// Now overrides the wall clock (for testing).
	Now func() time.Time
}

// RunSummary reports what a run did.
type RunSummary struct {
	Recovered  int                `json:"recovered"`
	Submitted  int                `json:"submitted"`
	Duplicates int                `json:"duplicates"`
	Rejected   int                `json:"rejected"`
	Pending    int                `json:"pending_records"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply a stream of change events to the record store",
		Long: `Start the engine over a SQLite record store and feed it change events.

Events are read as newline-delimited JSON, one ChangeEvent per line, from
--events or stdin. Each event is journaled before it is queued, so events
left unprocessed by an interrupted run are recovered on the next start.
Events already in the journal are dropped as duplicates.

Example:
  catsync run --db ./catsync.db --catalog catalog.yaml < events.ndjson
  catsync run --db ./catsync.db --catalog catalog.yaml --config engine.cue --events events.ndjson --metrics

Event line:
  {"kind":"saved","entity_id":11,"changed_attributes":["price"]}`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}
	opts.Env.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Events, "events", "", "NDJSON event file (default: stdin)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "include engine counters in the summary")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	env, err := LoadEnv(opts.Env)
	if err != nil {
		return loadFailure(formatter, err)
	}

	input, closeInput, err := openEvents(cmd, opts.Events)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}
	defer closeInput()

	slog.Info("opening database", "path", opts.Database)
	st, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	engOpts := []engine.Option{
		engine.WithJournal(st),
		engine.WithMetrics(engine.NewMetrics(reg)),
	}
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Now != nil {
		engOpts = append(engOpts, engine.WithNow(opts.Now))
	}
	eng, err := env.newEngine(st, logger, engOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	// Setup signal handling for graceful shutdown
	parentCtx := commandContext(cmd)
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	summary := RunSummary{}
	summary.Recovered, err = eng.Recover(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})

	feedErr := feedEvents(gctx, eng, input, &summary)
	eng.Stop()
	runErr := g.Wait()

	if feedErr != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, feedErr.Error(), nil)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}
	slog.Info("engine stopped gracefully")

	pending, err := st.Filter(parentCtx, queryir.Pending(env.Engine.EntityType, ""))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	summary.Pending = len(pending)

	if opts.Metrics {
		summary.Metrics, err = gatherCounters(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	return formatter.Render(summary, func(w io.Writer) {
		printRunSummary(w, summary)
	})
}

// openEvents opens the event source. The returned func closes it.
func openEvents(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("events file not found: %s", path)
	}
	return f, func() { f.Close() }, nil
}

// feedEvents submits one event per non-blank line of r. Malformed lines
// and invalid events are counted as rejected; only journal failures stop
// the feed.
func feedEvents(ctx context.Context, eng *engine.Engine, r io.Reader, summary *RunSummary) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		ev, err := decodeEvent([]byte(text))
		if err != nil {
			summary.Rejected++
			slog.Warn("malformed event line skipped", "line", line, "error", err)
			continue
		}

		inserted, err := eng.Submit(ctx, ev)
		switch {
		case engine.IsInvalidArgument(err):
			summary.Rejected++
			slog.Warn("invalid event rejected", "line", line, "error", err)
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("line %d: %w", line, err)
		case !inserted:
			summary.Duplicates++
		default:
			summary.Submitted++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

// decodeEvent parses one event line. Unknown fields are rejected.
func decodeEvent(line []byte) (ir.ChangeEvent, error) {
	var ev ir.ChangeEvent
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return ir.ChangeEvent{}, fmt.Errorf("failed to parse event: %w", err)
	}
	return ev, nil
}

// gatherCounters flattens every counter in g to "name{label=value}".
func gatherCounters(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, lp := range labels {
					parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
				}
				name += "{" + strings.Join(parts, ",") + "}"
			}
			out[name] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}

func printRunSummary(w io.Writer, s RunSummary) {
	if s.Recovered > 0 {
		fmt.Fprintf(w, "Recovered %d unprocessed event(s) from the journal.\n", s.Recovered)
	}
	fmt.Fprintf(w, "Submitted %d event(s) (%d duplicate, %d rejected).\n", s.Submitted, s.Duplicates, s.Rejected)
	fmt.Fprintf(w, "%d record(s) pending dispatch.\n", s.Pending)

	if len(s.Metrics) > 0 {
		names := make([]string, 0, len(s.Metrics))
		for name := range s.Metrics {
			names = append(names, name)
		}
		slices.Sort(names)
		fmt.Fprintln(w, "\nMetrics:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s %g\n", name, s.Metrics[name])
		}
	}
}
