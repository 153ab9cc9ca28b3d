package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
	"github.com/roach88/catsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Env      EnvOptions
	Database string
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Events        int    `json:"events"`
	Applied       int    `json:"applied"`
	Conflicts     int    `json:"conflicts"`
	Invalid       int    `json:"invalid"`
	Records       int    `json:"records"`
	Pending       int    `json:"pending_records"`
	Digest        string `json:"digest"`
	Deterministic bool   `json:"deterministic"`
}

// replayRun is the outcome of one pass over the journal.
type replayRun struct {
	batches   [][]UpdateView
	records   []ir.IndexingRecord
	digest    string
	applied   int
	conflicts int
	invalid   int
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event journal and verify determinism",
		Long: `Replay every journaled event, in journal order, against the given catalog.

The journal is applied twice, each time to a fresh in-memory record store.
Both passes must produce the same record updates per event and the same
final records. The database itself is only read.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  catsync replay --db ./catsync.db --catalog catalog.yaml
  catsync replay --db ./catsync.db --catalog catalog.yaml --config engine.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}
	opts.Env.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	env, err := LoadEnv(opts.Env)
	if err != nil {
		return loadFailure(formatter, err)
	}

	st, err := openExistingStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	entries, err := st.Journal(ctx)
	st.Close()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	logger := newLogger(io.Discard, false)
	if opts.Verbose {
		logger = newLogger(formatter.GetErrWriter(), true)
	}

	first, err := replayJournal(ctx, env, entries, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "first replay failed", err)
	}
	second, err := replayJournal(ctx, env, entries, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "second replay failed", err)
	}

	result := ReplayResult{
		Events:    len(entries),
		Applied:   first.applied,
		Conflicts: first.conflicts,
		Invalid:   first.invalid,
		Records:   len(first.records),
		Digest:    first.digest,
		Deterministic: first.digest == second.digest &&
			reflect.DeepEqual(first.batches, second.batches),
	}
	for _, rec := range first.records {
		if rec.NextAction != ir.ActionNone {
			result.Pending++
		}
	}

	if formatter.JSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// replayJournal applies entries to a fresh in-memory store. Each event
// runs at its journal receive time, so both passes stamp records alike.
func replayJournal(ctx context.Context, env *Env, entries []store.JournalEntry, logger *slog.Logger) (*replayRun, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	var current time.Time
	eng, err := env.newEngine(st, logger,
		engine.WithClock(engine.NewClock()),
		engine.WithNow(func() time.Time { return current }),
	)
	if err != nil {
		return nil, err
	}

	run := &replayRun{batches: make([][]UpdateView, 0, len(entries))}
	for _, e := range entries {
		current = e.ReceivedAt
		b, err := eng.Apply(ctx, e.Event)
		switch {
		case engine.IsInvalidArgument(err):
			run.invalid++
			run.batches = append(run.batches, nil)
			continue
		case engine.IsConflictError(err) && b != nil:
			run.conflicts += len(conflictsIn(err))
		case err != nil:
			return nil, fmt.Errorf("event %s: %w", e.Event.ID, err)
		}
		run.applied++
		run.batches = append(run.batches, updateViews(b.Updates))
	}

	run.records, err = st.Filter(ctx, queryir.Filter{EntityType: env.Engine.EntityType})
	if err != nil {
		return nil, err
	}
	run.digest, err = ir.RecordStateDigest(run.records)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func conflictsIn(err error) []ir.RecordKey {
	var ce *engine.ConflictsError
	if errors.As(err, &ce) {
		return ce.Keys()
	}
	return nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(f *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeMismatch,
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(f *OutputFormatter, result ReplayResult) error {
	w := f.Writer

	fmt.Fprintf(w, "Replay Summary: %d event(s)\n", result.Events)
	fmt.Fprintf(w, "  Applied: %d, conflicts: %d, invalid: %d\n", result.Applied, result.Conflicts, result.Invalid)
	fmt.Fprintf(w, "  Records: %d (%d pending)\n", result.Records, result.Pending)
	if f.Verbose {
		fmt.Fprintf(w, "  Digest: %s\n", result.Digest)
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}

