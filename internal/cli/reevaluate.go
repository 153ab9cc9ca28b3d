package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/engine"
)

// ReevaluateOptions holds flags for the reevaluate command.
type ReevaluateOptions struct {
	*RootOptions
	Env      EnvOptions
	Database string
}

// NewReevaluateCommand creates the reevaluate command.
func NewReevaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReevaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reevaluate [api-key...]",
		Short: "Re-check stored records against the current catalog",
		Long: `Recompute indexability for every record of the given API keys (all
configured keys when none are given) and queue the actions that follow.

Use after catalog changes that produced no change events, such as a stock
import or a store reassignment. Records whose entity no longer exists are
reported and left alone; locked records are deferred.

Exit codes:
  0 - Re-evaluated
  1 - Some records have conflicting stock status
  2 - Command error (unknown api key, missing database)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReevaluate(opts, args, cmd)
		},
	}
	opts.Env.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReevaluate(opts *ReevaluateOptions, keys []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := LoadEnv(opts.Env)
	if err != nil {
		return loadFailure(formatter, err)
	}
	if len(keys) == 0 {
		for _, k := range env.Engine.APIKeys {
			keys = append(keys, k.Key)
		}
	}
	for _, k := range keys {
		if _, ok := env.Engine.APIKey(k); !ok {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("unknown api key %q", k), nil)
		}
	}

	st, err := openExistingStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)
	eng, err := env.newEngine(st, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	ctx := commandContext(cmd)
	results := make([]*engine.ReevaluateResult, 0, len(keys))
	conflicts := 0
	for _, k := range keys {
		formatter.VerboseLog("Re-evaluating api key %s", k)
		res, err := eng.Reevaluate(ctx, k)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
		}
		conflicts += len(res.Conflicts)
		results = append(results, res)
	}

	if err := formatter.Render(results, func(w io.Writer) {
		printReevaluate(w, results)
	}); err != nil {
		return err
	}
	if conflicts > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) with conflicting stock status", conflicts))
	}
	return nil
}

func printReevaluate(w io.Writer, results []*engine.ReevaluateResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%s: scanned %d, updated %d, persisted %d, deferred %d\n",
			r.APIKey, r.Scanned, r.Updates, r.Persisted, r.Deferred)
		for _, k := range r.Conflicts {
			fmt.Fprintf(w, "  %s conflicting stock status, left unchanged\n", k)
		}
		for _, id := range r.Missing {
			fmt.Fprintf(w, "  entity %d not found in catalog\n", id)
		}
		for _, k := range r.Skipped {
			fmt.Fprintf(w, "  %s skipped after collaborator errors, left unchanged\n", k)
		}
	}
}
