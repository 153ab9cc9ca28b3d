package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
)

// PropagateOptions holds flags for the propagate command.
type PropagateOptions struct {
	*RootOptions
	Env      EnvOptions
	Database string
	Attrs    []string
	Stores   []int64
	Parent   int64
}

// UpdateView is the printable form of one record update.
type UpdateView struct {
	Key       string    `json:"key"`
	From      ir.Action `json:"from"`
	To        ir.Action `json:"to"`
	Indexable bool      `json:"indexable"`
	Created   bool      `json:"created,omitempty"`
	Discarded bool      `json:"discarded,omitempty"`
}

// PropagateResult is the outcome of a dry-run propagation.
type PropagateResult struct {
	EventID   string       `json:"event_id"`
	Kind      ir.EventKind `json:"kind"`
	EntityID  int64        `json:"entity_id"`
	Aspects   []ir.Aspect  `json:"aspects"`
	Updates   []UpdateView `json:"updates"`
	Deferred  []UpdateView `json:"deferred,omitempty"`
	Conflicts []string     `json:"conflicts,omitempty"`
	Missing   []int64      `json:"missing,omitempty"`
	Skipped   []string     `json:"skipped,omitempty"`
}

// NewPropagateCommand creates the propagate command.
func NewPropagateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PropagateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "propagate <kind> <entity-id>",
		Short: "Show the record updates one change event would cause",
		Long: `Propagate a single change event without persisting anything.

Records are read from --db when given; otherwise propagation starts from
an empty record store, so every affected record shows up as created.

Event kinds: saved, deleted, attribute_set_changed, stock_changed.

Exit codes:
  0 - Propagated
  1 - Some records have conflicting stock status
  2 - Command error (invalid event, missing files)

Examples:
  catsync propagate saved 11 --catalog catalog.yaml --attrs price
  catsync propagate deleted 10 --catalog catalog.yaml --db catsync.db
  catsync propagate stock_changed 11 --catalog catalog.yaml --stores 2`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropagate(opts, args[0], args[1], cmd)
		},
	}
	opts.Env.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database holding current records (default: empty store)")
	cmd.Flags().StringSliceVar(&opts.Attrs, "attrs", nil, "changed attribute codes")
	cmd.Flags().Int64SliceVar(&opts.Stores, "stores", nil, "store ids to evaluate (default: every store)")
	cmd.Flags().Int64Var(&opts.Parent, "parent", 0, "known parent entity id")

	return cmd
}

func runPropagate(opts *PropagateOptions, kind, entity string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	entityID, err := strconv.ParseInt(entity, 10, 64)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid entity id %q", entity), nil)
	}
	ev := ir.ChangeEvent{
		Kind:              ir.EventKind(kind),
		EntityID:          entityID,
		ParentID:          opts.Parent,
		ChangedAttributes: opts.Attrs,
		StoreIDs:          opts.Stores,
	}

	env, err := LoadEnv(opts.Env)
	if err != nil {
		return loadFailure(formatter, err)
	}
	records, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer records.Close()

	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)
	collab, err := env.Config.Collaborators(env.Catalog, records, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	prop, err := engine.NewPropagator(env.Engine, collab, engine.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	batch, err := prop.Propagate(commandContext(cmd), ev)
	if batch == nil {
		return propagateFailure(formatter, err)
	}

	result := newPropagateResult(batch, err)
	if rerr := formatter.Render(result, func(w io.Writer) {
		printPropagate(w, result)
	}); rerr != nil {
		return rerr
	}
	if len(result.Conflicts) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) with conflicting stock status", len(result.Conflicts)))
	}
	return nil
}

// propagateFailure maps an engine error without a batch to an exit error.
func propagateFailure(f *OutputFormatter, err error) error {
	var ee *engine.Error
	if errors.As(err, &ee) {
		code := ErrCodeGeneric
		if ee.Code == engine.ErrCodeInvalidArgument {
			code = ErrCodeInvalidInput
		}
		return f.Fail(ExitCommandError, code, ee.Message, ee.Details)
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
}

func newPropagateResult(b *engine.Batch, err error) PropagateResult {
	r := PropagateResult{
		EventID:  b.EventID,
		Kind:     b.Kind,
		EntityID: b.EntityID,
		Aspects:  b.Aspects.Slice(),
		Updates:  updateViews(b.Updates),
		Deferred: updateViews(b.Deferred),
		Missing:  b.Missing,
	}
	var ce *engine.ConflictsError
	if errors.As(err, &ce) {
		for _, k := range ce.Keys() {
			r.Conflicts = append(r.Conflicts, k.String())
		}
	}
	for _, k := range b.Skipped {
		r.Skipped = append(r.Skipped, k.String())
	}
	if len(r.Deferred) == 0 {
		r.Deferred = nil
	}
	return r
}

func updateViews(updates []ir.IndexingRecordUpdate) []UpdateView {
	out := make([]UpdateView, 0, len(updates))
	for _, u := range updates {
		from := ir.ActionNone
		if u.Before != nil {
			from = u.Before.NextAction
		}
		out = append(out, UpdateView{
			Key:       u.After.Key.String(),
			From:      from,
			To:        u.After.NextAction,
			Indexable: u.After.IsIndexable,
			Created:   u.Created,
			Discarded: u.Discarded,
		})
	}
	return out
}

func printPropagate(w io.Writer, r PropagateResult) {
	fmt.Fprintf(w, "Event %s: %s %d, aspects %s\n", r.EventID, r.Kind, r.EntityID, joinAspects(r.Aspects))
	if len(r.Updates) == 0 {
		fmt.Fprintln(w, "No record changes.")
	}
	for _, u := range r.Updates {
		fmt.Fprintf(w, "  %s %s\n", u.Key, describeUpdate(u))
	}
	for _, u := range r.Deferred {
		fmt.Fprintf(w, "  %s %s (deferred, record locked)\n", u.Key, describeUpdate(u))
	}
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

func describeUpdate(u UpdateView) string {
	s := fmt.Sprintf("%s -> %s", u.From, u.To)
	if !u.Indexable {
		s += ", not indexable"
	}
	switch {
	case u.Created:
		s += " (new)"
	case u.Discarded:
		s += " (discarded)"
	}
	return s
}
