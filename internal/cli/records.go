package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
	"github.com/roach88/catsync/internal/store"
)

// RecordsOptions holds flags for the records command.
type RecordsOptions struct {
	*RootOptions
	Database   string
	EntityType string
	APIKey     string
	Targets    []int64
	Parent     int64
	Pending    bool
	Next       string
	Indexable  string // "", "true" or "false"
	Locked     string // "", "true" or "false"
	Limit      int
}

// RecordView is the printable form of an indexing record.
type RecordView struct {
	Key          string     `json:"key"`
	APIKey       string     `json:"api_key"`
	TargetID     int64      `json:"target_id"`
	ParentID     int64      `json:"target_parent_id"`
	Subtype      string     `json:"target_entity_subtype"`
	IsIndexable  bool       `json:"is_indexable"`
	NextAction   ir.Action  `json:"next_action"`
	LastAction   ir.Action  `json:"last_action"`
	LastActionAt *time.Time `json:"last_action_timestamp,omitempty"`
	LockedAt     *time.Time `json:"lock_timestamp,omitempty"`
}

// NewRecordsCommand creates the records command and its dispatcher
// subcommands.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Query indexing records",
		Long: `List indexing records, in key order, narrowed by the given filters.

Examples:
  catsync records --db ./catsync.db --pending
  catsync records --db ./catsync.db --api-key default --parent 10
  catsync records --db ./catsync.db --next delete --locked false --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecords(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	cmd.PersistentFlags().StringVar(&opts.EntityType, "entity-type", engine.DefaultEntityType, "record entity type")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "only records of this api key")
	cmd.Flags().Int64SliceVar(&opts.Targets, "target", nil, "only records of these target ids")
	cmd.Flags().Int64Var(&opts.Parent, "parent", 0, "only records under this parent id (0 = standalone records)")
	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "only records with a queued action")
	cmd.Flags().StringVar(&opts.Next, "next", "", "only records with this next action")
	cmd.Flags().StringVar(&opts.Indexable, "indexable", "", "filter on indexability (true|false)")
	cmd.Flags().StringVar(&opts.Locked, "locked", "", "filter on lock state (true|false)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to list (0 = all)")

	cmd.AddCommand(newRecordMutationCommand(opts, "lock"))
	cmd.AddCommand(newRecordMutationCommand(opts, "unlock"))
	cmd.AddCommand(newRecordMutationCommand(opts, "dispatch"))

	return cmd
}

func runRecords(opts *RecordsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	filter, err := opts.filter(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}

	st, err := openExistingStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Filter(commandContext(cmd), filter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView(rec))
	}
	return formatter.Render(views, func(w io.Writer) {
		printRecords(w, views)
	})
}

// filter builds the query from the flags that were set.
func (o *RecordsOptions) filter(cmd *cobra.Command) (queryir.Filter, error) {
	f := queryir.Filter{EntityType: o.EntityType, APIKey: o.APIKey, Limit: o.Limit}

	var preds []queryir.Predicate
	if len(o.Targets) > 0 {
		values := make([]any, len(o.Targets))
		for i, id := range o.Targets {
			values[i] = id
		}
		preds = append(preds, queryir.In{Field: queryir.FieldTargetID, Values: values})
	}
	if cmd.Flags().Changed("parent") {
		preds = append(preds, queryir.Equals{Field: queryir.FieldTargetParentID, Value: o.Parent})
	}
	if o.Pending {
		preds = append(preds, queryir.Pending(o.EntityType, o.APIKey).Where)
	}
	if o.Next != "" {
		a, err := ir.ParseAction(o.Next)
		if err != nil {
			return f, err
		}
		preds = append(preds, queryir.Equals{Field: queryir.FieldNextAction, Value: a})
	}
	if o.Indexable != "" {
		v, err := strconv.ParseBool(o.Indexable)
		if err != nil {
			return f, fmt.Errorf("invalid --indexable %q: must be true or false", o.Indexable)
		}
		preds = append(preds, queryir.Equals{Field: queryir.FieldIsIndexable, Value: v})
	}
	if o.Locked != "" {
		v, err := strconv.ParseBool(o.Locked)
		if err != nil {
			return f, fmt.Errorf("invalid --locked %q: must be true or false", o.Locked)
		}
		preds = append(preds, queryir.Locked{Value: v})
	}

	switch len(preds) {
	case 0:
	case 1:
		f.Where = preds[0]
	default:
		f.Where = queryir.And{Predicates: preds}
	}

	if errs := queryir.Validate(f); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return f, errors.New(strings.Join(msgs, "; "))
	}
	return f, nil
}

func recordView(rec ir.IndexingRecord) RecordView {
	return RecordView{
		Key:          rec.Key.String(),
		APIKey:       rec.Key.APIKey,
		TargetID:     rec.Key.TargetID,
		ParentID:     rec.Key.TargetParentID,
		Subtype:      rec.Subtype,
		IsIndexable:  rec.IsIndexable,
		NextAction:   rec.NextAction,
		LastAction:   rec.LastAction,
		LastActionAt: rec.LastActionAt,
		LockedAt:     rec.LockedAt,
	}
}

func printRecords(w io.Writer, views []RecordView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}
	fmt.Fprintf(w, "%-32s %-22s %-9s %-10s %-10s %s\n", "KEY", "SUBTYPE", "INDEXABLE", "NEXT", "LAST", "LOCKED")
	for _, v := range views {
		fmt.Fprintf(w, "%-32s %-22s %-9t %-10s %-10s %t\n",
			v.Key, v.Subtype, v.IsIndexable, v.NextAction, v.LastAction, v.LockedAt != nil)
	}
	fmt.Fprintf(w, "\n%d record(s)\n", len(views))
}

// recordMutation names a dispatcher-side store operation.
type recordMutation struct {
	APIKey string
	Parent int64
	Now    func() time.Time
}

// newRecordMutationCommand builds the lock, unlock and dispatch
// subcommands. They stand in for the dispatcher, which owns
// lock_timestamp and last_action.
func newRecordMutationCommand(opts *RecordsOptions, op string) *cobra.Command {
	m := &recordMutation{Now: time.Now}

	short := map[string]string{
		"lock":     "Mark a record as owned by a dispatcher",
		"unlock":   "Release a dispatcher lock",
		"dispatch": "Record that a record's queued action was pushed to the index",
	}[op]

	cmd := &cobra.Command{
		Use:           op + " <target-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordMutation(opts, m, op, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&m.APIKey, "api-key", "default", "api key of the record")
	cmd.Flags().Int64Var(&m.Parent, "parent", ir.NoParent, "parent id of the record (0 = standalone)")

	return cmd
}

func runRecordMutation(opts *RecordsOptions, m *recordMutation, op, target string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	targetID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid target id %q", target), nil)
	}
	key := ir.RecordKey{EntityType: opts.EntityType, APIKey: m.APIKey, TargetID: targetID, TargetParentID: m.Parent}

	st, err := openExistingStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	now := m.Now().UTC()
	switch op {
	case "lock":
		err = st.SetLock(ctx, key, &now)
	case "unlock":
		err = st.SetLock(ctx, key, nil)
	case "dispatch":
		err = st.MarkDispatched(ctx, key, now)
	}
	if errors.Is(err, store.ErrRecordNotFound) {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("%s: no matching record for %s", op, key), nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	recs, err := st.Get(ctx, key.EntityType, key.APIKey, []int64{key.TargetID}, key.TargetParentID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	views := make([]RecordView, 0, len(recs))
	for _, rec := range recs {
		if rec.Key == key {
			views = append(views, recordView(rec))
		}
	}
	return formatter.Render(views, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", op, key)
		printRecords(w, views)
	})
}
