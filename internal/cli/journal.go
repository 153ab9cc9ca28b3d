package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/store"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database    string
	Unprocessed bool
	Entity      int64
}

// JournalStats summarises the listed entries.
type JournalStats struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Unprocessed int `json:"unprocessed"`
}

// JournalResult holds the journal listing.
type JournalResult struct {
	Entries []store.JournalEntry `json:"entries"`
	Stats   JournalStats         `json:"stats"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled change events",
		Long: `List the change events accepted by run, in journal order.

Events not yet marked processed are re-queued by the next run.

Examples:
  catsync journal --db ./catsync.db
  catsync journal --db ./catsync.db --unprocessed
  catsync journal --db ./catsync.db --entity 11 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Unprocessed, "unprocessed", false, "only events not yet processed")
	cmd.Flags().Int64Var(&opts.Entity, "entity", 0, "only events for this entity id")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExistingStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.Journal(commandContext(cmd))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	result := JournalResult{Entries: []store.JournalEntry{}}
	for _, e := range entries {
		if opts.Unprocessed && e.ProcessedAt != nil {
			continue
		}
		if opts.Entity != 0 && e.Event.EntityID != opts.Entity {
			continue
		}
		result.Entries = append(result.Entries, e)
		result.Stats.Total++
		if e.ProcessedAt != nil {
			result.Stats.Processed++
		} else {
			result.Stats.Unprocessed++
		}
	}

	return formatter.Render(result, func(w io.Writer) {
		printJournal(w, result, opts.Verbose)
	})
}

func printJournal(w io.Writer, r JournalResult, verbose bool) {
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}
	for _, e := range r.Entries {
		state := "pending"
		if e.ProcessedAt != nil {
			state = "processed"
		}
		line := fmt.Sprintf("[%d] %s %s %d", e.Seq, state, e.Event.Kind, e.Event.EntityID)
		if len(e.Event.ChangedAttributes) > 0 {
			line += " [" + strings.Join(e.Event.ChangedAttributes, ",") + "]"
		}
		if e.Event.ParentID != 0 {
			line += fmt.Sprintf(" parent=%d", e.Event.ParentID)
		}
		fmt.Fprintln(w, line)
		if verbose {
			fmt.Fprintf(w, "    id=%s received=%s\n", e.Event.ID, e.ReceivedAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(w, "\n%d event(s): %d processed, %d pending\n", r.Stats.Total, r.Stats.Processed, r.Stats.Unprocessed)
}
