package harness

import "github.com/roach88/catsync/internal/ir"

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step      int           `json:"step"`
	Type      string        `json:"type"`
	Detail    string        `json:"detail"`
	Seq       int64         `json:"seq,omitempty"` // batch seq of event steps
	Updates   []TraceUpdate `json:"updates,omitempty"`
	Deferred  []string      `json:"deferred,omitempty"`
	Conflicts []string      `json:"conflicts,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// TraceUpdate is one persisted record change.
type TraceUpdate struct {
	Key       string    `json:"key"`
	From      ir.Action `json:"from"`
	To        ir.Action `json:"to"`
	Indexable bool      `json:"indexable"`
	Created   bool      `json:"created,omitempty"`
	Discarded bool      `json:"discarded,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected,
	// no invariant was violated and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Records is the final content of the record store, in key order.
	Records []ir.IndexingRecord `json:"records"`

	// Violations lists invariant violations observed after any step.
	Violations []Violation `json:"violations,omitempty"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Records: []ir.IndexingRecord{},
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddViolation records an invariant violation and marks the result as failed.
func (r *Result) AddViolation(v Violation) {
	r.Violations = append(r.Violations, v)
	r.AddError(v.Error())
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Record returns the final record at key.
func (r *Result) Record(key ir.RecordKey) (ir.IndexingRecord, bool) {
	for _, rec := range r.Records {
		if rec.Key == key {
			return rec, true
		}
	}
	return ir.IndexingRecord{}, false
}

// traceUpdates converts record updates to trace form.
func traceUpdates(updates []ir.IndexingRecordUpdate) []TraceUpdate {
	out := make([]TraceUpdate, 0, len(updates))
	for _, u := range updates {
		from := ir.ActionNone
		if u.Before != nil {
			from = u.Before.NextAction
		}
		out = append(out, TraceUpdate{
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

func updateKeys(updates []ir.IndexingRecordUpdate) []string {
	out := make([]string, 0, len(updates))
	for _, u := range updates {
		out = append(out, u.After.Key.String())
	}
	return out
}
