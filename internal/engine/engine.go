package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/catsync/internal/ir"
)

// Journal persists submitted events. Implemented by *store.Store.
type Journal interface {
	// WriteEvent stores ev; inserted is false when an event with the same
	// id was already journaled.
	WriteEvent(ctx context.Context, ev ir.ChangeEvent, receivedAt time.Time) (seq int64, inserted bool, err error)

	// MarkEventProcessed stamps the event as handled.
	MarkEventProcessed(ctx context.Context, id string, at time.Time) error

	// UnprocessedEvents returns journaled events not yet handled, in
	// journal order.
	UnprocessedEvents(ctx context.Context) ([]ir.ChangeEvent, error)
}

// Engine applies change events to the record store.
//
// Apply runs propagation and persistence for one event with the locks of
// every affected record held, so concurrent events that share a record
// never interleave their read-modify-write of next_action. Events for
// disjoint records proceed in parallel.
//
// Submit and Run form the queued path: Submit journals and enqueues an
// event, and a single Run loop applies queued events in FIFO order.
//
// Thread-safety model:
//   - Apply(), Submit(), Reevaluate(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// The engine never touches lock_timestamp. Records locked by a dispatcher
// only accept escalation to delete; other changes are reported as
// deferred and picked up by a later event or Reevaluate.
type Engine struct {
	prop    *Propagator
	records RecordStore
	locks   *lockTable
	queue   *eventQueue
	opts    options
}

// New creates an Engine.
func New(cfg Config, collab Collaborators, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		prop:    &Propagator{cfg: cfg, collab: collab, opts: o},
		records: collab.Records,
		locks:   newLockTable(),
		queue:   newEventQueue(),
		opts:    o,
	}, nil
}

// Propagator returns the propagator the engine applies.
func (e *Engine) Propagator() *Propagator {
	return e.prop
}

// Apply propagates ev and persists the resulting updates.
//
// The returned batch lists every update, including those the store then
// refused because a dispatcher locked the record in between. Conflicts
// are returned as a *ConflictsError together with the batch; the other
// records are still persisted.
func (e *Engine) Apply(ctx context.Context, ev ir.ChangeEvent) (*Batch, error) {
	ev, err := e.prop.prepare(ev)
	if err != nil {
		return nil, err
	}
	pl, err := e.prop.plan(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("apply event %s: %w", ev.ID, err)
	}
	return e.commit(ctx, pl)
}

// commit evaluates and persists a plan with its keys locked.
func (e *Engine) commit(ctx context.Context, pl *plan) (*Batch, error) {
	unlock := e.locks.lock(pl.keys())
	defer unlock()

	b, err := e.prop.evaluate(ctx, pl)
	if b == nil {
		return nil, fmt.Errorf("apply event %s: %w", pl.event.ID, err)
	}

	if len(b.Updates) > 0 {
		n, werr := e.records.Upsert(ctx, b.Records())
		if werr != nil {
			return nil, fmt.Errorf("apply event %s: %w", pl.event.ID, werr)
		}
		b.Persisted = n
	}

	e.opts.metrics.observe(b, len(pl.conflicts))
	logBatch(e.opts.logger, b)
	return b, err
}

// Submit journals ev and queues it for the Run loop.
//
// An event without an id is given one: a fresh generated id when it also
// has no timestamp, otherwise the hash of its content, so redelivery of
// the same timestamped notification collapses in the journal. Returns
// false when the journal already holds the event.
func (e *Engine) Submit(ctx context.Context, ev ir.ChangeEvent) (bool, error) {
	if errs := ev.Validate(); len(errs) > 0 {
		return false, NewInvalidArgumentError(errs)
	}
	if ev.ID == "" {
		if ev.OccurredAt.IsZero() {
			ev.ID = e.opts.ids.Generate()
			ev.OccurredAt = e.opts.now().UTC()
		} else {
			id, err := ir.EventID(&ev)
			if err != nil {
				return false, fmt.Errorf("submit: %w", err)
			}
			ev.ID = id
		}
	}

	if e.opts.journal != nil {
		_, inserted, err := e.opts.journal.WriteEvent(ctx, ev, e.opts.now().UTC())
		if err != nil {
			return false, fmt.Errorf("submit event %s: %w", ev.ID, err)
		}
		if !inserted {
			e.opts.logger.Debug("duplicate event dropped",
				"event_id", ev.ID,
				"kind", string(ev.Kind),
				"entity_id", ev.EntityID)
			return false, nil
		}
	}

	if !e.queue.Enqueue(ev) {
		return false, fmt.Errorf("submit event %s: engine stopped", ev.ID)
	}
	return true, nil
}

// Recover queues every journaled event that was never marked processed.
// Call before Run after a restart. Returns the number of queued events.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	if e.opts.journal == nil {
		return 0, nil
	}
	events, err := e.opts.journal.UnprocessedEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	for i, ev := range events {
		if !e.queue.Enqueue(ev) {
			return i, fmt.Errorf("recover: engine stopped")
		}
	}
	if len(events) > 0 {
		e.opts.logger.Info("recovered unprocessed events", "count", len(events))
	}
	return len(events), nil
}

// Pending returns the number of queued events.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Run starts the event loop.
// Blocks until context is cancelled or Stop() is called and the queue
// has drained.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: a failed event is logged and the loop continues. Events
// that failed on I/O are left unprocessed in the journal so Recover
// retries them; malformed events and conflicts are marked processed.
func (e *Engine) Run(ctx context.Context) error {
	e.opts.logger.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.opts.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed.
			if e.queue.Len() == 0 {
				e.opts.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the event queue, which will cause Run() to return once drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// process applies one queued event.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) process(ctx context.Context, ev ir.ChangeEvent) {
	_, err := e.Apply(ctx, ev)
	switch {
	case err == nil:
	case conflictsOf(err) != nil:
		e.opts.logger.Error("stock conflict, records left unchanged",
			"event_id", ev.ID,
			"entity_id", ev.EntityID,
			"records", len(conflictsOf(err).Conflicts),
			"error", err)
	case IsInvalidArgument(err):
		e.opts.logger.Error("invalid event dropped",
			"event_id", ev.ID,
			"error", err)
	default:
		e.opts.logger.Error("event processing failed",
			"event_id", ev.ID,
			"kind", string(ev.Kind),
			"entity_id", ev.EntityID,
			"error", err)
		return
	}

	if e.opts.journal == nil {
		return
	}
	if err := e.opts.journal.MarkEventProcessed(ctx, ev.ID, e.opts.now().UTC()); err != nil {
		e.opts.logger.Error("mark event processed failed",
			"event_id", ev.ID,
			"error", err)
	}
}
