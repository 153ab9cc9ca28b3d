package engine

import (
	"log/slog"
	"time"
)

// DefaultPageSize is the number of records Reevaluate reads per page.
const DefaultPageSize = 500

type options struct {
	logger   *slog.Logger
	metrics  *Metrics
	journal  Journal
	ids      IDGenerator
	now      func() time.Time
	clock    *Clock
	pageSize int
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		clock:    NewClock(),
		pageSize: DefaultPageSize,
	}
}

// Option configures a Propagator or an Engine.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records propagation outcomes. Metrics are off by default.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithJournal persists submitted events so duplicates are dropped and
// unprocessed events survive a restart. Only used by Engine.
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithIDGenerator sets the generator for events submitted without an id
// or timestamp. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithNow sets the wall clock used for journal timestamps.
//
// Use a fixed function in tests for deterministic output.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithClock sets the batch sequence clock.
// Used by Recover to resume numbering after the journal's last entry.
func WithClock(c *Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithPageSize sets the page size of Reevaluate.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}
