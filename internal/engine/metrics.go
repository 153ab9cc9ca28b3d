package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts propagation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Events          *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Conflicts       prometheus.Counter
	Deferred        prometheus.Counter
	MissingEntities prometheus.Counter
	Skipped         prometheus.Counter
}

// NewMetrics creates the engine metrics and registers them with reg.
// reg may be nil, in which case nothing is registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catsync",
			Name:      "events_total",
			Help:      "Change events propagated, by kind.",
		}, []string{"kind"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catsync",
			Name:      "transitions_total",
			Help:      "Record updates produced, by resulting next action.",
		}, []string{"action"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catsync",
			Name:      "conflicts_total",
			Help:      "Records rejected for conflicting stock status.",
		}),
		Deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catsync",
			Name:      "deferred_total",
			Help:      "Record updates deferred because the record was locked.",
		}),
		MissingEntities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catsync",
			Name:      "missing_entities_total",
			Help:      "Entities referenced by events that could not be loaded.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catsync",
			Name:      "skipped_total",
			Help:      "Records left unchanged after collaborator errors.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Transitions, m.Conflicts, m.Deferred, m.MissingEntities, m.Skipped)
	}
	return m
}

// observe records the outcome of one batch.
func (m *Metrics) observe(b *Batch, conflicts int) {
	if m == nil || b == nil {
		return
	}
	if b.Kind != "" {
		m.Events.WithLabelValues(string(b.Kind)).Inc()
	}
	for _, u := range b.Updates {
		m.Transitions.WithLabelValues(string(u.After.NextAction)).Inc()
	}
	m.Conflicts.Add(float64(conflicts))
	m.Deferred.Add(float64(len(b.Deferred)))
	m.MissingEntities.Add(float64(len(b.Missing)))
	m.Skipped.Add(float64(len(b.Skipped)))
}
