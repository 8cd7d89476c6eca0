// Package metrics collects and exposes Prometheus metrics for the
// quiz engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the coordinator's Metrics interface on top of
// Prometheus.
type Collector struct {
	commands       *prometheus.CounterVec
	answers        *prometheus.CounterVec
	activeSessions prometheus.Gauge
	subscribers    prometheus.Gauge
	eventsDropped  prometheus.Counter
}

// NewCollector builds a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizlive_commands_total",
			Help: "Session commands by operation and outcome.",
		}, []string{"op", "outcome"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizlive_answers_total",
			Help: "Answer submissions by result (correct, incorrect, duplicate, stale).",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quizlive_active_sessions",
			Help: "Quiz sessions currently held in memory.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quizlive_subscribers",
			Help: "Currently registered event subscribers.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizlive_events_dropped_total",
			Help: "Events shed from lagging subscriber buffers.",
		}),
	}

	reg.MustRegister(
		c.commands,
		c.answers,
		c.activeSessions,
		c.subscribers,
		c.eventsDropped,
	)
	return c
}

func (c *Collector) RecordCommand(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.commands.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) RecordAnswer(result string) {
	c.answers.WithLabelValues(result).Inc()
}

func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}

// RecordEventDropped is wired into the event bus drop hook.
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// Handler returns the scrape endpoint handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
