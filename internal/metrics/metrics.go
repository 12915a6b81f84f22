// Package metrics exposes graph lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/taskgraph/internal/events"
)

const namespace = "taskgraph"

// Task outcome label values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusHandled   = "handled"
)

// Run outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Collector turns bus events into metrics.
type Collector struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	running  prometheus.Gauge
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Finished task executions by status",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Wall-clock duration of task bodies in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"task"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished graph runs by outcome",
			},
			[]string{"outcome"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_running",
				Help:      "Task bodies currently executing",
			},
		),
	}

	for _, col := range []prometheus.Collector{c.tasks, c.duration, c.runs, c.running} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// DropCounter reports events lost to full subscriber buffers.
type DropCounter interface {
	Dropped(topic string) int
}

// RegisterDrops exposes bus's lost events per topic as
// taskgraph_events_dropped_total, read at scrape time.
func RegisterDrops(reg prometheus.Registerer, bus DropCounter) error {
	for _, topic := range []string{events.TopicGraph, events.TopicTask} {
		topic := topic
		col := prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "events_dropped_total",
				Help:        "Bus events lost because a subscriber buffer was full",
				ConstLabels: prometheus.Labels{"topic": topic},
			},
			func() float64 { return float64(bus.Dropped(topic)) },
		)
		if err := reg.Register(col); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(evt events.Event) {
	switch e := evt.(type) {
	case events.TaskStartedEvent:
		c.running.Inc()
	case events.TaskCompletedEvent:
		c.running.Dec()
		c.tasks.WithLabelValues(StatusCompleted).Inc()
		c.duration.WithLabelValues(e.Name).Observe(e.Duration.Seconds())
	case events.TaskFailedEvent:
		c.running.Dec()
		status := StatusFailed
		if e.Handled {
			status = StatusHandled
		}
		c.tasks.WithLabelValues(status).Inc()
		c.duration.WithLabelValues(e.Name).Observe(e.Duration.Seconds())
	case events.RunFinishedEvent:
		switch {
		case e.Err != nil:
			c.runs.WithLabelValues(OutcomeFailed).Inc()
		case e.Aborted:
			c.runs.WithLabelValues(OutcomeAborted).Inc()
		default:
			c.runs.WithLabelValues(OutcomeSuccess).Inc()
		}
	}
}

// Consume observes events from ch until it is closed or ctx is done.
func (c *Collector) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(evt)
		}
	}
}
