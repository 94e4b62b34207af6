// Package metrics exports conversation loop activity as Prometheus metrics.
// Observer implements flow.Observer; pass it through flow.Options.Observer
// (or agent.Options.Loop.Observer) and serve Handler on an HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/flow"
	"github.com/hupe1980/taskmesh/model"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "taskmesh"

// Observer records loop notifications in Prometheus collectors.
type Observer struct {
	TasksTotal        *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	RetriesTotal      prometheus.Counter
	RoundTripsTotal   *prometheus.CounterVec
	RoundTripDuration prometheus.Histogram
	TokensTotal       *prometheus.CounterVec
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	ValidationsTotal  *prometheus.CounterVec
	ViolationsTotal   prometheus.Counter
	TransitionsTotal  *prometheus.CounterVec
}

var _ flow.Observer = (*Observer)(nil)

// NewObserver registers the loop collectors with reg. A nil reg uses the
// default registerer.
func NewObserver(reg prometheus.Registerer, namespace string) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if namespace == "" {
		namespace = DefaultNamespace
	}

	f := promauto.With(reg)

	return &Observer{
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total tasks finished by outcome",
			},
			[]string{"outcome"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		RetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total corrective retries consumed by successful tasks",
			},
		),
		RoundTripsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "round_trips_total",
				Help:      "Total provider round trips by finish reason",
			},
			[]string{"finish", "status"},
		),
		RoundTripDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "round_trip_duration_seconds",
				Help:      "Provider round trip duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total tokens reported by the provider",
			},
			[]string{"kind"},
		),
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool invocation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"tool"},
		),
		ValidationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total output validations by result",
			},
			[]string{"result"},
		),
		ViolationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_violations_total",
				Help:      "Total field violations reported by the output validator",
			},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total loop state transitions by target state",
			},
			[]string{"to"},
		),
	}
}

// OnStateChange implements flow.Observer.
func (o *Observer) OnStateChange(_ string, _, to flow.State) {
	o.TransitionsTotal.WithLabelValues(to.String()).Inc()
}

// OnRoundTrip implements flow.Observer.
func (o *Observer) OnRoundTrip(dur time.Duration, finish model.FinishReason, usage core.TokenUsage, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	reason := string(finish)
	if reason == "" {
		reason = "none"
	}

	o.RoundTripsTotal.WithLabelValues(reason, status).Inc()
	o.RoundTripDuration.Observe(dur.Seconds())
	o.TokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	o.TokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
}

// OnToolCall implements flow.Observer.
func (o *Observer) OnToolCall(rec core.ToolCallRecord) {
	o.ToolCallsTotal.WithLabelValues(rec.Name, rec.Status.String()).Inc()
	o.ToolCallDuration.WithLabelValues(rec.Name).Observe(rec.Duration.Seconds())
}

// OnValidation implements flow.Observer.
func (o *Observer) OnValidation(passed bool, violations int) {
	result := "pass"
	if !passed {
		result = "fail"
	}

	o.ValidationsTotal.WithLabelValues(result).Inc()
	o.ViolationsTotal.Add(float64(violations))
}

// OnTaskDone implements flow.Observer.
func (o *Observer) OnTaskDone(res *core.Result, err error) {
	outcome := Outcome(err)
	o.TasksTotal.WithLabelValues(outcome).Inc()

	if res != nil {
		o.TaskDuration.WithLabelValues(outcome).Observe(res.Duration.Seconds())
		o.RetriesTotal.Add(float64(res.RetryCountUsed))
	}
}

// Outcome maps a task error to a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, core.ErrStreamProtocol):
		return "protocol_error"
	case errors.Is(err, core.ErrTransport):
		return "transport_error"
	case errors.Is(err, core.ErrToolRoundLimit):
		return "tool_round_limit"
	case errors.Is(err, core.ErrRetriesExhausted):
		return "validation_failed"
	default:
		return "failed"
	}
}

// Handler serves the metrics gathered by g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}

	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
