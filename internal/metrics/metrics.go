package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dbconnector"

var (
	tasksHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Tasks dispatched by the message handler",
	}, []string{"task", "outcome"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Datastore query latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"dialect", "outcome"})

	schedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_query_runs_total",
		Help:      "Scheduled query executions",
	}, []string{"status"})

	channelSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_subscribers",
		Help:      "Connected UI channel subscribers",
	})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveTask(task string, err error) {
	tasksHandled.WithLabelValues(task, outcome(err)).Inc()
}

func ObserveQuery(dialect string, started time.Time, err error) {
	queryDuration.WithLabelValues(dialect, outcome(err)).Observe(time.Since(started).Seconds())
}

// ObserveSchedulerRun counts a finished run; status is ok or failed.
func ObserveSchedulerRun(status string) {
	schedulerRuns.WithLabelValues(status).Inc()
}

func SubscriberConnected() {
	channelSubscribers.Inc()
}

func SubscriberDisconnected() {
	channelSubscribers.Dec()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
