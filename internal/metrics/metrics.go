// Package metrics declares the Prometheus collectors of the terrain engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	channelLabel = "channel"
	resultLabel  = "result"
	typeLabel    = "type"
)

var (
	tasksQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_tasks_queued_total",
		Help: "The total number of requests added to the work queue.",
	}, []string{channelLabel})

	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_tasks_completed_total",
		Help: "The total number of requests handled, by result.",
	}, []string{channelLabel, resultLabel})

	tasksInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "terrain_tasks_inflight",
		Help: "The number of requests queued or running.",
	}, []string{channelLabel})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_task_duration_seconds",
		Help:    "Time spent in request handlers.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{channelLabel})

	derivedUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_derived_updates_total",
		Help: "The total number of derived data results applied.",
	}, []string{typeLabel})

	derivedDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_derived_discarded_total",
		Help: "The total number of derived data results dropped because the map was disabled.",
	}, []string{typeLabel})

	groupTilesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_group_tiles_loaded",
		Help: "The number of tiles currently loaded in tile groups.",
	})

	groupLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_group_load_failures_total",
		Help: "The total number of tile loads that failed.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TaskQueued records a request entering the queue.
func TaskQueued(channel string) {
	tasksQueued.With(prometheus.Labels{channelLabel: channel}).Inc()
	tasksInflight.With(prometheus.Labels{channelLabel: channel}).Inc()
}

// TaskCompleted records a finished request and how long its handler ran.
func TaskCompleted(channel string, succeeded bool, elapsed time.Duration) {
	result := "success"
	if !succeeded {
		result = "failure"
	}
	tasksCompleted.With(prometheus.Labels{channelLabel: channel, resultLabel: result}).Inc()
	tasksInflight.With(prometheus.Labels{channelLabel: channel}).Dec()
	taskDuration.With(prometheus.Labels{channelLabel: channel}).Observe(elapsed.Seconds())
}

// DerivedUpdated records an applied derived data result ("delta", "normals", "lightmap").
func DerivedUpdated(kind string) {
	derivedUpdates.With(prometheus.Labels{typeLabel: kind}).Inc()
}

// DerivedDiscarded records a derived data result that was thrown away.
func DerivedDiscarded(kind string) {
	derivedDiscarded.With(prometheus.Labels{typeLabel: kind}).Inc()
}

// TileLoaded adjusts the loaded tile gauge by delta.
func TileLoaded(delta int) {
	groupTilesLoaded.Add(float64(delta))
}

// TileLoadFailed records a failed tile load.
func TileLoadFailed() {
	groupLoadFailures.Inc()
}
