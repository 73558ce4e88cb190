package metrics

import (
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "filemirror"

// Registry groups the collectors shared by the watcher, event channel and
// mirror. A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	watcherEvents        *prometheus.CounterVec
	watcherErrors        prometheus.Counter
	watcherRestarts      prometheus.Counter
	watcherActiveWatches prometheus.Gauge

	channelQueued      prometheus.Counter
	channelSubscribers prometheus.Gauge

	mirrorEvents         *prometheus.CounterVec
	mirrorRereads        prometheus.Counter
	mirrorRereadFailures prometheus.Counter
	mirrorPublished      prometheus.Counter
	mirrorSnapshotBytes  *prometheus.GaugeVec

	busPublished   *prometheus.CounterVec
	busDropped     *prometheus.CounterVec
	busSubscribers *prometheus.GaugeVec
}

var Default = New()

func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		watcherEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Filesystem events dispatched by the watcher, by classified type.",
		}, []string{"type"}),
		watcherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "errors_total",
			Help:      "Errors reported by the notification backend.",
		}),
		watcherRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "restarts_total",
			Help:      "Restart attempts of the notification backend.",
		}),
		watcherActiveWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "active_watches",
			Help:      "Paths currently registered with the notification backend.",
		}),
		channelQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_queued_total",
			Help:      "Events queued for event channel receivers.",
		}),
		channelSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "subscriptions",
			Help:      "Open event channel subscriptions.",
		}),
		mirrorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "events_observed_total",
			Help:      "Events observed by content mirrors, by classified type.",
		}, []string{"type"}),
		mirrorRereads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "rereads_total",
			Help:      "File re-reads triggered by data change events.",
		}),
		mirrorRereadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "reread_failures_total",
			Help:      "Re-reads that failed and left the last snapshot in place.",
		}),
		mirrorPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "snapshots_published_total",
			Help:      "Snapshots published to mirror slots.",
		}),
		mirrorSnapshotBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "snapshot_bytes",
			Help:      "Size of the currently published snapshot.",
		}, []string{"path"}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "published_total",
			Help:      "Events published on in-process buses.",
		}, []string{"bus", "type"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "dropped_total",
			Help:      "Events dropped because a bus subscriber was full.",
		}, []string{"bus", "type"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "subscribers",
			Help:      "Bus subscribers, split by filtered and unfiltered.",
		}, []string{"bus", "kind"}),
	}
	r.registry.MustRegister(
		r.watcherEvents,
		r.watcherErrors,
		r.watcherRestarts,
		r.watcherActiveWatches,
		r.channelQueued,
		r.channelSubscribers,
		r.mirrorEvents,
		r.mirrorRereads,
		r.mirrorRereadFailures,
		r.mirrorPublished,
		r.mirrorSnapshotBytes,
		r.busPublished,
		r.busDropped,
		r.busSubscribers,
	)
	return r
}

func (r *Registry) IncWatcherEvent(eventType string) {
	if r == nil {
		return
	}
	r.watcherEvents.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (r *Registry) IncWatcherError() {
	if r == nil {
		return
	}
	r.watcherErrors.Inc()
}

func (r *Registry) IncWatcherRestart() {
	if r == nil {
		return
	}
	r.watcherRestarts.Inc()
}

func (r *Registry) SetActiveWatches(count int) {
	if r == nil {
		return
	}
	r.watcherActiveWatches.Set(float64(count))
}

func (r *Registry) IncChannelQueued() {
	if r == nil {
		return
	}
	r.channelQueued.Inc()
}

func (r *Registry) AddChannelSubscriptions(delta int) {
	if r == nil {
		return
	}
	r.channelSubscribers.Add(float64(delta))
}

func (r *Registry) IncMirrorEvent(eventType string) {
	if r == nil {
		return
	}
	r.mirrorEvents.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (r *Registry) IncMirrorReread() {
	if r == nil {
		return
	}
	r.mirrorRereads.Inc()
}

func (r *Registry) IncMirrorRereadFailure() {
	if r == nil {
		return
	}
	r.mirrorRereadFailures.Inc()
}

func (r *Registry) RecordSnapshotPublished(path string, size int) {
	if r == nil {
		return
	}
	r.mirrorPublished.Inc()
	r.mirrorSnapshotBytes.WithLabelValues(path).Set(float64(size))
}

// ForgetSnapshot drops the per-path size series once a mirror closes.
func (r *Registry) ForgetSnapshot(path string) {
	if r == nil {
		return
	}
	r.mirrorSnapshotBytes.DeleteLabelValues(path)
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busPublished.WithLabelValues(bus, normalizeLabel(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busDropped.WithLabelValues(bus, normalizeLabel(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.busSubscribers.WithLabelValues(bus, "filtered").Set(float64(filtered))
	r.busSubscribers.WithLabelValues(bus, "unfiltered").Set(float64(unfiltered))
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// WritePrometheus writes every metric in the text exposition format.
func (r *Registry) WritePrometheus(writer io.Writer) error {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return err
	}
	encoder := expfmt.NewEncoder(writer, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return err
		}
	}
	return nil
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
