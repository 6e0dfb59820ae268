package monitoring

import (
	"net/http"
	"strconv"

	"meetjoin/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector turns session and coordinator events into metrics. It
// implements ports.EventSink.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Counters
	eventsTotal *prometheus.CounterVec

	// Gauges
	meetingJoined   prometheus.Gauge
	audioVideoUp    prometheus.Gauge
	remoteSurfaces  prometheus.Gauge
	previewActive   prometheus.Gauge
	transformActive *prometheus.GaugeVec

	// Histograms
	joinDuration prometheus.Histogram
}

var _ ports.EventSink = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the meetjoin metrics on a fresh registry
// that also carries the Go and process collectors.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetjoin_events_total",
			Help: "Total number of session and coordinator events",
		}, []string{"event"}),

		meetingJoined: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetjoin_meeting_joined",
			Help: "1 while a meeting is joined",
		}),

		audioVideoUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetjoin_audio_video_started",
			Help: "1 while session media is flowing",
		}),

		remoteSurfaces: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetjoin_remote_surfaces",
			Help: "Number of remote participant surfaces",
		}),

		previewActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetjoin_preview_active",
			Help: "1 while the camera preview is shown",
		}),

		transformActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetjoin_transform_active",
			Help: "1 for the video transform currently applied",
		}, []string{"transform"}),

		joinDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetjoin_join_duration_seconds",
			Help:    "Time from Initialize to a joined meeting",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// RecordEvent implements ports.EventSink.
func (p *PrometheusCollector) RecordEvent(name string, attrs map[string]string) {
	p.eventsTotal.WithLabelValues(name).Inc()

	switch name {
	case ports.EventMeetingJoined:
		p.meetingJoined.Set(1)
		if s, ok := attrs["duration_seconds"]; ok {
			if d, err := strconv.ParseFloat(s, 64); err == nil {
				p.joinDuration.Observe(d)
			}
		}
	case ports.EventMeetingLeft:
		p.meetingJoined.Set(0)
		p.audioVideoUp.Set(0)
		p.remoteSurfaces.Set(0)
		p.transformActive.Reset()
	case ports.EventAudioVideoStarted:
		p.audioVideoUp.Set(1)
	case ports.EventAudioVideoStopped:
		p.audioVideoUp.Set(0)
	case ports.EventSurfaceCreated:
		p.remoteSurfaces.Inc()
	case ports.EventSurfaceRemoved:
		p.remoteSurfaces.Dec()
	case ports.EventPreviewStarted:
		p.previewActive.Set(1)
	case ports.EventPreviewStopped:
		p.previewActive.Set(0)
	case ports.EventTransformStarted:
		p.transformActive.Reset()
		p.transformActive.WithLabelValues(attrs["transform"]).Set(1)
	case ports.EventTransformStopped:
		p.transformActive.Reset()
	}
}

func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
