package corevk

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional Prometheus instrumentation bundle: GPU frame
// time, staging spill counter, and upload queue depth (SPEC_FULL §2
// domain stack), wired against a caller-supplied registry so embedding
// applications control the /metrics endpoint themselves rather than
// this package reaching for a global default registry.
type Metrics struct {
	GPUFrameSeconds  prometheus.Histogram
	StagingSpills    prometheus.Counter
	UploadQueueDepth prometheus.Gauge
	PendingTranslations prometheus.Gauge
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		GPUFrameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corevk",
			Name:      "gpu_frame_seconds",
			Help:      "GPU-side frame duration measured via timestamp queries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		StagingSpills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corevk",
			Name:      "staging_spill_total",
			Help:      "Number of times a frame's staging arena was exhausted and the write was served from a one-shot spill buffer.",
		}),
		UploadQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corevk",
			Name:      "upload_queue_depth",
			Help:      "Number of upload commands currently buffered in the uploader's queue.",
		}),
		PendingTranslations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corevk",
			Name:      "pending_state_translations",
			Help:      "Number of coalesced layout transitions awaiting the next StateTranslator flush.",
		}),
	}
	registry.MustRegister(m.GPUFrameSeconds, m.StagingSpills, m.UploadQueueDepth, m.PendingTranslations)
	return m
}

// Sample pulls current values from an Uploader/StateTranslator/
// RendererFrame triple into the gauges and the spill counter. Call once
// per frame from the render loop.
func (m *Metrics) Sample(u *Uploader, st *StateTranslator, frame *RendererFrame) {
	m.UploadQueueDepth.Set(float64(u.QueueDepth()))
	m.PendingTranslations.Set(float64(st.Pending()))
	if frame != nil && frame.StagingSpillCount() > 0 {
		m.StagingSpills.Add(float64(frame.StagingSpillCount()))
	}
}
