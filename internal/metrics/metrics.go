package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scan engine counters
type Metrics struct {
	// Frame intake
	FramesPulled atomic.Uint64
	FramesStale  atomic.Uint64 // NextFrame returned a frame already seen

	// Decode scheduling
	DecodesDispatched atomic.Uint64
	DecodesSkipped    atomic.Uint64 // tick arrived while a decode was in flight
	DecodesDiscarded  atomic.Uint64 // completed after pause/stop
	DecodeErrors      atomic.Uint64

	// Results
	DetectionsSeen    atomic.Uint64
	ResultsEmitted    atomic.Uint64
	ResultsSuppressed atomic.Uint64 // dropped by the dedup window

	// Camera sessions
	SessionsOpened atomic.Uint64
	SessionsClosed atomic.Uint64
	SessionFaults  atomic.Uint64

	// Latency tracking
	DecodeLatencyMs atomic.Uint64 // last decode duration in ms

	// Loop state
	Status         atomic.Uint64 // types.ScanStatus value
	PreviewClients atomic.Int64

	registry *prometheus.Registry
}

// Snapshot is a point-in-time copy of the counters for status endpoints
type Snapshot struct {
	FramesPulled      uint64 `json:"frames_pulled"`
	FramesStale       uint64 `json:"frames_stale"`
	DecodesDispatched uint64 `json:"decodes_dispatched"`
	DecodesSkipped    uint64 `json:"decodes_skipped"`
	DecodesDiscarded  uint64 `json:"decodes_discarded"`
	DecodeErrors      uint64 `json:"decode_errors"`
	DetectionsSeen    uint64 `json:"detections_seen"`
	ResultsEmitted    uint64 `json:"results_emitted"`
	ResultsSuppressed uint64 `json:"results_suppressed"`
	SessionFaults     uint64 `json:"session_faults"`
	DecodeLatencyMs   uint64 `json:"decode_latency_ms"`
	PreviewClients    int64  `json:"preview_clients"`
}

// New creates a Metrics instance with its own Prometheus registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

type gauge struct {
	name string
	help string
	val  func() float64
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func (m *Metrics) register() {
	gauges := []gauge{
		{"scanner_frames_pulled_total", "Frames pulled from the camera session", counter(&m.FramesPulled)},
		{"scanner_frames_stale_total", "Ticks where no newer frame was available", counter(&m.FramesStale)},
		{"scanner_decodes_dispatched_total", "Decode requests dispatched", counter(&m.DecodesDispatched)},
		{"scanner_decodes_skipped_total", "Ticks skipped because a decode was in flight", counter(&m.DecodesSkipped)},
		{"scanner_decodes_discarded_total", "Decode results discarded after pause or stop", counter(&m.DecodesDiscarded)},
		{"scanner_decode_errors_total", "Decode failures", counter(&m.DecodeErrors)},
		{"scanner_detections_total", "Codes returned by the decoder", counter(&m.DetectionsSeen)},
		{"scanner_results_emitted_total", "Codes delivered to the scan callback", counter(&m.ResultsEmitted)},
		{"scanner_results_suppressed_total", "Codes suppressed by the dedup window", counter(&m.ResultsSuppressed)},
		{"scanner_sessions_opened_total", "Camera sessions opened", counter(&m.SessionsOpened)},
		{"scanner_sessions_closed_total", "Camera sessions closed", counter(&m.SessionsClosed)},
		{"scanner_session_faults_total", "Camera sessions ended by a fault", counter(&m.SessionFaults)},
		{"scanner_decode_latency_ms", "Duration of the last decode in milliseconds", counter(&m.DecodeLatencyMs)},
		{"scanner_status", "Scan loop status (0=idle 1=scanning 2=paused 3=error)", counter(&m.Status)},
		{"scanner_preview_clients", "Connected preview stream clients", func() float64 {
			return float64(m.PreviewClients.Load())
		}},
	}
	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.val,
		))
	}
}

// ObserveDecode records the duration of a completed decode
func (m *Metrics) ObserveDecode(d time.Duration) {
	m.DecodeLatencyMs.Store(uint64(d.Milliseconds()))
}

// Snapshot copies the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesPulled:      m.FramesPulled.Load(),
		FramesStale:       m.FramesStale.Load(),
		DecodesDispatched: m.DecodesDispatched.Load(),
		DecodesSkipped:    m.DecodesSkipped.Load(),
		DecodesDiscarded:  m.DecodesDiscarded.Load(),
		DecodeErrors:      m.DecodeErrors.Load(),
		DetectionsSeen:    m.DetectionsSeen.Load(),
		ResultsEmitted:    m.ResultsEmitted.Load(),
		ResultsSuppressed: m.ResultsSuppressed.Load(),
		SessionFaults:     m.SessionFaults.Load(),
		DecodeLatencyMs:   m.DecodeLatencyMs.Load(),
		PreviewClients:    m.PreviewClients.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server returns an http.Server exposing /metrics on addr
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
