// Package observability exposes Prometheus metrics for the speech module driver
// and its transports.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status poll results.
const (
	PollIdle    = "idle"
	PollBusy    = "busy"
	PollTimeout = "timeout"
)

// Request outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeUnresponsive = "unresponsive"
	OutcomeError        = "error"
)

var (
	framesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snr9816_frames_written_total",
		Help: "Total number of frames written to the speech module",
	}, []string{"command"})

	frameBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snr9816_frame_bytes_total",
		Help: "Total number of bytes written to the speech module",
	})

	statusPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snr9816_status_polls_total",
		Help: "Total number of status queries by result",
	}, []string{"result"})

	idleWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snr9816_idle_wait_seconds",
		Help:    "Time spent waiting for the module to report idle before speaking",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	channelFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snr9816_channel_failures_total",
		Help: "Total number of commands rejected because the serial channel was unavailable",
	})

	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snr9816_synthesize_requests_total",
		Help: "Total number of synthesize requests by transport and outcome",
	}, []string{"transport", "outcome"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snr9816_synthesize_latency_seconds",
		Help:    "Synthesize request latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"transport"})
)

// RecordFrame records a frame of size bytes written for command.
func RecordFrame(command string, size int) {
	framesWritten.WithLabelValues(command).Inc()
	frameBytes.Add(float64(size))
}

// RecordStatusPoll records the result of one status query.
func RecordStatusPoll(result string) {
	statusPolls.WithLabelValues(result).Inc()
}

// ObserveIdleWait records how long a speech command waited for idle.
func ObserveIdleWait(waited time.Duration) {
	idleWait.Observe(waited.Seconds())
}

// RecordChannelFailure counts a command rejected by the channel guard.
func RecordChannelFailure() {
	channelFailures.Inc()
}

// RecordRequest records a finished synthesize request.
func RecordRequest(transport, outcome string, started time.Time) {
	requests.WithLabelValues(transport, outcome).Inc()
	requestLatency.WithLabelValues(transport).Observe(time.Since(started).Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
