// Package metrics provides Prometheus metrics for the transfer server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hermes_active_connections",
			Help: "Number of client connections currently being served",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_connections_total",
			Help: "Total number of accepted connections",
		},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hermes_commands_total",
			Help: "Total number of commands handled",
		},
		[]string{"command", "result"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hermes_command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	bytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_chunk_bytes_received_total",
			Help: "Total chunk payload bytes written to the store",
		},
	)

	bytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_chunk_bytes_sent_total",
			Help: "Total chunk payload bytes read from the store",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ConnectionOpened records an accepted connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	activeConnections.Inc()
}

// ConnectionClosed records the end of a connection.
func ConnectionClosed() {
	activeConnections.Dec()
}

// RecordCommand records one handled command.
func RecordCommand(command string, duration time.Duration, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	commandsTotal.WithLabelValues(command, result).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordBytesReceived adds chunk bytes received from clients.
func RecordBytesReceived(n int64) {
	bytesReceived.Add(float64(n))
}

// RecordBytesSent adds chunk bytes sent to clients.
func RecordBytesSent(n int64) {
	bytesSent.Add(float64(n))
}

// NewServer returns an HTTP server exposing /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
