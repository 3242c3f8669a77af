package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gofibsem",
			Subsystem: "instrument",
			Name:      "commands_total",
			Help:      "Total protocol commands handled.",
		},
		[]string{"op", "status"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gofibsem",
			Subsystem: "instrument",
			Name:      "command_duration_seconds",
			Help:      "Protocol command duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)
	acquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gofibsem",
			Subsystem: "imaging",
			Name:      "acquisitions_total",
			Help:      "Total frames acquired.",
		},
		[]string{"beam"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gofibsem",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"instrument", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gofibsem",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instrument", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commandsTotal, commandDuration, acquisitionsTotal, httpRequests, httpDuration)
	})
}

func RecordCommand(op, status string, duration time.Duration) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(op, status).Inc()
	commandDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

func RecordAcquisition(beam string) {
	RegisterMetrics()
	acquisitionsTotal.WithLabelValues(beam).Inc()
}

func RecordHTTPRequest(instrument, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(instrument, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(instrument, method, path, statusLabel).Observe(duration.Seconds())
}
