package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsEndpoint = "0.0.0.0:9090"
)

var (
	DialogOpenCounter *prometheus.CounterVec

	DialogSubmitCounter        *prometheus.CounterVec
	DialogSubmitRunTimeSummary *prometheus.SummaryVec

	RefreshCounter        *prometheus.CounterVec
	RefreshRunTimeSummary *prometheus.SummaryVec

	GatewayErrorCount *prometheus.CounterVec

	BackendRequestCounter *prometheus.CounterVec
)

func init() {
	DialogOpenCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmconsole_dialogs_opened",
			Help: "A counter metric to measure the total count of dialogs opened",
		},
		[]string{"dialog"},
	)

	DialogSubmitCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmconsole_dialog_submissions",
			Help: "A counter metric to measure the total count of dialog submissions, by outcome",
		},
		[]string{"dialog", "outcome"},
	)

	DialogSubmitRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "vmconsole_dialog_submission_duration_seconds",
			Help: "A summary metric to measure the total time spent in each dialog submission",
		},
		[]string{"dialog", "outcome"},
	)

	RefreshCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmconsole_resource_refreshes",
			Help: "A counter metric to measure the total count of resource refreshes, successful and failed",
		},
		[]string{"outcome"}, // outcome is updated/removed/failed
	)

	RefreshRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "vmconsole_resource_refresh_duration_seconds",
			Help: "A summary metric to measure the total time spent in each resource refresh",
		},
		[]string{"outcome"},
	)

	GatewayErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmconsole_gateway_error_count",
			Help: "A counter metric to measure the total count of errors returned by the mutation gateway.",
		},
		[]string{"gateway", "kind"}, // kind is rejected/transport
	)

	BackendRequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmconsole_backend_requests",
			Help: "A counter metric to measure the total count of requests served by the backend",
		},
		[]string{"request", "response"}, // response is ok/error
	)
}

// ListenAndServe exposes prometheus metrics as /metrics on the given address,
// MetricsEndpoint is used when addr is empty.
func ListenAndServe(addr string) {
	if addr == "" {
		addr = MetricsEndpoint
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second, // nolint:gomnd // time duration value is clear as is.
		}

		if err := server.ListenAndServe(); err != nil {
			log.Println(err)
		}
	}()
}
