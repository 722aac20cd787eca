package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aioscope_fetches_total",
			Help: "Total connector fetches by source and outcome",
		},
		[]string{"source", "status"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aioscope_retries_total",
			Help: "Total retry attempts after transient failures",
		},
		[]string{"source"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aioscope_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	OverviewTriggersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aioscope_overview_triggers_total",
			Help: "Total keywords verified to trigger an AI overview",
		},
	)
)

// RecordFetch updates the fetch counter for one connector call.
func RecordFetch(source string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FetchesTotal.WithLabelValues(source, status).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
