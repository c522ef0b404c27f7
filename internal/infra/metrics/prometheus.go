package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surface_scan_jobs_total",
		Help: "Total number of finished scan jobs, by outcome",
	}, []string{"outcome"})

	ScanStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surface_scan_stage_duration_seconds",
		Help:    "Duration of scan pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surface_scan_frames_sampled_total",
		Help: "Total number of frames sampled across all scans",
	})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surface_scan_detections_total",
		Help: "Detections kept after filtering, by surface type",
	}, []string{"surface_type"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "surface_scan_active_workers",
		Help: "Number of workers currently running a scan",
	})

	InFlightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "surface_scan_inflight_jobs",
		Help: "Scan jobs registered and not yet terminal",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surface_scan_retry_total",
		Help: "Total number of scan retries, by failure reason",
	}, []string{"reason"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surface_scan_http_requests_total",
		Help: "HTTP requests served, by route and status code",
	}, []string{"route", "code"})
)
