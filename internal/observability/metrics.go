package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "sessions_open",
		Help:      "Number of sessions currently accepting verifications",
	})

	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "token_validations_total",
		Help:      "Total class token validations by outcome",
	}, []string{"result"})

	ScansVerified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "scans_verified_total",
		Help:      "Total individual verifications that produced a mark",
	})

	ScansRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "scans_rejected_total",
		Help:      "Total individual verifications rejected, by reason",
	}, []string{"reason"})

	CaptureTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "capture_timeouts_total",
		Help:      "Total face capture windows that elapsed without a capture",
	})

	PhotosSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "photos_submitted_total",
		Help:      "Total class photos accepted for reconciliation",
	})

	PhotoFacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "photo_faces_detected_total",
		Help:      "Total faces detected in class photos",
	})

	PhotoFacesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "photo_faces_matched_total",
		Help:      "Total class photo faces matched to an enrolled student",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of class photo reconciliation",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "ledger_writes_total",
		Help:      "Total attendance ledger writes by outcome",
	}, []string{"result"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "queue_depth",
		Help:      "Number of pending photo tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
