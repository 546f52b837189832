package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipline_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	UploadsInitiatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipline_uploads_initiated_total",
			Help: "Total number of chunked upload sessions initiated",
		},
	)

	UploadChunksReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipline_upload_chunks_received_total",
			Help: "Total number of upload chunks accepted",
		},
	)

	UploadsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_uploads_completed_total",
			Help: "Total number of upload sessions reaching a terminal state",
		},
		[]string{"status"},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clipline_upload_size_bytes",
			Help:    "Size of uploaded videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 12), // 1MB to 2GB
		},
	)

	// Step Metrics
	StepsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_steps_started_total",
			Help: "Total number of pipeline steps started",
		},
		[]string{"step"},
	)

	StepsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_steps_completed_total",
			Help: "Total number of pipeline steps finished",
		},
		[]string{"step", "status"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipline_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"step"},
	)

	StepResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_step_resets_total",
			Help: "Total number of cooperative resets triggered by out-of-order requests",
		},
		[]string{"step"},
	)

	StepsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipline_steps_queue_depth",
			Help: "Number of step tasks waiting in the queue",
		},
	)

	// Oracle Metrics
	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_oracle_requests_total",
			Help: "Total number of content-selection oracle calls",
		},
		[]string{"operation", "status"},
	)

	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipline_oracle_request_duration_seconds",
			Help:    "Content-selection oracle call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"operation"},
	)

	// Transcription Metrics
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_transcriptions_total",
			Help: "Total number of transcription requests",
		},
		[]string{"method", "status"},
	)

	TranscriptionSegmentsSplit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipline_transcription_segments_split_total",
			Help: "Total number of audio segments produced by oversized-audio splitting",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipline_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	// Sweeper Metrics
	SweeperRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipline_sweeper_retries_total",
			Help: "Total number of stalled jobs requeued by the sweeper",
		},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipline_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordStepStarted records a pipeline step start
func RecordStepStarted(step string) {
	StepsStartedTotal.WithLabelValues(step).Inc()
}

// RecordStepCompleted records a pipeline step outcome
func RecordStepCompleted(step, status string, duration float64) {
	StepsCompletedTotal.WithLabelValues(step, status).Inc()
	StepDuration.WithLabelValues(step).Observe(duration)
}

// RecordStepReset records a cooperative reset
func RecordStepReset(step string) {
	StepResetsTotal.WithLabelValues(step).Inc()
}

// RecordOracleRequest records a content-selection oracle call
func RecordOracleRequest(operation, status string, duration float64) {
	OracleRequestsTotal.WithLabelValues(operation, status).Inc()
	OracleRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordTranscription records a transcription request outcome
func RecordTranscription(method, status string) {
	TranscriptionsTotal.WithLabelValues(method, status).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
