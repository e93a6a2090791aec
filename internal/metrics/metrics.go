// Package metrics exposes appliance metrics on the status listener.
// All metrics are low-cardinality: camera ids are bounded by the config,
// nothing is labeled per session or per segment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SegmentsTotal counts finalized and failed capture segments per camera
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_segments_total",
			Help: "Capture segments by camera and result",
		},
		[]string{"camera", "result"},
	)

	// RecordersActive tracks currently running recorders
	RecordersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_recorders_active",
			Help: "Number of recorders currently attached to cameras",
		},
	)

	// JobsTotal counts dispatcher job outcomes
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_jobs_total",
			Help: "Processing jobs by result (success, error, skip)",
		},
		[]string{"result"},
	)

	// WorkersActive tracks the current dispatcher worker count
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "processing_workers_active",
			Help: "Current processing worker count",
		},
	)

	// QueueDepth tracks pending segments in the priority queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "processing_queue_depth",
			Help: "Segments waiting in the processing queue",
		},
	)

	// GPUTemperature is the last sampled GPU temperature
	GPUTemperature = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpu_temperature_celsius",
			Help: "Last sampled GPU temperature",
		},
	)

	// GPUUtilization is the last sampled GPU utilization
	GPUUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpu_utilization_percent",
			Help: "Last sampled GPU utilization",
		},
	)

	// GPUFreeMemoryGB is the last sampled free GPU memory
	GPUFreeMemoryGB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpu_free_memory_gb",
			Help: "Last sampled free GPU memory in GB",
		},
	)

	// EventsBufferedTotal counts events accepted by the buffer
	EventsBufferedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_buffered_total",
			Help: "Events accepted into the batch buffer by kind",
		},
		[]string{"kind"},
	)

	// EventFlushesTotal counts batch flush outcomes
	EventFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_flushes_total",
			Help: "Event batch flushes by kind and result",
		},
		[]string{"kind", "result"},
	)

	// SyncBatchesTotal counts cloud replication batch outcomes
	SyncBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloud_sync_batches_total",
			Help: "Cloud replication batches by table and result",
		},
		[]string{"table", "result"},
	)

	// SyncedRowsTotal counts rows acknowledged by the cloud
	SyncedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloud_synced_rows_total",
			Help: "Rows acknowledged by the cloud by table",
		},
		[]string{"table"},
	)

	// PrunedFilesTotal counts files removed by the disk watchdog
	PrunedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disk_pruned_files_total",
			Help: "Files removed by the disk watchdog by category",
		},
		[]string{"category"},
	)

	// DiskFreeGB is the last sampled free space on the video volume
	DiskFreeGB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "disk_free_gb",
			Help: "Free space on the storage volume in GB",
		},
	)
)
