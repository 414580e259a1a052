package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	deductionCounter        *prometheus.CounterVec
	returnCounter           *prometheus.CounterVec
	underAllocationCounter  *prometheus.CounterVec
	listenerEventCounter    *prometheus.CounterVec
	listenerQueueGauge      *prometheus.GaugeVec
	workerRunCounter        *prometheus.CounterVec
	snapshotRecordCounter   *prometheus.CounterVec
	auditWriteFailedCounter prometheus.Counter
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		deductionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_deductions_total",
			Help: "Line-item stock deductions by mutation method",
		}, []string{"branch", "method"})

		returnCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_returns_total",
			Help: "Line-item void compensations",
		}, []string{"branch"})

		underAllocationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_under_allocations_total",
			Help: "Deductions where batches could not cover the requested quantity",
		}, []string{"branch"})

		listenerEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_listener_events_total",
			Help: "Change-stream events by outcome",
		}, []string{"branch", "outcome"})

		listenerQueueGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stock_listener_queue_depth",
			Help: "Buffered change events awaiting the branch consumer",
		}, []string{"branch"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		snapshotRecordCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_snapshot_records_total",
			Help: "Stock records copied into a week slot",
		}, []string{"branch", "week"})

		auditWriteFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_audit_write_failures_total",
			Help: "Activity log writes that were dropped",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			deductionCounter,
			returnCounter,
			underAllocationCounter,
			listenerEventCounter,
			listenerQueueGauge,
			workerRunCounter,
			snapshotRecordCounter,
			auditWriteFailedCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementDeduction(branch, method string) {
	if deductionCounter == nil {
		return
	}
	deductionCounter.WithLabelValues(branch, method).Inc()
}

func IncrementReturn(branch string) {
	if returnCounter == nil {
		return
	}
	returnCounter.WithLabelValues(branch).Inc()
}

func IncrementUnderAllocation(branch string) {
	if underAllocationCounter == nil {
		return
	}
	underAllocationCounter.WithLabelValues(branch).Inc()
}

func IncrementListenerEvent(branch, outcome string) {
	if listenerEventCounter == nil {
		return
	}
	listenerEventCounter.WithLabelValues(branch, outcome).Inc()
}

func SetListenerQueueDepth(branch string, depth int) {
	if listenerQueueGauge == nil {
		return
	}
	listenerQueueGauge.WithLabelValues(branch).Set(float64(depth))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementSnapshotRecord(branch string, week int) {
	if snapshotRecordCounter == nil {
		return
	}
	snapshotRecordCounter.WithLabelValues(branch, strconv.Itoa(week)).Inc()
}

func IncrementAuditWriteFailure() {
	if auditWriteFailedCounter == nil {
		return
	}
	auditWriteFailedCounter.Inc()
}
