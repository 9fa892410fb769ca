// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/state"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。它同时实现 executor.Observer、step.Observer、
// checkpoint.Observer 与 database.StatsObserver
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 运行指标
	runsStarted    *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec

	// 检查点指标
	checkpointOps      *prometheus.CounterVec
	checkpointDuration *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	registerer prometheus.Registerer
	namespace  string
	logger     *zap.Logger
}

// NewCollector 创建指标收集器并注册到 prometheus 默认 registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建注册到指定 registry 的指标收集器
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		registerer: reg,
		namespace:  namespace,
		logger:     logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 运行指标
	c.runsStarted = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs started",
		},
		[]string{"graph_id"},
	)

	c.runsFinished = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs that reached a final status",
		},
		[]string{"graph_id", "status"},
	)

	c.runDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run creation to its final status",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600, 86400},
		},
		[]string{"graph_id"},
	)

	c.transitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of transitions taken",
		},
		[]string{"graph_id", "from", "to"},
	)

	c.stepExecutions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step bodies executed",
		},
		[]string{"graph_id", "step_id", "success"},
	)

	c.stepDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step body duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"graph_id", "step_id"},
	)

	// 检查点指标
	c.checkpointOps = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_operations_total",
			Help:      "Total number of checkpoint store operations",
		},
		[]string{"op", "status"},
	)

	c.checkpointDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_operation_duration_seconds",
			Help:      "Checkpoint store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 运行与步骤指标
// =============================================================================

// ObserveRunStarted 实现 executor.Observer
func (c *Collector) ObserveRunStarted(graphID string) {
	c.runsStarted.WithLabelValues(graphID).Inc()
}

// ObserveRunFinished 实现 executor.Observer，暂停不计入
func (c *Collector) ObserveRunFinished(graphID string, status state.Status, d time.Duration) {
	c.runsFinished.WithLabelValues(graphID, string(status)).Inc()
	c.runDuration.WithLabelValues(graphID).Observe(d.Seconds())
}

// ObserveTransition 实现 executor.Observer
func (c *Collector) ObserveTransition(graphID, from, to string) {
	c.transitions.WithLabelValues(graphID, from, to).Inc()
}

// ObserveStep 实现 step.Observer
func (c *Collector) ObserveStep(graphID, stepID string, success bool, d time.Duration) {
	c.stepExecutions.WithLabelValues(graphID, stepID, strconv.FormatBool(success)).Inc()
	c.stepDuration.WithLabelValues(graphID, stepID).Observe(d.Seconds())
}

// =============================================================================
// 💾 检查点与数据库指标
// =============================================================================

// ObserveCheckpoint 实现 checkpoint.Observer
func (c *Collector) ObserveCheckpoint(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.checkpointOps.WithLabelValues(op, status).Inc()
	c.checkpointDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordDBConnections 实现 database.StatsObserver
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// TrackEventDrops 以 CounterFunc 暴露事件总线丢弃的事件数
func (c *Collector) TrackEventDrops(dropped func() int64) {
	promauto.With(c.registerer).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was too slow",
		},
		func() float64 { return float64(dropped()) },
	)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
